package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestServer(t *testing.T, secret string) (*httptest.Server, *Authenticator, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	catalog := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuiz()), time.Minute)
	service := app.NewAttemptService(catalog, memory.NewAttemptStore(), app.WithClock(clock.Now))
	auth := NewAuthenticator(secret, "quiz-test")

	server := httptest.NewServer(NewRouter(RouterDeps{
		Attempts: NewAttemptHandler(service, nil),
		WS:       NewWSHandler(service, nil),
		Auth:     auth,
		Limiter:  NewRateLimiter(1000, 1000),
	}))
	t.Cleanup(server.Close)
	return server, auth, clock
}

func do(t *testing.T, method, url, student string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if student != "" {
		req.Header.Set("X-Student-ID", student)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestAttemptHTTPFlow(t *testing.T) {
	server, _, _ := newTestServer(t, "")
	base := server.URL + "/api/v1"

	resp, body := do(t, http.MethodPost, base+"/quizzes/quiz-1/attempts", "s1", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", resp.StatusCode, body)
	}
	attemptID := body["attempt"].(map[string]any)["id"].(string)

	resp, body = do(t, http.MethodPost, base+"/quizzes/quiz-1/attempts", "s1", nil)
	if resp.StatusCode != http.StatusOK || body["resumed"] != true {
		t.Fatalf("expected resume with 200, got %d: %v", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPut, base+"/attempts/"+attemptID+"/answers", "s1", map[string]any{
		"answers": []map[string]any{{"questionId": "q1", "selectedOptionIds": []string{"o9"}}},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity || body["error"] != "invalid_option_selection" {
		t.Fatalf("expected 422 invalid_option_selection, got %d: %v", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, base+"/attempts/"+attemptID, "s2", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign attempt must be hidden, got %d: %v", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPost, base+"/attempts/"+attemptID+"/submit", "s1", map[string]any{
		"answers": []map[string]any{
			{"questionId": "q1", "selectedOptionIds": []string{"o2"}},
			{"questionId": "q2", "text": " paris "},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on submit, got %d: %v", resp.StatusCode, body)
	}
	if body["score"].(float64) != 3 || body["status"] != "graded" {
		t.Fatalf("unexpected result: %v", body)
	}

	resp, body = do(t, http.MethodPost, base+"/attempts/"+attemptID+"/submit", "s1", map[string]any{"answers": []any{}})
	if resp.StatusCode != http.StatusConflict || body["error"] != "attempt_not_in_progress" {
		t.Fatalf("expected 409 on double submit, got %d: %v", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPost, base+"/quizzes/quiz-1/attempts", "s1", nil)
	if resp.StatusCode != http.StatusForbidden || body["error"] != "attempt_limit_exceeded" {
		t.Fatalf("expected 403 limit, got %d: %v", resp.StatusCode, body)
	}
}

func TestSubmitAfterExpiryReturnsResult(t *testing.T) {
	server, _, clock := newTestServer(t, "")
	base := server.URL + "/api/v1"

	_, body := do(t, http.MethodPost, base+"/quizzes/quiz-1/attempts", "s1", nil)
	attemptID := body["attempt"].(map[string]any)["id"].(string)

	clock.Advance(11 * time.Minute)
	resp, body := do(t, http.MethodPost, base+"/attempts/"+attemptID+"/submit", "s1", map[string]any{
		"answers": []map[string]any{{"questionId": "q1", "selectedOptionIds": []string{"o2"}}},
	})
	if resp.StatusCode != http.StatusForbidden || body["error"] != "attempt_expired" {
		t.Fatalf("expected 403 attempt_expired, got %d: %v", resp.StatusCode, body)
	}
	result, ok := body["result"].(map[string]any)
	if !ok || result["status"] != "expired" || result["score"].(float64) != 0 {
		t.Fatalf("expected expired result with zero score, got %v", body)
	}
}

func TestJWTAuthentication(t *testing.T) {
	server, auth, _ := newTestServer(t, "s3cret")
	url := server.URL + "/api/v1/quizzes/quiz-1/attempts"

	resp, _ := do(t, http.MethodPost, url, "s1", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("header identity must be ignored when a secret is set, got %d", resp.StatusCode)
	}

	token, err := auth.IssueToken("s1", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req, _ := http.NewRequest(http.MethodPost, url, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 with token, got %d", res.StatusCode)
	}

	other := NewAuthenticator("other", "quiz-test")
	forged, _ := other.IssueToken("s1", time.Minute)
	req, _ = http.NewRequest(http.MethodPost, url, nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", res.StatusCode)
	}
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(1, 2)
	if !l.allow("s1") || !l.allow("s1") {
		t.Fatalf("burst must be allowed")
	}
	if l.allow("s1") {
		t.Fatalf("expected third request to be throttled")
	}
	if !l.allow("s2") {
		t.Fatalf("limits are per student")
	}
}

func TestWebSocketAutosaveAndSubmit(t *testing.T) {
	server, _, _ := newTestServer(t, "")
	_, body := do(t, http.MethodPost, server.URL+"/api/v1/quizzes/quiz-1/attempts", "s1", nil)
	attemptID := body["attempt"].(map[string]any)["id"].(string)

	u := "ws" + server.URL[len("http"):] + "/ws?attemptId=" + attemptID
	header := http.Header{}
	header.Set("X-Student-ID", "s1")
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readNext(conn, t, "attempt")

	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"answers": []map[string]any{{"questionId": "q2", "text": "Paris"}},
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	readNext(conn, t, "saved")

	if err := conn.WriteJSON(map[string]any{"type": "submit"}); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	_, payload := readNext(conn, t, "result")
	if payload["score"].(float64) != 2 {
		t.Fatalf("expected autosaved answer to be graded, got %v", payload)
	}

	if err := conn.WriteJSON(map[string]any{"type": "submit"}); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	_, payload = readNext(conn, t, "error")
	if payload["code"] != "attempt_not_in_progress" {
		t.Fatalf("expected not in progress, got %v", payload)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%v)", expect, msg.Type, msg.Payload)
	}
	return msg.Type, msg.Payload
}

func sampleQuiz() map[string]domain.Quiz {
	limit := 600
	return map[string]domain.Quiz{
		"quiz-1": {
			ID: "quiz-1",
			Policy: domain.QuizPolicy{
				AllowedAttempts:  1,
				TimeLimitSeconds: &limit,
				Published:        true,
			},
			Questions: []domain.Question{
				{
					ID:   "q1",
					Text: "What is 2 + 2?",
					Type: domain.MultipleChoice,
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					Points: 1,
				},
				{
					ID:            "q2",
					Text:          "Capital of France?",
					Type:          domain.ShortAnswer,
					CorrectAnswer: "Paris",
					Points:        2,
				},
			},
		},
	}
}
