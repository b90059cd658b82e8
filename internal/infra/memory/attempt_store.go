package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"quiz-attempt-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptStore. A single
// mutex serializes every conditional write.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]*domain.Attempt
	// active maps studentID/quizID to the attempt currently in_progress.
	active map[string]string
	// order keeps insertion order for deterministic listing.
	order []string
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]*domain.Attempt),
		active:   make(map[string]string),
	}
}

func activeKey(studentID, quizID string) string {
	return studentID + "\x00" + quizID
}

func (s *AttemptStore) CreateAttempt(_ context.Context, a domain.Attempt, maxAttempts int) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := activeKey(a.StudentID, a.QuizID)
	if id, ok := s.active[key]; ok {
		return cloneAttempt(s.attempts[id]), domain.ErrAttemptAlreadyInProgress
	}
	if _, dup := s.attempts[a.ID]; dup {
		return domain.Attempt{}, fmt.Errorf("%w: attempt id %s already used", domain.ErrStatusConflict, a.ID)
	}

	used := s.countLocked(a.StudentID, a.QuizID, domain.StatusCancelled)
	if used >= maxAttempts {
		return domain.Attempt{}, domain.ErrAttemptLimitExceeded
	}

	stored := cloneAttempt(&a)
	stored.Status = domain.StatusInProgress
	stored.Sequence = used + 1
	stored.Answers = nil
	stored.FinalScore = nil
	stored.SubmittedAt = nil
	s.attempts[stored.ID] = &stored
	s.active[key] = stored.ID
	s.order = append(s.order, stored.ID)
	return cloneAttempt(&stored), nil
}

func (s *AttemptStore) Transition(_ context.Context, attemptID string, t domain.Transition) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if a.Status != t.From {
		return domain.Attempt{}, fmt.Errorf("%w: attempt %s is %s, expected %s", domain.ErrStatusConflict, attemptID, a.Status, t.From)
	}

	a.Status = t.To
	if t.SubmittedAt != nil {
		at := *t.SubmittedAt
		a.SubmittedAt = &at
	}
	if t.FinalScore != nil && a.FinalScore == nil {
		score := *t.FinalScore
		a.FinalScore = &score
	}
	if t.ScoringVersion != "" {
		a.ScoringVersion = t.ScoringVersion
	}
	a.Answers = upsertAnswers(a.Answers, t.Answers)
	if t.To != domain.StatusInProgress {
		delete(s.active, activeKey(a.StudentID, a.QuizID))
	}
	return cloneAttempt(a), nil
}

func (s *AttemptStore) SaveAnswers(_ context.Context, attemptID string, answers []domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if a.Status != domain.StatusInProgress {
		return domain.ErrAttemptNotInProgress
	}
	a.Answers = upsertAnswers(a.Answers, answers)
	return nil
}

func (s *AttemptStore) GetAttempt(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return cloneAttempt(a), nil
}

func (s *AttemptStore) CountAttempts(_ context.Context, studentID, quizID string, excluding ...domain.AttemptStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(studentID, quizID, excluding...), nil
}

func (s *AttemptStore) ListByStatus(_ context.Context, status domain.AttemptStatus, limit int) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Attempt, 0)
	for _, id := range s.order {
		a := s.attempts[id]
		if a.Status != status {
			continue
		}
		out = append(out, cloneAttempt(a))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *AttemptStore) countLocked(studentID, quizID string, excluding ...domain.AttemptStatus) int {
	n := 0
	for _, a := range s.attempts {
		if a.StudentID != studentID || a.QuizID != quizID || hasStatus(excluding, a.Status) {
			continue
		}
		n++
	}
	return n
}

func hasStatus(list []domain.AttemptStatus, s domain.AttemptStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// upsertAnswers replaces answers by question and keeps them sorted by question ID.
func upsertAnswers(stored, updates []domain.Answer) []domain.Answer {
	byQuestion := make(map[string]domain.Answer, len(stored)+len(updates))
	for _, a := range stored {
		byQuestion[a.QuestionID] = a
	}
	for _, a := range updates {
		byQuestion[a.QuestionID] = cloneAnswer(a)
	}
	out := make([]domain.Answer, 0, len(byQuestion))
	for _, a := range byQuestion {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

func cloneAttempt(a *domain.Attempt) domain.Attempt {
	out := *a
	if a.SubmittedAt != nil {
		at := *a.SubmittedAt
		out.SubmittedAt = &at
	}
	if a.FinalScore != nil {
		score := *a.FinalScore
		out.FinalScore = &score
	}
	if a.TimeLimitSeconds != nil {
		limit := *a.TimeLimitSeconds
		out.TimeLimitSeconds = &limit
	}
	if a.Answers != nil {
		out.Answers = make([]domain.Answer, len(a.Answers))
		for i, ans := range a.Answers {
			out.Answers[i] = cloneAnswer(ans)
		}
	}
	return out
}

func cloneAnswer(a domain.Answer) domain.Answer {
	out := a
	if choice, ok := a.Response.(domain.ChoiceResponse); ok {
		out.Response = domain.ChoiceResponse{OptionIDs: append([]string(nil), choice.OptionIDs...)}
	}
	if a.PointsAwarded != nil {
		p := *a.PointsAwarded
		out.PointsAwarded = &p
	}
	if a.Correct != nil {
		c := *a.Correct
		out.Correct = &c
	}
	return out
}
