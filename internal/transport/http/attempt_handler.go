package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// AttemptService is the subset of the lifecycle manager the transport uses.
type AttemptService interface {
	StartAttempt(ctx context.Context, studentID, quizID string) (app.StartResult, error)
	SubmitAttempt(ctx context.Context, studentID, attemptID string, raw []domain.RawAnswer) (domain.AttemptResult, error)
	SaveAnswers(ctx context.Context, studentID, attemptID string, raw []domain.RawAnswer) ([]domain.AnswerView, error)
	CancelAttempt(ctx context.Context, studentID, attemptID string) (domain.Attempt, error)
	GetAttempt(ctx context.Context, studentID, attemptID string) (domain.AttemptView, error)
}

type answersRequest struct {
	Answers []domain.RawAnswer `json:"answers"`
}

type AttemptHandler struct {
	service AttemptService
	log     *zap.Logger
}

func NewAttemptHandler(service AttemptService, log *zap.Logger) *AttemptHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AttemptHandler{service: service, log: log}
}

// Routes mounts the attempt endpoints on r.
func (h *AttemptHandler) Routes(r chi.Router) {
	r.Post("/quizzes/{quizID}/attempts", h.Start)
	r.Route("/attempts/{attemptID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/answers", h.SaveAnswers)
		r.Post("/submit", h.Submit)
		r.Post("/cancel", h.Cancel)
	})
}

func (h *AttemptHandler) Start(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.StartAttempt(r.Context(), StudentID(r.Context()), chi.URLParam(r, "quizID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *AttemptHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetAttempt(r.Context(), StudentID(r.Context()), chi.URLParam(r, "attemptID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *AttemptHandler) SaveAnswers(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	views, err := h.service.SaveAnswers(r.Context(), StudentID(r.Context()), chi.URLParam(r, "attemptID"), req.Answers)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"answers": views})
}

func (h *AttemptHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	res, err := h.service.SubmitAttempt(r.Context(), StudentID(r.Context()), chi.URLParam(r, "attemptID"), req.Answers)
	if errors.Is(err, domain.ErrAttemptExpired) && res.AttemptID != "" {
		writeJSON(w, http.StatusForbidden, errResp{
			Error:   domain.CodeOf(err),
			Message: err.Error(),
			Result:  &res,
		})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AttemptHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.service.CancelAttempt(r.Context(), StudentID(r.Context()), chi.URLParam(r, "attemptID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (h *AttemptHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := statusFor(err); status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeDomainErr(w, err)
}
