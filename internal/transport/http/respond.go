package http

import (
	"encoding/json"
	"net/http"

	"quiz-attempt-service/internal/domain"
)

type errResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Result carries the graded outcome of an attempt that expired on submit.
	Result *domain.AttemptResult `json:"result,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errResp{Error: code, Message: msg})
}

// statusFor maps an error's kind to its HTTP status.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindPolicyViolation:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindStorage:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeDomainErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		msg = http.StatusText(status)
	}
	writeErr(w, status, domain.CodeOf(err), msg)
}
