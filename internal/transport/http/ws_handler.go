package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quiz-attempt-service/internal/domain"
)

// WSHandler carries autosave and submit for one attempt over a websocket.
type WSHandler struct {
	service  AttemptService
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service AttemptService, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string                `json:"code"`
	Message string                `json:"message"`
	Result  *domain.AttemptResult `json:"result,omitempty"`
}

type savedPayload struct {
	Answers []domain.AnswerView `json:"answers"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: domain.CodeOf(err), Message: err.Error()}}
}

// ServeWS upgrades HTTP requests to websockets for the attempt named by attemptId.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	attemptID := r.URL.Query().Get("attemptId")
	if attemptID == "" {
		writeErr(w, http.StatusBadRequest, "bad_request", "missing attemptId")
		return
	}
	studentID := StudentID(r.Context())

	// Reject foreign or unknown attempts before upgrading.
	view, err := h.service.GetAttempt(r.Context(), studentID, attemptID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})

	// single writer; gorilla connections do not support concurrent writes
	go func() {
		defer close(writerDone)
		broken := false
		for msg := range send {
			if broken {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.String("attempt_id", attemptID), zap.Error(err))
				// keep draining so the reader never blocks on send
				broken = true
			}
		}
	}()

	send <- outboundMessage[any]{Type: "attempt", Payload: view}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		var payload answersRequest
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "invalid payload"}}
				continue
			}
		}

		switch inbound.Type {
		case "answer":
			views, err := h.service.SaveAnswers(r.Context(), studentID, attemptID, payload.Answers)
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			send <- outboundMessage[any]{Type: "saved", Payload: savedPayload{Answers: views}}
		case "submit":
			res, err := h.service.SubmitAttempt(r.Context(), studentID, attemptID, payload.Answers)
			switch {
			case errors.Is(err, domain.ErrAttemptExpired) && res.AttemptID != "":
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{
					Code:    domain.CodeOf(err),
					Message: err.Error(),
					Result:  &res,
				}}
			case err != nil:
				send <- errorMessage(err)
			default:
				send <- outboundMessage[any]{Type: "result", Payload: res}
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "unsupported message type"}}
		}
	}

	close(send)
	<-writerDone
}
