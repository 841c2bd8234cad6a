package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
	"github.com/xela07ax/chipfleet-control-plane/internal/ratelimit"
)

// MessageService — горячий путь ядра: допуск отправки и учет исходов.
// Эти роуты дергает пайплайн отправки, а не оператор.
type MessageService interface {
	HandleSendAttempt(ctx context.Context, chipID string) (*ratelimit.Decision, error)
	RecordOutcome(ctx context.Context, chipID string, outcome domain.MessageOutcome) error
}

type MessageHandler struct {
	service MessageService
}

func NewMessageHandler(s MessageService) *MessageHandler {
	return &MessageHandler{service: s}
}

// SendAttempt — атомарная проверка-и-инкремент лимитов. Отказ — это
// 429 с retry_at, а не ошибка сервера.
func (h *MessageHandler) SendAttempt(w http.ResponseWriter, r *http.Request) {
	dec, err := h.service.HandleSendAttempt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if !dec.Allowed {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, dec)
}

type OutcomeRequest struct {
	Outcome string `json:"outcome"` // sent | delivered | blocked | errored | responded
}

func (h *MessageHandler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req OutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	err := h.service.RecordOutcome(r.Context(), chi.URLParam(r, "id"), domain.MessageOutcome(req.Outcome))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
