package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError транслирует доменные ошибки в HTTP-коды. Неопознанная
// ошибка — 500 без деталей, подробности остаются в логах.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrChipNotFound), errors.Is(err, domain.ErrAlertNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidAction), errors.Is(err, domain.ErrEmptySelection):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrTerminalStatus):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrConfirmationExpired):
		writeJSON(w, http.StatusGone, errorBody{Error: err.Error()})
	case domain.IsRetryable(err):
		// Временная недоступность хранилища: клиенту есть смысл повторить
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "storage unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// operatorFrom достает оператора из заголовка. Аутентификация — забота
// внешнего периметра, здесь только атрибуция действий.
func operatorFrom(r *http.Request) string {
	return r.Header.Get("X-Operator-ID")
}

func requireOperator(w http.ResponseWriter, r *http.Request) (string, bool) {
	op := operatorFrom(r)
	if op == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "X-Operator-ID header is required"})
		return "", false
	}
	return op, true
}
