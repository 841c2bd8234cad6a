package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
)

// AlertLister Описываем, что нам нужно от хранилища алертов
type AlertLister interface {
	ListAlerts(ctx context.Context, f domain.AlertFilter) ([]*domain.Alert, error)
}

// AlertResolver — резолв через ядро (валидация тега + аудит-след).
type AlertResolver interface {
	ResolveAlert(ctx context.Context, alertID, operator string, tag domain.ResolutionTag, notes string) (*domain.Alert, error)
}

type AlertHandler struct {
	alerts   AlertLister
	resolver AlertResolver
}

func NewAlertHandler(alerts AlertLister, resolver AlertResolver) *AlertHandler {
	return &AlertHandler{alerts: alerts, resolver: resolver}
}

func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := domain.AlertFilter{
		ChipID:   r.URL.Query().Get("chip_id"),
		OnlyOpen: r.URL.Query().Get("status") == "open",
	}

	// ?type= проверяем по каталогу: опечатка — это 400, а не пустой список
	if raw := r.URL.Query().Get("type"); raw != "" {
		t := domain.AlertType(raw)
		if !slices.Contains(domain.AllAlertTypes, t) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown alert type: " + raw})
			return
		}
		filter.Type = t
	}

	list, err := h.alerts.ListAlerts(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type ResolveRequest struct {
	Tag   string `json:"tag"` // corrected | false_positive
	Notes string `json:"notes"`
}

func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireOperator(w, r)
	if !ok {
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	alert, err := h.resolver.ResolveAlert(r.Context(), chi.URLParam(r, "id"),
		operator, domain.ResolutionTag(req.Tag), req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}
