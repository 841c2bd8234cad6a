package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
	"github.com/xela07ax/chipfleet-control-plane/internal/lifecycle"
	"github.com/xela07ax/chipfleet-control-plane/internal/ratelimit"
)

// ChipReader Описываем, что нам нужно от хранилища чипов
type ChipReader interface {
	LoadChip(ctx context.Context, id string) (*domain.ChipIdentity, error)
	ListChips(ctx context.Context, filter domain.ChipFilter) ([]*domain.ChipIdentity, error)
}

// LifecycleService — одиночные операторские действия над чипом.
type LifecycleService interface {
	PauseChip(ctx context.Context, id, operator string) lifecycle.Outcome
	ResumeChip(ctx context.Context, id, operator string) lifecycle.Outcome
	PromoteChip(ctx context.Context, id, operator string) lifecycle.Outcome
}

// TrustService — read-only срез ядра для API.
type TrustService interface {
	GetTrustSummary(ctx context.Context, chipID string) (float64, domain.TrustLevel, error)
	GetRateLimitStatus(ctx context.Context, chipID string) (*ratelimit.Status, error)
}

type ChipHandler struct {
	chips     ChipReader
	lifecycle LifecycleService
	trust     TrustService
}

func NewChipHandler(chips ChipReader, lc LifecycleService, trust TrustService) *ChipHandler {
	return &ChipHandler{chips: chips, lifecycle: lc, trust: trust}
}

func (h *ChipHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter domain.ChipFilter

	// ?status=warming,active — фильтр по статусам через запятую
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Status = append(filter.Status, domain.ChipStatus(strings.TrimSpace(s)))
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}

	chips, err := h.chips.ListChips(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chips)
}

func (h *ChipHandler) Get(w http.ResponseWriter, r *http.Request) {
	chip, err := h.chips.LoadChip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chip)
}

func (h *ChipHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.applyAction(w, r, h.lifecycle.PauseChip)
}

func (h *ChipHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.applyAction(w, r, h.lifecycle.ResumeChip)
}

func (h *ChipHandler) Promote(w http.ResponseWriter, r *http.Request) {
	h.applyAction(w, r, h.lifecycle.PromoteChip)
}

func (h *ChipHandler) applyAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id, operator string) lifecycle.Outcome) {
	operator, ok := requireOperator(w, r)
	if !ok {
		return
	}

	out := fn(r.Context(), chi.URLParam(r, "id"), operator)
	writeJSON(w, statusForOutcome(out), out)
}

// statusForOutcome — HTTP-код из исхода одиночного действия. Исход несет
// причину строкой, поэтому маппинг по тексту доменных ошибок.
func statusForOutcome(out lifecycle.Outcome) int {
	if out.Result != lifecycle.ResultFailed {
		return http.StatusOK
	}
	switch {
	case strings.Contains(out.Reason, domain.ErrChipNotFound.Error()):
		return http.StatusNotFound
	case strings.Contains(out.Reason, domain.ErrTerminalStatus.Error()):
		return http.StatusConflict
	}
	return http.StatusServiceUnavailable
}

func (h *ChipHandler) Trust(w http.ResponseWriter, r *http.Request) {
	score, level, err := h.trust.GetTrustSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"score": score,
		"level": level,
	})
}

func (h *ChipHandler) RateLimit(w http.ResponseWriter, r *http.Request) {
	status, err := h.trust.GetRateLimitStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
