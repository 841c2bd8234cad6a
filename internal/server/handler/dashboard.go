package handler

import (
	"context"
	"net/http"

	"github.com/xela07ax/chipfleet-control-plane/internal/domain"
)

type StatsService interface {
	GetFleetStats(ctx context.Context) (*domain.FleetStats, error)
}

type DashboardHandler struct {
	service StatsService
}

func NewDashboardHandler(s StatsService) *DashboardHandler {
	return &DashboardHandler{service: s}
}

// GetStats — агрегаты парка для главного экрана операторской консоли.
func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetFleetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
