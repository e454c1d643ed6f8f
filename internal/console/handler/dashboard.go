package handler

import (
	"net/http"

	"github.com/xela07ax/pulseone-control-plane/internal/domain"
)

// DashboardService Описываем, что нам нужно от сервиса
type DashboardService interface {
	FleetSummary() domain.FleetSummary
}

type DashboardHandler struct {
	service DashboardService
}

func NewDashboardHandler(s DashboardService) *DashboardHandler {
	return &DashboardHandler{service: s}
}

// GetSummary GET /v1/fleet/summary
func (h *DashboardHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.FleetSummary())
}
