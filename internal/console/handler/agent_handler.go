package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/pulseone-control-plane/internal/console/service"
	"github.com/xela07ax/pulseone-control-plane/internal/domain"
	"go.uber.org/zap"
)

type AgentHandler struct {
	service *service.AgentService
	logger  *zap.Logger
}

func NewAgentHandler(s *service.AgentService, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{service: s, logger: logger.Named("agent-handler")}
}

// List GET /v1/agents
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.service.ListAgents(r.Context())
	if err != nil {
		h.logger.Error("failed to list agents", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "failed to list agents")
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

// Status GET /v1/agents/{id}/status: короткий опрос воркеров, без повторов
func (h *AgentHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// LiveStatus GET /v1/agents/{id}/live-status?kind=collector
func (h *AgentHandler) LiveStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind := domain.AgentKind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", "kind must be collector or gateway")
		return
	}

	snap, err := h.service.LiveStatus(r.Context(), id, kind)
	if err != nil {
		h.logger.Warn("live status read failed", zap.String("agent_id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, "status_cache_unavailable", err.Error())
		return
	}
	if snap == nil {
		// heartbeat нет: агент оффлайн или никогда не запускался
		writeJSON(w, http.StatusOK, domain.LiveStatusSnapshot{AgentID: id, Status: domain.HealthUnknown})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type maintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

// SetMaintenance POST /v1/agents/{id}/maintenance {"enabled": true}
func (h *AgentHandler) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req maintenanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if err := h.service.SetMaintenance(r.Context(), id, req.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Remove DELETE /v1/agents/{id}: останавливает клиент (таймер + пул). Справочник не трогаем.
func (h *AgentHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if !h.service.RemoveAgent(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "not_found", "no cached client for agent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Fleet POST /v1/fleet/{op}: одна операция на всех агентах, отказы изолированы по агентам
func (h *AgentHandler) Fleet(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.FleetOperation(r.Context(), chi.URLParam(r, "op"))
	if err != nil {
		if errors.Is(err, service.ErrUnsupportedOperation) {
			writeError(w, http.StatusBadRequest, "unsupported_operation", err.Error())
			return
		}
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
