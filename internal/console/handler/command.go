package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/pulseone-control-plane/internal/console/service"
	"github.com/xela07ax/pulseone-control-plane/internal/domain"
	"go.uber.org/zap"
)

type CommandHandler struct {
	service *service.AgentService
	logger  *zap.Logger
}

func NewCommandHandler(s *service.AgentService, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{service: s, logger: logger.Named("command-handler")}
}

type commandRequest struct {
	Command domain.CommandName `json:"command"`
	Payload json.RawMessage    `json:"payload,omitempty"`
}

// Send POST /v1/agents/{id}/commands: fire-and-forget через брокер.
// 202: команда опубликована; subscribers=0 значит, что ее никто не получил.
func (h *CommandHandler) Send(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req commandRequest
	if err := decodeBody(r, &req); err != nil || req.Command == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "command is required")
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	res, err := h.service.SendCommand(r.Context(), id, req.Command, payload)
	if err != nil {
		h.logger.Error("command publish failed", zap.String("agent_id", id), zap.String("command", string(req.Command)), zap.Error(err))
		writeError(w, http.StatusBadGateway, "broker_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}
