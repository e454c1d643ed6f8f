package handler

import (
	"net/http"
	"strconv"

	"github.com/xela07ax/pulseone-control-plane/internal/audit"
	"github.com/xela07ax/pulseone-control-plane/internal/console/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetLogs возвращает журнал команд с поддержкой фильтрации
// GET /v1/audit?agent_id=...&operation=...&request_id=...&limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		AgentID:   q.Get("agent_id"),
		Operation: q.Get("operation"),
		RequestID: q.Get("request_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a number")
			return
		}
		f.Limit = n
	}

	logs, err := h.service.FetchLogs(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to fetch audit logs")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
