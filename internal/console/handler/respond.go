package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/pulseone-control-plane/internal/connectors"
	"github.com/xela07ax/pulseone-control-plane/internal/engine"
)

// ErrorResponse: единый формат ошибки Console API.
type ErrorResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message,omitempty"`
	AgentStatus  int    `json:"agent_status,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

// ResultResponse: ответ агента, проброшенный консолью как есть.
type ResultResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}

// writeResult: CircuitOpen отдаем как 503 circuit_open, а не как ошибку агента. Консоль показывает его отдельно.
func writeResult(w http.ResponseWriter, res engine.Result[json.RawMessage]) {
	if res.OK() {
		writeJSON(w, http.StatusOK, ResultResponse{Success: true, Data: res.Value})
		return
	}
	if res.CircuitOpen {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "circuit_open", Message: res.Err.Error()})
		return
	}
	writeEngineError(w, res.Err)
}

func writeEngineError(w http.ResponseWriter, err error) {
	var (
		tErr *connectors.ThrottleError
		pErr *connectors.ProtocolError
		cErr *connectors.ConnectivityError
		uErr *engine.UnsupportedActionError
	)
	switch {
	case errors.Is(err, engine.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, "circuit_open", err.Error())
	case errors.Is(err, engine.ErrMaintenance):
		writeError(w, http.StatusLocked, "maintenance", err.Error())
	case errors.Is(err, engine.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	case errors.As(err, &uErr):
		writeError(w, http.StatusBadRequest, "unsupported_action", err.Error())
	case errors.As(err, &tErr):
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error: "agent_throttled", Message: err.Error(), RetryAfterMs: tErr.RetryAfter.Milliseconds(),
		})
	case errors.As(err, &pErr):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "agent_error", Message: pErr.Body, AgentStatus: pErr.StatusCode})
	case errors.As(err, &cErr):
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "agent_timeout", err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "agent_unreachable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// decodeBody: пустое тело допустимо, если dst уже заполнен значениями по умолчанию.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
