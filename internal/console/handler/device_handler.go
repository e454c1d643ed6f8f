package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/pulseone-control-plane/internal/engine"
)

// DeviceHandler: синхронные операции над устройствами агента через реестр клиентов.
type DeviceHandler struct {
	registry *engine.Registry
}

func NewDeviceHandler(registry *engine.Registry) *DeviceHandler {
	return &DeviceHandler{registry: registry}
}

// Lifecycle POST /v1/agents/{id}/devices/{deviceID}/{action}
func (h *DeviceHandler) Lifecycle(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.registry.DeviceLifecycle(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "deviceID"), chi.URLParam(r, "action")))
}

// Status GET /v1/agents/{id}/devices/{deviceID}/status
func (h *DeviceHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.registry.DeviceStatus(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "deviceID")))
}

// Data GET /v1/agents/{id}/devices/{deviceID}/data
func (h *DeviceHandler) Data(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.registry.CurrentData(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "deviceID")))
}

// Output POST /v1/agents/{id}/devices/{deviceID}/{class}/{outputID}, class: digital | analog | pump
func (h *DeviceHandler) Output(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, deviceID, outputID := chi.URLParam(r, "id"), chi.URLParam(r, "deviceID"), chi.URLParam(r, "outputID")

	switch chi.URLParam(r, "class") {
	case "digital":
		var cmd engine.DigitalCommand
		if err := decodeBody(r, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		writeResult(w, h.registry.DigitalOutput(ctx, id, deviceID, outputID, cmd))
	case "analog":
		var cmd engine.AnalogCommand
		if err := decodeBody(r, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		writeResult(w, h.registry.AnalogOutput(ctx, id, deviceID, outputID, cmd))
	case "pump":
		var cmd engine.PumpCommand
		if err := decodeBody(r, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		if cmd.Speed != nil && (*cmd.Speed < 0 || *cmd.Speed > 100) {
			writeError(w, http.StatusBadRequest, "bad_request", "speed must be within 0..100")
			return
		}
		writeResult(w, h.registry.PumpControl(ctx, id, deviceID, outputID, cmd))
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown output class")
	}
}

// ReloadConfig POST /v1/agents/{id}/config/reload
func (h *DeviceHandler) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.registry.ReloadConfig(r.Context(), chi.URLParam(r, "id")))
}

type settingsSyncRequest struct {
	DeviceID string `json:"device_id"`
}

// SettingsSync POST /v1/agents/{id}/settings-sync: не ждет cooldown breaker'а
func (h *DeviceHandler) SettingsSync(w http.ResponseWriter, r *http.Request) {
	var req settingsSyncRequest
	if err := decodeBody(r, &req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "device_id is required")
		return
	}
	writeResult(w, h.registry.SyncSettings(r.Context(), chi.URLParam(r, "id"), req.DeviceID))
}

// Scan POST /v1/agents/{id}/scan
func (h *DeviceHandler) Scan(w http.ResponseWriter, r *http.Request) {
	req := engine.ScanRequest{Protocol: "modbus_tcp", TimeoutMs: 5000}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeResult(w, h.registry.NetworkScan(r.Context(), chi.URLParam(r, "id"), req))
}
