package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// Имена операций: метки метрик, журнал вызовов и аудит.
const (
	OpHealthCheck   = "health_check"
	OpHealthProbe   = "health_probe"
	OpDeviceStart   = "device_start"
	OpDeviceStop    = "device_stop"
	OpDeviceRestart = "device_restart"
	OpDevicePause   = "device_pause"
	OpDeviceResume  = "device_resume"
	OpDeviceStatus  = "device_status"
	OpCurrentData   = "current_data"
	OpWorkerStatus  = "worker_status"
	OpSystemStats   = "system_stats"
	OpConfigReload  = "config_reload"
	OpNotifyChange  = "notify_change"
	OpSettingsSync  = "settings_sync"
	OpDigitalOutput = "digital_output"
	OpAnalogOutput  = "analog_output"
	OpPumpControl   = "pump_control"
	OpNetworkScan   = "network_scan"
)

// Пути control API агента.
const (
	pathHealth       = "/api/health"
	pathWorkerStatus = "/api/workers/status"
	pathSystemStats  = "/api/system/stats"
	pathReloadConfig = "/api/system/reload-config"
	pathNetworkScan  = "/api/network/scan"
)

func devicePath(deviceID, suffix string) string {
	return "/api/devices/" + url.PathEscape(deviceID) + suffix
}

func outputPath(deviceID, class, outputID string) string {
	return devicePath(deviceID, "/"+class+"/"+url.PathEscape(outputID)+"/control")
}

// DigitalCommand: дискретный выход (реле, клапан).
type DigitalCommand struct {
	Enable    bool   `json:"enable"`
	Action    string `json:"action,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// AnalogCommand: аналоговая уставка.
type AnalogCommand struct {
	Value     float64 `json:"value"`
	Unit      string  `json:"unit,omitempty"`
	RequestID string  `json:"request_id,omitempty"`
}

// PumpCommand: пуск/останов насоса, опционально со скоростью в процентах.
type PumpCommand struct {
	Enable    bool     `json:"enable"`
	Speed     *float64 `json:"speed,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// ScanRequest: сканирование сети на стороне агента. TimeoutMs в миллисекундах.
type ScanRequest struct {
	Protocol  string `json:"protocol"`
	Range     string `json:"range,omitempty"`
	TimeoutMs int    `json:"timeout,omitempty"`
}

// HealthCheck по запросу оператора. Это операторский трафик, он идет через основной breaker.
func (c *AgentClient) HealthCheck(ctx context.Context) Result[json.RawMessage] {
	return c.call(ctx, OpHealthCheck, http.MethodGet, pathHealth, nil, Fast())
}

func (c *AgentClient) StartDevice(ctx context.Context, deviceID string) Result[json.RawMessage] {
	return c.call(ctx, OpDeviceStart, http.MethodPost, devicePath(deviceID, "/worker/start"), nil)
}

func (c *AgentClient) StopDevice(ctx context.Context, deviceID string) Result[json.RawMessage] {
	return c.call(ctx, OpDeviceStop, http.MethodPost, devicePath(deviceID, "/worker/stop"), nil)
}

func (c *AgentClient) RestartDevice(ctx context.Context, deviceID string) Result[json.RawMessage] {
	return c.call(ctx, OpDeviceRestart, http.MethodPost, devicePath(deviceID, "/worker/restart"), nil)
}

func (c *AgentClient) PauseDevice(ctx context.Context, deviceID string) Result[json.RawMessage] {
	return c.call(ctx, OpDevicePause, http.MethodPost, devicePath(deviceID, "/worker/pause"), nil)
}

func (c *AgentClient) ResumeDevice(ctx context.Context, deviceID string) Result[json.RawMessage] {
	return c.call(ctx, OpDeviceResume, http.MethodPost, devicePath(deviceID, "/worker/resume"), nil)
}

func (c *AgentClient) DeviceStatus(ctx context.Context, deviceID string) Result[json.RawMessage] {
	return c.call(ctx, OpDeviceStatus, http.MethodGet, devicePath(deviceID, "/status"), nil, c.idempotent())
}

func (c *AgentClient) CurrentData(ctx context.Context, deviceID string) Result[json.RawMessage] {
	return c.call(ctx, OpCurrentData, http.MethodGet, devicePath(deviceID, "/data"), nil, c.idempotent())
}

// WorkerStatusSummary опрашивается дашбордом с коротким таймаутом и без повторов.
func (c *AgentClient) WorkerStatusSummary(ctx context.Context) Result[json.RawMessage] {
	return c.call(ctx, OpWorkerStatus, http.MethodGet, pathWorkerStatus, nil, Fast())
}

func (c *AgentClient) SystemStats(ctx context.Context) Result[json.RawMessage] {
	return c.call(ctx, OpSystemStats, http.MethodGet, pathSystemStats, nil, c.idempotent())
}

func (c *AgentClient) ReloadConfig(ctx context.Context) Result[json.RawMessage] {
	return c.call(ctx, OpConfigReload, http.MethodPost, pathReloadConfig, nil, c.idempotent())
}

// NotifyConfigChange: агент перечитывает настройки устройства.
func (c *AgentClient) NotifyConfigChange(ctx context.Context, deviceID string) Result[json.RawMessage] {
	return c.call(ctx, OpNotifyChange, http.MethodPost, devicePath(deviceID, "/settings/reload"), nil, c.idempotent())
}

// SyncSettings отправляет настройки по команде оператора и не ждет окончания cooldown.
// ForceProbe разрешает пробу сразу, история отказов остается.
func (c *AgentClient) SyncSettings(ctx context.Context, deviceID string) Result[json.RawMessage] {
	c.breaker.ForceProbe()
	return c.call(ctx, OpSettingsSync, http.MethodPost, devicePath(deviceID, "/settings/reload"), nil, c.idempotent())
}

func (c *AgentClient) DigitalOutput(ctx context.Context, deviceID, outputID string, cmd DigitalCommand) Result[json.RawMessage] {
	return c.call(ctx, OpDigitalOutput, http.MethodPost, outputPath(deviceID, "digital", outputID), cmd)
}

func (c *AgentClient) AnalogOutput(ctx context.Context, deviceID, outputID string, cmd AnalogCommand) Result[json.RawMessage] {
	return c.call(ctx, OpAnalogOutput, http.MethodPost, outputPath(deviceID, "analog", outputID), cmd)
}

func (c *AgentClient) PumpControl(ctx context.Context, deviceID, pumpID string, cmd PumpCommand) Result[json.RawMessage] {
	return c.call(ctx, OpPumpControl, http.MethodPost, outputPath(deviceID, "pump", pumpID), cmd)
}

// NetworkScan ждет столько, сколько агент сканирует, плюс обычный таймаут на ответ.
func (c *AgentClient) NetworkScan(ctx context.Context, req ScanRequest) Result[json.RawMessage] {
	timeout := c.cfg.Timeout + time.Duration(req.TimeoutMs)*time.Millisecond
	return c.call(ctx, OpNetworkScan, http.MethodPost, pathNetworkScan, req, WithTimeout(timeout))
}
