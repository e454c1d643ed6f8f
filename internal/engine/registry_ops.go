package engine

import (
	"context"
	"encoding/json"
)

// Пересылка операций оператора на клиент агента. Все идут через Invoke.

func (r *Registry) HealthCheck(ctx context.Context, agentID string) Result[json.RawMessage] {
	return r.Invoke(ctx, agentID, OpHealthCheck, false, nil, func(ctx context.Context, c *AgentClient) Result[json.RawMessage] {
		return c.HealthCheck(ctx)
	})
}

// DeviceLifecycle: start / stop / restart / pause / resume воркера устройства.
func (r *Registry) DeviceLifecycle(ctx context.Context, agentID, deviceID, action string) Result[json.RawMessage] {
	var (
		op string
		fn func(*AgentClient, context.Context, string) Result[json.RawMessage]
	)
	switch action {
	case "start":
		op, fn = OpDeviceStart, (*AgentClient).StartDevice
	case "stop":
		op, fn = OpDeviceStop, (*AgentClient).StopDevice
	case "restart":
		op, fn = OpDeviceRestart, (*AgentClient).RestartDevice
	case "pause":
		op, fn = OpDevicePause, (*AgentClient).PauseDevice
	case "resume":
		op, fn = OpDeviceResume, (*AgentClient).ResumeDevice
	default:
		return failed[json.RawMessage](&UnsupportedActionError{Action: action})
	}
	return r.Invoke(ctx, agentID, op, false, map[string]string{"device_id": deviceID}, func(ctx context.Context, c *AgentClient) Result[json.RawMessage] {
		return fn(c, ctx, deviceID)
	})
}

func (r *Registry) DeviceStatus(ctx context.Context, agentID, deviceID string) Result[json.RawMessage] {
	return r.Invoke(ctx, agentID, OpDeviceStatus, false, nil, func(ctx context.Context, c *AgentClient) Result[json.RawMessage] {
		return c.DeviceStatus(ctx, deviceID)
	})
}

func (r *Registry) CurrentData(ctx context.Context, agentID, deviceID string) Result[json.RawMessage] {
	return r.Invoke(ctx, agentID, OpCurrentData, false, nil, func(ctx context.Context, c *AgentClient) Result[json.RawMessage] {
		return c.CurrentData(ctx, deviceID)
	})
}

func (r *Registry) WorkerStatusSummary(ctx context.Context, agentID string) Result[json.RawMessage] {
	return r.Invoke(ctx, agentID, OpWorkerStatus, false, nil, func(ctx context.Context, c *AgentClient) Result[json.RawMessage] {
		return c.WorkerStatusSummary(ctx)
	})
}

func (r *Registry) SystemStats(ctx context.Context, agentID string) Result[json.RawMessage] {
	return r.Invoke(ctx, agentID, OpSystemStats, false, nil, func(ctx context.Context, c *AgentClient) Result[json.RawMessage] {
		return c.SystemStats(ctx)
	})
}

func (r *Registry) ReloadConfig(ctx context.Context, agentID string) Result[json.RawMessage] {
	return r.Invoke(ctx, agentID, OpConfigReload, false, nil, func(ctx context.Context, c *AgentClient) Result[json.RawMessage] {
		return c.ReloadConfig(ctx)
	})
}

func (r *Registry) NotifyConfigChange(ctx context.Context, agentID, deviceID string) Result[json.RawMessage] {
	return r.Invoke(ctx, agentID, OpNotifyChange, false, map[string]string{"device_id": deviceID}, func(ctx context.Context, c *AgentClient) Result[json.RawMessage] {
		return c.NotifyConfigChange(ctx, deviceID)
	})
}

func (r *Registry) SyncSettings(ctx context.Context, agentID, deviceID string) Result[json.RawMessage] {
	return r.Invoke(ctx, agentID, OpSettingsSync, false, map[string]string{"device_id": deviceID}, func(ctx context.Context, c *AgentClient) Result[json.RawMessage] {
		return c.SyncSettings(ctx, deviceID)
	})
}

func (r *Registry) DigitalOutput(ctx context.Context, agentID, deviceID, outputID string, cmd DigitalCommand) Result[json.RawMessage] {
	ctx, cmd.RequestID = withCommandID(ctx, cmd.RequestID)
	return r.Invoke(ctx, agentID, OpDigitalOutput, true, cmd, func(ctx context.Context, c *AgentClient) Result[json.RawMessage] {
		return c.DigitalOutput(ctx, deviceID, outputID, cmd)
	})
}

func (r *Registry) AnalogOutput(ctx context.Context, agentID, deviceID, outputID string, cmd AnalogCommand) Result[json.RawMessage] {
	ctx, cmd.RequestID = withCommandID(ctx, cmd.RequestID)
	return r.Invoke(ctx, agentID, OpAnalogOutput, true, cmd, func(ctx context.Context, c *AgentClient) Result[json.RawMessage] {
		return c.AnalogOutput(ctx, deviceID, outputID, cmd)
	})
}

func (r *Registry) PumpControl(ctx context.Context, agentID, deviceID, pumpID string, cmd PumpCommand) Result[json.RawMessage] {
	ctx, cmd.RequestID = withCommandID(ctx, cmd.RequestID)
	return r.Invoke(ctx, agentID, OpPumpControl, true, cmd, func(ctx context.Context, c *AgentClient) Result[json.RawMessage] {
		return c.PumpControl(ctx, deviceID, pumpID, cmd)
	})
}

func (r *Registry) NetworkScan(ctx context.Context, agentID string, req ScanRequest) Result[json.RawMessage] {
	return r.Invoke(ctx, agentID, OpNetworkScan, false, req, func(ctx context.Context, c *AgentClient) Result[json.RawMessage] {
		return c.NetworkScan(ctx, req)
	})
}

// UnsupportedActionError: неизвестное действие жизненного цикла.
type UnsupportedActionError struct {
	Action string
}

func (e *UnsupportedActionError) Error() string {
	return "unsupported device action: " + e.Action
}

// withCommandID фиксирует ID команды в контексте, чтобы агент и аудит видели один и тот же.
func withCommandID(ctx context.Context, id string) (context.Context, string) {
	if id == "" {
		id = RequestIDFrom(ctx)
	}
	return WithRequestID(ctx, id), id
}
