package domain

import (
	"encoding/json"
	"time"
)

// LiveStatusSnapshot пишется самим агентом (heartbeat) в ключ {kind}:status:{id}.
type LiveStatusSnapshot struct {
	AgentID   string          `json:"agent_id"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// Статусы, которые видит оператор в консоли.
// circuit_open отделен от offline/error: это защита от перегрузки, а не мертвый агент.
const (
	HealthOnline      = "online"
	HealthOffline     = "offline"
	HealthError       = "error"
	HealthCircuitOpen = "circuit_open"
	HealthUnknown     = "unknown"
)
