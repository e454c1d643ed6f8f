package domain

import "time"

// CallOutcome: одна запись ограниченного журнала метрик клиента.
type CallOutcome struct {
	Timestamp  time.Time     `json:"timestamp"`
	Operation  string        `json:"operation"`
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	ErrorCode  string        `json:"error_code,omitempty"`
}

// PoolStats: мгновенный снимок пула соединений.
type PoolStats struct {
	MaxSockets     int `json:"max_sockets"`
	MaxFreeSockets int `json:"max_free_sockets"`
	Active         int `json:"active"`
	Free           int `json:"free"`
}

// ClientStats: сводка по одному закэшированному клиенту агента (для консоли).
type ClientStats struct {
	Endpoint        AgentEndpoint `json:"endpoint"`
	Breaker         BreakerInfo   `json:"breaker"`
	Pool            PoolStats     `json:"pool"`
	IsHealthy       bool          `json:"is_healthy"`
	LastHealthCheck time.Time     `json:"last_health_check"`
	RecentCalls     []CallOutcome `json:"recent_calls"`
	Fallback        bool          `json:"fallback"`
}

// BreakerInfo: публичное представление BreakerState.
type BreakerInfo struct {
	State         string    `json:"state"`
	FailureCount  int       `json:"failure_count"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`
	LastFailureAt time.Time `json:"last_failure_at,omitempty"`
}

// FleetSummary: агрегированный дашборд по всем клиентам.
type FleetSummary struct {
	Total       int `json:"total"`
	Healthy     int `json:"healthy"`
	CircuitOpen int `json:"circuit_open"`
	Unhealthy   int `json:"unhealthy"`
}
