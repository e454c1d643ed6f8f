package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: длительность запроса к control API агента (одна сетевая попытка)
	RequestDuration *prometheus.HistogramVec

	// Traffic: вызовы операций с итогом success / failure / circuit_open
	TotalRequests *prometheus.CounterVec

	// Повторы после сетевых сбоев
	Retries *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Пул: активные и свободные сокеты по агенту
	PoolSockets *prometheus.GaugeVec

	// Pub/Sub команды: сколько опубликовано и сколько подписчиков их получили
	CommandsPublished *prometheus.CounterVec

	// Агенты, приславшие heartbeat "online"
	AgentsOnline *prometheus.GaugeVec

	// Fallback: вызовы, ушедшие на клиент по умолчанию из-за ошибки справочника
	LookupFallbacks prometheus.Counter

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_request_duration_seconds",
			Help:    "Latency of agent control API requests.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 1.5, 2.5, 5},
		}, []string{"agent_id", "operation"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agent_requests_total",
			Help: "Agent operations by outcome.",
		}, []string{"agent_id", "operation", "outcome"}),

		Retries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agent_request_retries_total",
			Help: "Retries issued after retryable failures.",
		}, []string{"agent_id", "operation"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_circuit_breaker_state",
			Help: "Current state of the agent circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"agent_id"}),

		PoolSockets: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_pool_sockets",
			Help: "Outbound sockets per agent pool.",
		}, []string{"agent_id", "state"}),

		CommandsPublished: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agent_commands_published_total",
			Help: "Commands published to the broker.",
		}, []string{"variant", "command"}),

		AgentsOnline: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_online",
			Help: "Agents reporting online via heartbeat.",
		}, []string{"kind"}),

		LookupFallbacks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "agent_lookup_fallbacks_total",
			Help: "Directory lookups that degraded to the default client.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agent_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
