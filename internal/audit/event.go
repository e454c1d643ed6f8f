package audit

import "time"

// Каналы доставки команды агенту
const (
	ChannelSync   = "sync"   // запрос/ответ к control API
	ChannelPubSub = "pubsub" // fire-and-forget через брокер
)

// Итоги операции
const (
	StatusSuccess     = "SUCCESS"
	StatusFailed      = "FAILED"
	StatusCircuitOpen = "CIRCUIT_OPEN"
	StatusPublished   = "PUBLISHED"
	StatusRefused     = "REFUSED" // например, агент на обслуживании
)

type AuditEvent struct {
	ID        string `json:"id"`         // UUID события
	RequestID string `json:"request_id"` // Сквозной ID запроса консоли / команды
	AgentID   string `json:"agent_id"`   // Кому
	AgentKind string `json:"agent_kind"` // collector | gateway
	Operation string `json:"operation"`  // Что (device_start, scan, config_reload...)
	Channel   string `json:"channel"`    // sync | pubsub
	Target    string `json:"target"`     // Путь API или топик брокера
	Payload   any    `json:"payload"`    // С какими данными
	Actor     string `json:"actor"`      // Оператор (user_id из токена)

	// Результат
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error"`
}

// Filter: выборка журнала для консоли. Пустые поля не фильтруют.
type Filter struct {
	AgentID   string
	Operation string
	RequestID string
	Limit     int
}
