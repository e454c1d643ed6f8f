package domain

import "time"

// CommandName: команда, публикуемая агенту через брокер.
type CommandName string

const (
	CmdConfigReload  CommandName = "config_reload" // broadcast: config:reload
	CmdTargetReload  CommandName = "target_reload" // broadcast: target:reload
	CmdScan          CommandName = "scan"
	CmdStop          CommandName = "stop"
	CmdRestartWorker CommandName = "restart_worker"
	CmdWrite         CommandName = "write"
	CmdManualExport  CommandName = "manual_export"
)

// CommandEnvelope: тело сообщения в топике команд. Создается на каждый вызов и нигде не хранится.
type CommandEnvelope struct {
	RequestID  string      `json:"request_id"`
	Command    CommandName `json:"command"`
	Payload    any         `json:"payload,omitempty"`
	TargetID   string      `json:"target_id"`
	TargetType AgentKind   `json:"target_type"`
	Timestamp  time.Time   `json:"timestamp"`
}

// DispatchResult: итог публикации. Subscribers, ответ брокера (сколько подписчиков получили сообщение),
// подтверждения от агента нет.
type DispatchResult struct {
	RequestID   string `json:"request_id"`
	Topic       string `json:"topic"`
	Subscribers int64  `json:"subscribers"`
}
