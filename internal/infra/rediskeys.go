package infra

import (
	"fmt"

	"github.com/xela07ax/pulseone-control-plane/internal/domain"
)

const (
	// RedisNamespace Базовый префикс для служебных данных control plane в Redis
	RedisNamespace = "pulseone"
)

// Ключи для Sets (состояние)
const (
	RedisKeyMaintenanceAgents     = RedisNamespace + ":agents:maintenance_set"
	RedisKeyLockWarmupMaintenance = RedisNamespace + ":lock:warmup_maintenance"
)

// Каналы Pub/Sub (события control plane)
const (
	RedisChanMaintenance = RedisNamespace + ":agents:maintenance-signal"
)

// Broadcast: общий топик, на который подписан каждый агент своего типа.
// Значения только из констант ниже: строку с произвольным именем топика сюда не передать.
type Broadcast string

const (
	BroadcastConfigReload Broadcast = "config:reload"
	BroadcastTargetReload Broadcast = "target:reload"
)

// broadcastCommands: команды, которые уходят не конкретному агенту, а всем сразу.
var broadcastCommands = map[domain.CommandName]Broadcast{
	domain.CmdConfigReload: BroadcastConfigReload,
	domain.CmdTargetReload: BroadcastTargetReload,
}

// BroadcastFor сообщает, является ли команда широковещательной, и в какой топик она идет.
func BroadcastFor(cmd domain.CommandName) (Broadcast, bool) {
	b, ok := broadcastCommands[cmd]
	return b, ok
}

// TopicVariant: единственные два варианта топика команд.
type TopicVariant int

const (
	TopicBroadcast TopicVariant = iota
	TopicTargeted
)

func (v TopicVariant) String() string {
	if v == TopicBroadcast {
		return "broadcast"
	}
	return "targeted"
}

// Topic: имя канала команд. Конструируется только через BroadcastTopic/TargetedTopic.
type Topic struct {
	variant TopicVariant
	name    string
}

func (t Topic) Variant() TopicVariant { return t.variant }
func (t Topic) String() string        { return t.name }

func BroadcastTopic(b Broadcast) Topic {
	return Topic{variant: TopicBroadcast, name: string(b)}
}

// TargetedTopic строит cmd:{kind}:{id}[:{command}]. Пустой sub: канал агента без суффикса.
func TargetedTopic(kind domain.AgentKind, id string, sub domain.CommandName) Topic {
	name := fmt.Sprintf("cmd:%s:%s", kind, id)
	if sub != "" {
		name += ":" + string(sub)
	}
	return Topic{variant: TopicTargeted, name: name}
}

// StatusKey — ключ live-статуса, который агент пишет сам: {kind}:status:{id}
func StatusKey(kind domain.AgentKind, id string) string {
	return fmt.Sprintf("%s:status:%s", kind, id)
}

// StatusChannel — канал heartbeat-уведомлений агентов одного типа: {kind}:status
func StatusChannel(kind domain.AgentKind) string {
	return fmt.Sprintf("%s:status", kind)
}
