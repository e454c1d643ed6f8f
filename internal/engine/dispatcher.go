package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/pulseone-control-plane/internal/audit"
	"github.com/xela07ax/pulseone-control-plane/internal/domain"
	"github.com/xela07ax/pulseone-control-plane/internal/infra"
	"go.uber.org/zap"
)

// Broker: то, что диспетчеру нужно от Redis. *redis.Client реализует его как есть.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// EndpointResolver: откуда брать тип агента. Registry деградирует на клиент по умолчанию.
type EndpointResolver interface {
	Endpoint(ctx context.Context, id string) (domain.AgentEndpoint, bool, error)
}

type DispatcherOptions struct {
	// PerCommandTopics: публиковать в cmd:{kind}:{id}:{command} вместо общего канала агента.
	PerCommandTopics bool
	Clock            func() time.Time
}

// CommandDispatcher: асинхронные команды через брокер и чтение live-статуса из кэша.
// Доставка at-most-once: подтверждения от агента нет, порядок между вызывающими не гарантирован.
type CommandDispatcher struct {
	broker   Broker
	resolver EndpointResolver
	auditor  audit.Auditor
	metrics  *Metrics
	logger   *zap.Logger
	opts     DispatcherOptions
}

func NewCommandDispatcher(broker Broker, resolver EndpointResolver, auditor audit.Auditor, metrics *Metrics, logger *zap.Logger, opts DispatcherOptions) *CommandDispatcher {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &CommandDispatcher{
		broker:   broker,
		resolver: resolver,
		auditor:  auditor,
		metrics:  metrics,
		logger:   logger.Named("dispatcher"),
		opts:     opts,
	}
}

// Topic выбирает канал. Широковещательные команды идут в общий топик, остальные адресно агенту.
func (d *CommandDispatcher) Topic(kind domain.AgentKind, targetID string, cmd domain.CommandName) infra.Topic {
	if b, ok := infra.BroadcastFor(cmd); ok {
		return infra.BroadcastTopic(b)
	}
	var sub domain.CommandName
	if d.opts.PerCommandTopics {
		sub = cmd
	}
	return infra.TargetedTopic(kind, targetID, sub)
}

// SendCommand публикует конверт и сразу возвращает число подписчиков, не дожидаясь реакции агента.
func (d *CommandDispatcher) SendCommand(ctx context.Context, targetID string, cmd domain.CommandName, payload any) (domain.DispatchResult, error) {
	if cmd == "" {
		return domain.DispatchResult{}, errors.New("dispatcher: command is required")
	}

	ep, isFallback, err := d.resolver.Endpoint(ctx, targetID)
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("dispatcher: resolve %s: %w", targetID, err)
	}
	kind := ep.Kind
	if !kind.Valid() {
		kind = domain.KindCollector
	}
	if isFallback {
		d.logger.Warn("target not in directory, routing by default kind",
			zap.String("target_id", targetID), zap.String("kind", string(kind)))
	}

	env := domain.CommandEnvelope{
		RequestID:  RequestIDFrom(ctx),
		Command:    cmd,
		Payload:    payload,
		TargetID:   targetID,
		TargetType: kind,
		Timestamp:  d.opts.Clock().UTC(),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("dispatcher: marshal envelope: %w", err)
	}

	topic := d.Topic(kind, targetID, cmd)
	ev := audit.AuditEvent{
		RequestID: env.RequestID,
		Actor:     ActorFrom(ctx),
		AgentID:   targetID,
		AgentKind: string(kind),
		Operation: string(cmd),
		Channel:   audit.ChannelPubSub,
		Target:    topic.String(),
		Payload:   payload,
		Timestamp: env.Timestamp,
	}

	n, err := d.broker.Publish(ctx, topic.String(), body).Result()
	if err != nil {
		ev.Status, ev.Error = audit.StatusFailed, err.Error()
		d.auditor.Log(ev)
		return domain.DispatchResult{}, fmt.Errorf("dispatcher: publish to %s: %w", topic, err)
	}

	ev.Status = audit.StatusPublished
	d.auditor.Log(ev)
	d.metrics.CommandsPublished.WithLabelValues(topic.Variant().String(), string(cmd)).Inc()

	if n == 0 {
		// Никто не слушает (агент оффлайн или еще не подписался). Для fire-and-forget потеря команды допустима
		d.logger.Warn("command published with no subscribers", zap.String("topic", topic.String()), zap.String("command", string(cmd)))
	} else {
		d.logger.Info("command published", zap.String("topic", topic.String()), zap.String("command", string(cmd)), zap.Int64("subscribers", n))
	}

	return domain.DispatchResult{RequestID: env.RequestID, Topic: topic.String(), Subscribers: n}, nil
}

// GetLiveStatus читает {kind}:status:{id}. Нет ключа значит "unknown/offline", ответ (nil, nil).
func (d *CommandDispatcher) GetLiveStatus(ctx context.Context, id string, kind domain.AgentKind) (*domain.LiveStatusSnapshot, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("dispatcher: unknown agent kind %q", kind)
	}

	raw, err := d.broker.Get(ctx, infra.StatusKey(kind, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dispatcher: read live status: %w", err)
	}

	var snap domain.LiveStatusSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		// Старые агенты пишут просто строку статуса
		snap = domain.LiveStatusSnapshot{Status: string(raw)}
	}
	if snap.AgentID == "" {
		snap.AgentID = id
	}
	return &snap, nil
}
