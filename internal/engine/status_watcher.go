package engine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/pulseone-control-plane/internal/domain"
	"github.com/xela07ax/pulseone-control-plane/internal/infra"
	"go.uber.org/zap"
)

// StatusWatcher слушает heartbeat-каналы {kind}:status и держит gauge agent_online{kind}.
// Кэш статусов по-прежнему читается через CommandDispatcher.GetLiveStatus.
type StatusWatcher struct {
	rdb     *redis.Client
	metrics *Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	online map[domain.AgentKind]map[string]bool
}

func NewStatusWatcher(rdb *redis.Client, metrics *Metrics, logger *zap.Logger) *StatusWatcher {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &StatusWatcher{
		rdb:     rdb,
		metrics: metrics,
		logger:  logger.With(zap.String("mod", "status-watcher")),
		online:  make(map[domain.AgentKind]map[string]bool),
	}
}

// Run блокирует до отмены ctx
func (w *StatusWatcher) Run(ctx context.Context) {
	ListenResilient(ctx, w.rdb, w.logger, nil, w.handle,
		infra.StatusChannel(domain.KindCollector),
		infra.StatusChannel(domain.KindGateway),
	)
}

func (w *StatusWatcher) handle(channel, payload string) {
	kind := domain.AgentKind(strings.TrimSuffix(channel, ":status"))
	if !kind.Valid() {
		return
	}

	var hb domain.LiveStatusSnapshot
	if err := json.Unmarshal([]byte(payload), &hb); err != nil || hb.AgentID == "" {
		w.logger.Debug("malformed heartbeat", zap.String("chan", channel), zap.String("payload", payload))
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	set, ok := w.online[kind]
	if !ok {
		set = make(map[string]bool)
		w.online[kind] = set
	}
	if hb.Status == domain.HealthOnline {
		set[hb.AgentID] = true
	} else {
		delete(set, hb.AgentID)
	}
	w.metrics.AgentsOnline.WithLabelValues(string(kind)).Set(float64(len(set)))
}

// Online: сколько агентов данного типа в последний раз сообщили "online"
func (w *StatusWatcher) Online(kind domain.AgentKind) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.online[kind])
}
