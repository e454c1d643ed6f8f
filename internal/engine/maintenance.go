package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/pulseone-control-plane/internal/infra"
	"go.uber.org/zap"
)

type MaintenanceProvider interface {
	GetMaintenanceAgents(ctx context.Context) ([]string, error)
}

// MaintenanceManager держит в памяти набор агентов на обслуживании.
// Источник правды: БД, Redis служит общим кэшем и шиной сигналов между инстансами.
type MaintenanceManager struct {
	repo   MaintenanceProvider
	rdb    *redis.Client
	logger *zap.Logger

	mu     sync.RWMutex
	agents map[string]bool
}

func NewMaintenanceManager(rdb *redis.Client, repo MaintenanceProvider, logger *zap.Logger) *MaintenanceManager {
	return &MaintenanceManager{
		agents: make(map[string]bool),
		repo:   repo,
		rdb:    rdb,
		logger: logger.With(zap.String("mod", "maintenance")),
	}
}

// Init загружает состояние из БД и прогревает Redis
func (m *MaintenanceManager) Init(ctx context.Context) error {
	ids, err := m.repo.GetMaintenanceAgents(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch maintenance agents from DB: %w", err)
	}

	return WarmupState(ctx, m.rdb, m.logger, ids, infra.RedisKeyMaintenanceAgents, infra.RedisKeyLockWarmupMaintenance, m.replace)
}

// StartListener подписывается на изменения режима обслуживания в реальном времени. Блокирует до отмены ctx.
func (m *MaintenanceManager) StartListener(ctx context.Context) {
	ListenResilient(ctx, m.rdb, m.logger,
		func() error { return m.Init(ctx) },
		func(_, payload string) { m.apply(payload) },
		infra.RedisChanMaintenance,
	)
}

// Publish рассылает изменение всем инстансам (включая этот) и обновляет L2.
func (m *MaintenanceManager) Publish(ctx context.Context, agentID string, on bool) error {
	pipe := m.rdb.TxPipeline()
	if on {
		pipe.SAdd(ctx, infra.RedisKeyMaintenanceAgents, agentID)
	} else {
		pipe.SRem(ctx, infra.RedisKeyMaintenanceAgents, agentID)
	}
	pipe.Publish(ctx, infra.RedisChanMaintenance, MaintenanceSignal(agentID, on))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("maintenance signal: %w", err)
	}
	m.set(agentID, on)
	return nil
}

func MaintenanceSignal(agentID string, on bool) string {
	if on {
		return agentID + ":on"
	}
	return agentID + ":off"
}

// IsUnderMaintenance: быстрый метод для проверки в Hot Path
func (m *MaintenanceManager) IsUnderMaintenance(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.agents[agentID]
}

func (m *MaintenanceManager) apply(payload string) {
	id, on, ok := ParseStateSignal(payload)
	if !ok {
		m.logger.Error("invalid signal format", zap.String("payload", payload))
		return
	}
	m.set(id, on)
}

func (m *MaintenanceManager) set(id string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.agents[id] = true
	} else {
		delete(m.agents, id)
	}
}

// replace заменяет L1 целиком: после переподключения могли пропустить сигналы "off".
func (m *MaintenanceManager) replace(ids []string) {
	next := make(map[string]bool, len(ids))
	for _, id := range ids {
		next[id] = true
	}
	m.mu.Lock()
	m.agents = next
	m.mu.Unlock()
}
