package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xela07ax/pulseone-control-plane/internal/connectors"
	"github.com/xela07ax/pulseone-control-plane/internal/domain"
	"github.com/xela07ax/pulseone-control-plane/internal/engine"
	"go.uber.org/zap"
)

// AgentRepository описывает требования к хранилищу данных об агентах
type AgentRepository interface {
	ListAgentEndpoints(ctx context.Context) ([]domain.AgentEndpoint, error)
	SetAgentMaintenance(ctx context.Context, agentID string, enabled bool) error
}

// MaintenanceSignaler рассылает изменение режима обслуживания всем инстансам.
type MaintenanceSignaler interface {
	Publish(ctx context.Context, agentID string, on bool) error
	IsUnderMaintenance(agentID string) bool
}

type AgentService struct {
	registry    *engine.Registry
	dispatcher  *engine.CommandDispatcher
	repo        AgentRepository
	maintenance MaintenanceSignaler
	logger      *zap.Logger
}

func NewAgentService(registry *engine.Registry, dispatcher *engine.CommandDispatcher, repo AgentRepository, maintenance MaintenanceSignaler, logger *zap.Logger) *AgentService {
	return &AgentService{
		registry:    registry,
		dispatcher:  dispatcher,
		repo:        repo,
		maintenance: maintenance,
		logger:      logger.Named("agent-service"),
	}
}

func (s *AgentService) Registry() *engine.Registry { return s.registry }

// AgentView: строка таблицы агентов в консоли.
// Client заполнен только для агентов, к которым уже обращались (клиент в кэше реестра).
type AgentView struct {
	Endpoint    domain.AgentEndpoint `json:"endpoint"`
	Maintenance bool                 `json:"maintenance"`
	Client      *domain.ClientStats  `json:"client,omitempty"`
}

// ListAgents объединяет справочник и закэшированные клиенты.
// Если справочник недоступен: отдаем хотя бы то, что есть в реестре.
func (s *AgentService) ListAgents(ctx context.Context) ([]AgentView, error) {
	clients := make(map[string]*engine.AgentClient)
	for _, c := range s.registry.Clients() {
		clients[c.Endpoint().ID] = c
	}

	endpoints, err := s.repo.ListAgentEndpoints(ctx)
	if err != nil {
		s.logger.Warn("directory unavailable, listing cached clients only", zap.Error(err))
		endpoints = nil
		for _, c := range clients {
			endpoints = append(endpoints, c.Endpoint())
		}
	}

	out := make([]AgentView, 0, len(endpoints))
	for _, ep := range endpoints {
		v := AgentView{Endpoint: ep, Maintenance: s.maintenance.IsUnderMaintenance(ep.ID)}
		if c, ok := clients[ep.ID]; ok {
			st := c.Stats()
			v.Client = &st
			v.Endpoint = c.Endpoint() // адрес после нормализации hostname
		}
		out = append(out, v)
	}
	return out, nil
}

// AgentStatus: быстрый статус для дашборда.
type AgentStatus struct {
	AgentID string          `json:"agent_id"`
	Health  string          `json:"health"`
	Breaker string          `json:"breaker"`
	Workers json.RawMessage `json:"workers,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Status опрашивает агента с коротким таймаутом. Ошибка агента: это статус, а не ошибка метода.
func (s *AgentService) Status(ctx context.Context, agentID string) (AgentStatus, error) {
	res := s.registry.WorkerStatusSummary(ctx, agentID)
	if errors.Is(res.Err, engine.ErrShutdown) {
		return AgentStatus{}, res.Err
	}

	st := AgentStatus{AgentID: agentID, Health: HealthFromResult(res), Workers: res.Value}
	if c, ok := s.registry.Lookup(agentID); ok {
		st.Breaker = c.Breaker().State().String()
	}
	if res.Err != nil {
		st.Error = res.Err.Error()
	}
	return st, nil
}

// HealthFromResult отделяет circuit_open от offline: цепь разомкнута защитой, агент при этом может быть жив.
func HealthFromResult(res engine.Result[json.RawMessage]) string {
	var cErr *connectors.ConnectivityError
	switch {
	case res.CircuitOpen:
		return domain.HealthCircuitOpen
	case res.Err == nil:
		return domain.HealthOnline
	case errors.As(res.Err, &cErr):
		return domain.HealthOffline
	default:
		return domain.HealthError
	}
}

// LiveStatus читает heartbeat из кэша. Пустой kind: берем тип из справочника.
func (s *AgentService) LiveStatus(ctx context.Context, agentID string, kind domain.AgentKind) (*domain.LiveStatusSnapshot, error) {
	if kind == "" {
		ep, _, err := s.registry.Endpoint(ctx, agentID)
		if err != nil {
			return nil, err
		}
		kind = ep.Kind
	}
	return s.dispatcher.GetLiveStatus(ctx, agentID, kind)
}

func (s *AgentService) SendCommand(ctx context.Context, agentID string, cmd domain.CommandName, payload any) (domain.DispatchResult, error) {
	return s.dispatcher.SendCommand(ctx, agentID, cmd, payload)
}

// SetMaintenance: 1. Persistence (источник правды) 2. Real-time сигнал инстансам.
// Сбой сигнала не откатывает БД: инстансы догонят состояние при переподключении.
func (s *AgentService) SetMaintenance(ctx context.Context, agentID string, enabled bool) error {
	if err := s.repo.SetAgentMaintenance(ctx, agentID, enabled); err != nil {
		s.logger.Error("failed to update maintenance in DB", zap.String("agent_id", agentID), zap.Error(err))
		return fmt.Errorf("maintenance database error: %w", err)
	}

	if err := s.maintenance.Publish(ctx, agentID, enabled); err != nil {
		s.logger.Warn("maintenance signal failed", zap.String("agent_id", agentID), zap.Error(err))
	}

	s.logger.Info("maintenance mode toggled",
		zap.String("agent_id", agentID),
		zap.String("actor", engine.ActorFrom(ctx)),
		zap.Bool("enabled", enabled))
	return nil
}

// FleetSummary: сводка по закэшированным клиентам.
func (s *AgentService) FleetSummary() domain.FleetSummary {
	var sum domain.FleetSummary
	for _, c := range s.registry.Clients() {
		sum.Total++
		switch {
		case c.Breaker().State() == engine.StateOpen:
			sum.CircuitOpen++
		case c.IsHealthy():
			sum.Healthy++
		default:
			sum.Unhealthy++
		}
	}
	return sum
}

// FleetOperation выполняет разрешенную операцию на всех закэшированных клиентах.
func (s *AgentService) FleetOperation(ctx context.Context, op string) ([]engine.FanOutEntry, error) {
	fn, ok := engine.FanOutOperation(op)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperation, op)
	}
	return s.registry.FanOut(ctx, op, false, fn), nil
}

// RemoveAgent останавливает клиент агента. false: клиента не было в кэше.
func (s *AgentService) RemoveAgent(agentID string) bool {
	removed := s.registry.Remove(agentID)
	if removed {
		s.logger.Info("agent client removed", zap.String("agent_id", agentID))
	}
	return removed
}

var ErrUnsupportedOperation = errors.New("unsupported fleet operation")
