package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xela07ax/pulseone-control-plane/internal/audit"
	"github.com/xela07ax/pulseone-control-plane/internal/domain"
	"github.com/xela07ax/pulseone-control-plane/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	loopbackHost = "127.0.0.1"
	fallbackID   = "default"
)

// Directory: внешний справочник агентов (только чтение).
type Directory interface {
	GetAgentEndpoint(ctx context.Context, id string) (*domain.AgentEndpoint, error)
}

// MaintenanceChecker отвечает, находится ли агент на обслуживании.
type MaintenanceChecker interface {
	IsUnderMaintenance(agentID string) bool
}

type RegistryOptions struct {
	Logger      *zap.Logger
	Metrics     *Metrics
	Observer    HealthObserver
	Maintenance MaintenanceChecker
	Auditor     audit.Auditor
	Clock       func() time.Time
}

// Registry: по одному AgentClient на агента; клиент создается при первом обращении.
// Принадлежит composition root и передается по ссылке, глобальной карты клиентов нет.
type Registry struct {
	dir  Directory
	cfg  infra.AgentsConfig
	opts RegistryOptions

	logger *zap.Logger

	mu       sync.RWMutex
	clients  map[string]*AgentClient
	fallback *AgentClient
	closed   bool

	group singleflight.Group
}

// NewRegistry сразу создает клиент по умолчанию, чтобы ошибка справочника никогда не блокировала консоль.
func NewRegistry(dir Directory, cfg infra.AgentsConfig, opts RegistryOptions) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Auditor == nil {
		opts.Auditor = audit.Nop{}
	}

	r := &Registry{
		dir:     dir,
		cfg:     cfg,
		opts:    opts,
		logger:  opts.Logger.Named("registry"),
		clients: make(map[string]*AgentClient),
	}

	host := cfg.FallbackHost
	if host == "" {
		host = loopbackHost
	}
	ep := domain.AgentEndpoint{ID: fallbackID, Host: host, Port: cfg.FallbackPort, Kind: domain.KindCollector}
	fb, err := NewAgentClient(ep, cfg.ForAgent(fallbackID), r.clientOptions(true))
	if err != nil {
		return nil, fmt.Errorf("registry: fallback client: %w", err)
	}
	r.fallback = fb

	return r, nil
}

func (r *Registry) clientOptions(fallback bool) ClientOptions {
	return ClientOptions{
		Logger:   r.opts.Logger,
		Metrics:  r.opts.Metrics,
		Observer: r.opts.Observer,
		Clock:    r.opts.Clock,
		Fallback: fallback,
	}
}

// NormalizeHost: hostname без точки (кроме localhost) считается именем внутренней сети,
// снаружи он не резолвится: подменяем на override или loopback. IP-адреса не трогаем.
func NormalizeHost(host, override string) string {
	if host == "" || host == "localhost" || strings.Contains(host, ".") || net.ParseIP(host) != nil {
		return host
	}
	if override != "" {
		return override
	}
	return loopbackHost
}

// GetClient возвращает закэшированный клиент или создает новый.
// Ошибка справочника не пробрасывается, вместо нее отдаем клиент по умолчанию. Ошибка возможна только после Shutdown.
func (r *Registry) GetClient(ctx context.Context, id string) (*AgentClient, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrShutdown
	}
	if c, ok := r.clients[id]; ok {
		r.mu.RUnlock()
		return c, nil
	}
	r.mu.RUnlock()

	// Один поход в справочник на идентификатор, даже если запросов пришла пачка
	v, err, _ := r.group.Do(id, func() (interface{}, error) {
		return r.create(ctx, id)
	})
	if err != nil {
		if errors.Is(err, ErrShutdown) {
			return nil, err
		}
		r.opts.Metrics.LookupFallbacks.Inc()
		r.logger.Warn("agent lookup failed, using default client", zap.String("agent_id", id), zap.Error(err))
		return r.fallback, nil
	}
	return v.(*AgentClient), nil
}

func (r *Registry) create(ctx context.Context, id string) (*AgentClient, error) {
	r.mu.RLock()
	if c, ok := r.clients[id]; ok {
		r.mu.RUnlock()
		return c, nil
	}
	r.mu.RUnlock()

	ep, err := r.dir.GetAgentEndpoint(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownAgent, id, err)
	}
	if ep == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}

	cfg := r.cfg.ForAgent(id)
	resolved := *ep
	resolved.ID = id
	resolved.Host = NormalizeHost(ep.Host, cfg.HostOverride)
	if resolved.Host != ep.Host {
		r.logger.Info("internal hostname rewritten",
			zap.String("agent_id", id), zap.String("from", ep.Host), zap.String("to", resolved.Host))
	}

	c, err := NewAgentClient(resolved, cfg, r.clientOptions(false))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		go c.Shutdown()
		return nil, ErrShutdown
	}
	if existing, ok := r.clients[id]; ok {
		go c.Shutdown()
		return existing, nil
	}
	r.clients[id] = c
	r.logger.Info("agent client created", zap.String("agent_id", id), zap.String("addr", resolved.Addr()), zap.String("kind", string(resolved.Kind)))
	return c, nil
}

// Endpoint: адрес и тип агента через реестр (с той же деградацией на клиент по умолчанию).
func (r *Registry) Endpoint(ctx context.Context, id string) (domain.AgentEndpoint, bool, error) {
	c, err := r.GetClient(ctx, id)
	if err != nil {
		return domain.AgentEndpoint{}, false, err
	}
	return c.Endpoint(), c.IsFallback(), nil
}

// Clients: снимок закэшированных клиентов (без клиента по умолчанию), отсортирован по ID.
func (r *Registry) Clients() []*AgentClient {
	r.mu.RLock()
	out := make([]*AgentClient, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint().ID < out[j].Endpoint().ID })
	return out
}

// Lookup: клиент из кэша без обращения к справочнику.
func (r *Registry) Lookup(id string) (*AgentClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Remove останавливает и выбрасывает клиент агента (например, агент удален из справочника).
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	c, ok := r.clients[id]
	delete(r.clients, id)
	r.mu.Unlock()

	if ok {
		c.Shutdown()
		if f, isForgetter := r.opts.Observer.(AgentForgetter); isForgetter {
			f.Forget(id)
		}
	}
	return ok
}

// Shutdown останавливает все таймеры и пулы. Вешается на SIGTERM в composition root.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	clients := make([]*AgentClient, 0, len(r.clients)+1)
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[string]*AgentClient)
	clients = append(clients, r.fallback)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *AgentClient) {
			defer wg.Done()
			c.Shutdown()
		}(c)
	}
	wg.Wait()
	r.logger.Info("registry shut down", zap.Int("clients", len(clients)))
}

// Operation: одна операция над клиентом агента.
type Operation func(ctx context.Context, c *AgentClient) Result[json.RawMessage]

// Invoke: единообразная пересылка операции на клиент агента + аудит.
// output=true означает управление выходами, оно запрещено для агентов на обслуживании.
func (r *Registry) Invoke(ctx context.Context, agentID, op string, output bool, payload any, fn Operation) Result[json.RawMessage] {
	start := time.Now()
	ev := audit.AuditEvent{
		RequestID: RequestIDFrom(ctx),
		Actor:     ActorFrom(ctx),
		AgentID:   agentID,
		Operation: op,
		Channel:   audit.ChannelSync,
		Payload:   payload,
		Timestamp: start,
	}

	if output && r.opts.Maintenance != nil && r.opts.Maintenance.IsUnderMaintenance(agentID) {
		ev.Status = audit.StatusRefused
		ev.Error = ErrMaintenance.Error()
		r.opts.Auditor.Log(ev)
		return failed[json.RawMessage](fmt.Errorf("%s: %w", agentID, ErrMaintenance))
	}

	c, err := r.GetClient(ctx, agentID)
	if err != nil {
		return failed[json.RawMessage](err)
	}
	ev.AgentKind = string(c.Endpoint().Kind)
	ev.Target = c.adapter.BaseURL()

	res := fn(ctx, c)

	ev.DurationMs = time.Since(start).Milliseconds()
	switch {
	case res.CircuitOpen:
		ev.Status = audit.StatusCircuitOpen
	case res.Err != nil:
		ev.Status = audit.StatusFailed
		ev.Error = res.Err.Error()
	default:
		ev.Status = audit.StatusSuccess
	}
	r.opts.Auditor.Log(ev)
	return res
}

// FanOutEntry: итог операции для одного агента в режиме "все агенты".
type FanOutEntry struct {
	AgentID     string          `json:"agent_id"`
	Success     bool            `json:"success"`
	CircuitOpen bool            `json:"circuit_open,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
}
