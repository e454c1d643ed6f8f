package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/pulseone-control-plane/internal/connectors"
	"github.com/xela07ax/pulseone-control-plane/internal/domain"
	"github.com/xela07ax/pulseone-control-plane/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HealthObserver получает изменения здоровья агента и состояния его breaker.
// Вызывается синхронно, реализация не должна блокироваться.
type HealthObserver interface {
	ObserveAgent(agentID string, healthy bool, state BreakerState)
}

// AgentForgetter — наблюдатель, которому сообщают об удалении клиента из реестра.
type AgentForgetter interface {
	Forget(agentID string)
}

// ClientOptions: зависимости клиента, общие для всего реестра.
type ClientOptions struct {
	Logger   *zap.Logger
	Metrics  *Metrics
	Observer HealthObserver
	Clock    func() time.Time
	// Fallback: клиент по умолчанию, на который деградирует реестр при ошибке справочника.
	Fallback bool
}

// AgentClient — устойчивый клиент одного агента: Breaker + Pool + таймауты/повторы + журнал вызовов.
type AgentClient struct {
	endpoint domain.AgentEndpoint
	cfg      infra.AgentClientConfig
	fallback bool

	breaker *Breaker
	probe   *gobreaker.CircuitBreaker // nil, если health-check делит breaker с операторами
	pool    *Pool
	adapter *connectors.HTTPAdapter
	limiter *rate.Limiter

	logger   *zap.Logger
	metrics  *Metrics
	observer HealthObserver
	clock    func() time.Time

	healthy         atomic.Bool
	lastHealthCheck atomic.Int64 // unix nano
	outcomes        *outcomeLog

	closed   atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAgentClient проверяет политику и запускает периодический health-check (если интервал > 0).
func NewAgentClient(ep domain.AgentEndpoint, cfg infra.AgentClientConfig, opts ClientOptions) (*AgentClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	c := &AgentClient{
		endpoint: ep,
		cfg:      cfg,
		fallback: opts.Fallback,
		logger:   opts.Logger.With(zap.String("mod", "agent-client"), zap.String("agent_id", ep.ID), zap.String("addr", ep.Addr())),
		metrics:  opts.Metrics,
		observer: opts.Observer,
		clock:    opts.Clock,
		outcomes: newOutcomeLog(cfg.MetricsLogSize),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, cfg.RateBurst)),
		stop:     make(chan struct{}),
	}
	c.healthy.Store(true)

	c.breaker = NewBreaker(BreakerSettings{
		Name:             ep.ID,
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		Clock:            opts.Clock,
		OnStateChange:    c.onStateChange,
	})

	if cfg.IsolatedProbe() {
		threshold := uint32(cfg.FailureThreshold)
		c.probe = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "probe:" + ep.ID,
			MaxRequests: 1,
			Timeout:     cfg.RecoveryTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		})
	}

	c.pool = NewPool(cfg)
	c.adapter = connectors.NewHTTPAdapter(c.pool.Client(), ep.Addr())

	if cfg.HealthCheckInterval > 0 {
		c.wg.Add(1)
		go c.healthLoop()
	}

	return c, nil
}

func (c *AgentClient) Endpoint() domain.AgentEndpoint { return c.endpoint }
func (c *AgentClient) IsFallback() bool               { return c.fallback }
func (c *AgentClient) Breaker() *Breaker              { return c.breaker }
func (c *AgentClient) IsHealthy() bool                { return c.healthy.Load() }

func (c *AgentClient) LastHealthCheck() time.Time {
	ns := c.lastHealthCheck.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Stats: сводка ClientRecord для консоли.
func (c *AgentClient) Stats() domain.ClientStats {
	return domain.ClientStats{
		Endpoint:        c.endpoint,
		Breaker:         c.breaker.Snapshot(),
		Pool:            c.pool.Stats(),
		IsHealthy:       c.IsHealthy(),
		LastHealthCheck: c.LastHealthCheck(),
		RecentCalls:     c.outcomes.Snapshot(),
		Fallback:        c.fallback,
	}
}

// callOptions: политика конкретного вызова.
type callOptions struct {
	timeout  time.Duration
	attempts int
}

type CallOption func(*callOptions)

// Fast для опросов дашборда: короткий таймаут и без повторов, медленный агент не держит консоль.
func Fast() CallOption {
	return func(o *callOptions) { o.attempts = 1; o.timeout = -1 }
}

// WithRetries: не более n повторов (n+1 попыток всего).
func WithRetries(n int) CallOption {
	return func(o *callOptions) { o.attempts = n + 1 }
}

// WithTimeout: таймаут одной попытки.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// idempotent: повторы по политике клиента (RetryAttempts попыток всего).
func (c *AgentClient) idempotent() CallOption {
	return func(o *callOptions) { o.attempts = c.cfg.RetryAttempts }
}

// call: единая точка выполнения удаленной операции через breaker.
func (c *AgentClient) call(ctx context.Context, op, method, path string, body any, opts ...CallOption) Result[json.RawMessage] {
	if c.closed.Load() {
		return failed[json.RawMessage](ErrShutdown)
	}

	o := callOptions{timeout: c.cfg.Timeout, attempts: 1}
	for _, fn := range opts {
		fn(&o)
	}
	if o.timeout < 0 {
		o.timeout = c.cfg.FastTimeout
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return failed[json.RawMessage](fmt.Errorf("rate limit exceeded: %w", err))
	}

	res := Execute(c.breaker, func(trial bool) (json.RawMessage, error) {
		policy := retryPolicy{
			attempts:  o.attempts,
			baseDelay: c.cfg.RetryBaseDelay,
			maxDelay:  c.cfg.RetryMaxDelay,
			onRetry: func(n uint, err error) {
				c.metrics.Retries.WithLabelValues(c.endpoint.ID, op).Inc()
				c.logger.Debug("retrying agent call", zap.String("op", op), zap.Uint("attempt", n+1), zap.Error(err))
			},
		}
		// Пробный вызов в HALF_OPEN: ровно одна сетевая попытка
		if trial {
			policy.attempts = 1
		}

		var data json.RawMessage
		err := policy.run(ctx, func() error {
			var err error
			data, err = c.attempt(ctx, op, method, path, body, o.timeout)
			return err
		})
		return data, err
	})

	c.metrics.TotalRequests.WithLabelValues(c.endpoint.ID, op, outcomeLabel(res)).Inc()
	if res.Err != nil && !res.CircuitOpen {
		c.logger.Warn("agent call failed", zap.String("op", op), zap.Error(res.Err))
	}
	return res
}

// attempt: одна сетевая попытка с собственным таймаутом. Пишет журнал вызовов и метрики.
func (c *AgentClient) attempt(ctx context.Context, op, method, path string, body any, timeout time.Duration) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrShutdown
	}

	tCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := c.clock()
	resp, err := c.adapter.Do(tCtx, method, path, body)
	latency := c.clock().Sub(start)

	status := connectors.StatusCode(err)
	if resp != nil {
		status = resp.StatusCode
	}
	c.outcomes.Append(domain.CallOutcome{
		Timestamp:  start,
		Operation:  op,
		Success:    err == nil,
		StatusCode: status,
		Latency:    latency,
		ErrorCode:  connectors.ErrorCode(err),
	})
	c.metrics.RequestDuration.WithLabelValues(c.endpoint.ID, op).Observe(latency.Seconds())

	ps := c.pool.Stats()
	c.metrics.PoolSockets.WithLabelValues(c.endpoint.ID, "active").Set(float64(ps.Active))
	c.metrics.PoolSockets.WithLabelValues(c.endpoint.ID, "free").Set(float64(ps.Free))

	var cErr *connectors.ConnectivityError
	switch {
	case err == nil:
		c.setHealthy(true)
	case errors.As(err, &cErr) && !errors.Is(err, context.Canceled):
		c.setHealthy(false)
	}

	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Probe: синтетическая проверка здоровья по таймеру.
// При изоляции идет через свой gobreaker и не влияет на цепь операторского трафика.
func (c *AgentClient) Probe(ctx context.Context) Result[json.RawMessage] {
	if c.closed.Load() {
		return failed[json.RawMessage](ErrShutdown)
	}

	var res Result[json.RawMessage]
	if c.probe == nil {
		res = c.call(ctx, OpHealthProbe, http.MethodGet, pathHealth, nil, Fast())
	} else {
		v, err := c.probe.Execute(func() (interface{}, error) {
			return c.attempt(ctx, OpHealthProbe, http.MethodGet, pathHealth, nil, c.cfg.FastTimeout)
		})
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			res = Result[json.RawMessage]{Err: fmt.Errorf("health probe suppressed: %w", ErrCircuitOpen), CircuitOpen: true}
		case err != nil:
			res = Result[json.RawMessage]{Err: err}
		default:
			data, _ := v.(json.RawMessage)
			res = Result[json.RawMessage]{Value: data}
		}
	}

	c.lastHealthCheck.Store(c.clock().UnixNano())
	c.setHealthy(res.OK())
	return res
}

func (c *AgentClient) healthLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FastTimeout*2)
			if res := c.Probe(ctx); !res.OK() {
				c.logger.Debug("health probe failed", zap.Error(res.Err))
			}
			cancel()
		}
	}
}

// Shutdown останавливает таймер health-check и уничтожает пул. Дальнейшие вызовы: ErrShutdown.
func (c *AgentClient) Shutdown() {
	c.stopOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
		c.wg.Wait()
		c.pool.Destroy()
		c.logger.Info("agent client shut down")
	})
}

func (c *AgentClient) setHealthy(ok bool) {
	if c.healthy.Swap(ok) != ok && c.observer != nil {
		c.observer.ObserveAgent(c.endpoint.ID, ok, c.breaker.State())
	}
}

// onStateChange вызывается breaker'ом под его блокировкой: в breaker отсюда не ходим.
func (c *AgentClient) onStateChange(name string, from, to BreakerState) {
	c.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	if to == StateOpen {
		c.logger.Warn("circuit breaker opened", zap.String("from", from.String()))
	} else {
		c.logger.Info("circuit breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
	}
	if c.observer != nil {
		c.observer.ObserveAgent(c.endpoint.ID, c.healthy.Load(), to)
	}
}

func outcomeLabel(r Result[json.RawMessage]) string {
	switch {
	case r.CircuitOpen:
		return "circuit_open"
	case r.Err != nil:
		return "failure"
	default:
		return "success"
	}
}
