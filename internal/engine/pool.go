package engine

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/xela07ax/pulseone-control-plane/internal/domain"
	"github.com/xela07ax/pulseone-control-plane/internal/infra"
)

// Pool: ограниченный keep-alive пул исходящих соединений к одному агенту.
// Поверх http.Transport: считаем открытые сокеты и запросы в полете, Destroy закрывает все сразу.
type Pool struct {
	transport *http.Transport
	client    *http.Client

	maxSockets     int
	maxFreeSockets int

	mu     sync.Mutex
	conns  map[*trackedConn]struct{}
	active atomic.Int64
	closed atomic.Bool
}

// NewPool строит пул по политике клиента.
func NewPool(cfg infra.AgentClientConfig) *Pool {
	p := &Pool{
		maxSockets:     cfg.MaxSockets,
		maxFreeSockets: max(2, cfg.MaxSockets/5),
		conns:          make(map[*trackedConn]struct{}),
	}

	dialer := &net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: cfg.KeepAlive,
	}

	p.transport = &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if p.closed.Load() {
				return nil, ErrShutdown
			}
			c, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return p.track(c), nil
		},
		MaxConnsPerHost:       p.maxSockets,
		MaxIdleConns:          p.maxFreeSockets,
		MaxIdleConnsPerHost:   p.maxFreeSockets,
		IdleConnTimeout:       cfg.IdleTimeout,
		ResponseHeaderTimeout: cfg.Timeout,
	}
	p.client = &http.Client{Transport: roundTripperFunc(p.roundTrip)}

	return p
}

// Client: http.Client поверх пула. Таймаут задается контекстом каждого запроса.
func (p *Pool) Client() *http.Client { return p.client }

func (p *Pool) roundTrip(req *http.Request) (*http.Response, error) {
	if p.closed.Load() {
		return nil, ErrShutdown
	}
	p.active.Add(1)
	defer p.active.Add(-1)
	return p.transport.RoundTrip(req)
}

// Stats возвращает мгновенный снимок: активные запросы и свободные (idle) сокеты.
func (p *Pool) Stats() domain.PoolStats {
	p.mu.Lock()
	open := len(p.conns)
	p.mu.Unlock()

	active := int(p.active.Load())
	return domain.PoolStats{
		MaxSockets:     p.maxSockets,
		MaxFreeSockets: p.maxFreeSockets,
		Active:         active,
		Free:           max(0, open-active),
	}
}

// Destroy закрывает все сокеты, в том числе занятые. Повторный вызов безопасен.
func (p *Pool) Destroy() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.transport.CloseIdleConnections()

	p.mu.Lock()
	conns := make([]*trackedConn, 0, len(p.conns))
	for c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (p *Pool) track(c net.Conn) net.Conn {
	tc := &trackedConn{Conn: c, pool: p}
	p.mu.Lock()
	p.conns[tc] = struct{}{}
	p.mu.Unlock()
	return tc
}

func (p *Pool) forget(tc *trackedConn) {
	p.mu.Lock()
	delete(p.conns, tc)
	p.mu.Unlock()
}

type trackedConn struct {
	net.Conn
	pool *Pool
	once sync.Once
	err  error
}

func (c *trackedConn) Close() error {
	c.once.Do(func() {
		c.err = c.Conn.Close()
		c.pool.forget(c)
	})
	return c.err
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
