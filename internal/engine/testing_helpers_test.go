package engine

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xela07ax/pulseone-control-plane/internal/domain"
	"github.com/xela07ax/pulseone-control-plane/internal/infra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// fakeClock: ручное время для breaker.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testClientConfig: быстрые повторы, без фонового health-check.
func testClientConfig() infra.AgentClientConfig {
	cfg := infra.DefaultAgentClientConfig()
	cfg.Timeout = 2 * time.Second
	cfg.FastTimeout = time.Second
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	cfg.HealthCheckInterval = 0
	cfg.RateLimit = 1000
	cfg.RateBurst = 1000
	return cfg
}

func endpointFor(t *testing.T, id string, srv *httptest.Server) domain.AgentEndpoint {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return domain.AgentEndpoint{ID: id, Host: host, Port: p, Kind: domain.KindCollector}
}

func newTestClient(t *testing.T, srv *httptest.Server, cfg infra.AgentClientConfig, clock *fakeClock) *AgentClient {
	t.Helper()
	opts := ClientOptions{}
	if clock != nil {
		opts.Clock = clock.Now
	}
	c, err := NewAgentClient(endpointFor(t, "col-1", srv), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c
}

type observerCall struct {
	id      string
	healthy bool
	state   BreakerState
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []observerCall
}

func (o *recordingObserver) ObserveAgent(id string, healthy bool, state BreakerState) {
	o.mu.Lock()
	o.calls = append(o.calls, observerCall{id, healthy, state})
	o.mu.Unlock()
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func healthRequest(service string) *healthpb.HealthCheckRequest {
	return &healthpb.HealthCheckRequest{Service: service}
}
