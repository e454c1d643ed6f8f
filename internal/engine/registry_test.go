package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/pulseone-control-plane/internal/audit"
	"github.com/xela07ax/pulseone-control-plane/internal/domain"
	"github.com/xela07ax/pulseone-control-plane/internal/infra"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// fakeDirectory: справочник в памяти. Неизвестный id, ошибка, как у БД.
type fakeDirectory struct {
	mu      sync.Mutex
	entries map[string]domain.AgentEndpoint
	lookups atomic.Int32
	err     error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{entries: make(map[string]domain.AgentEndpoint)}
}

func (d *fakeDirectory) add(ep domain.AgentEndpoint) {
	d.mu.Lock()
	d.entries[ep.ID] = ep
	d.mu.Unlock()
}

func (d *fakeDirectory) GetAgentEndpoint(_ context.Context, id string) (*domain.AgentEndpoint, error) {
	d.lookups.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ep, ok := d.entries[id]
	if !ok {
		return nil, errors.New("no rows in result set")
	}
	return &ep, nil
}

type memoryAuditor struct {
	mu     sync.Mutex
	events []audit.AuditEvent
}

func (a *memoryAuditor) Log(ev audit.AuditEvent) {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
}

func (a *memoryAuditor) snapshot() []audit.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.AuditEvent(nil), a.events...)
}

type maintenanceSet map[string]bool

func (m maintenanceSet) IsUnderMaintenance(id string) bool { return m[id] }

func newTestRegistry(t *testing.T, dir Directory, opts RegistryOptions) *Registry {
	t.Helper()
	r, err := NewRegistry(dir, infra.AgentsConfig{Defaults: testClientConfig(), FallbackPort: 1}, opts)
	require.NoError(t, err)
	t.Cleanup(r.Shutdown)
	return r
}

func okServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	return countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}

func TestRegistry_GetClientIsIdempotent(t *testing.T) {
	srv, _ := okServer(t)
	dir := newFakeDirectory()
	dir.add(endpointFor(t, "col-1", srv))
	r := newTestRegistry(t, dir, RegistryOptions{})

	var wg sync.WaitGroup
	got := make([]*AgentClient, 10)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.GetClient(context.Background(), "col-1")
			assert.NoError(t, err)
			got[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range got {
		assert.Same(t, got[0], c)
	}
	assert.False(t, got[0].IsFallback())
	assert.Len(t, r.Clients(), 1)
	assert.LessOrEqual(t, dir.lookups.Load(), int32(10))

	before := dir.lookups.Load()
	_, err := r.GetClient(context.Background(), "col-1")
	require.NoError(t, err)
	assert.Equal(t, before, dir.lookups.Load(), "cached client must not hit the directory")
}

func TestRegistry_LookupFailureFallsBack(t *testing.T) {
	dir := newFakeDirectory()
	dir.err = errors.New("connection refused")
	r := newTestRegistry(t, dir, RegistryOptions{})

	c, err := r.GetClient(context.Background(), "ghost")
	require.NoError(t, err)
	assert.True(t, c.IsFallback())
	assert.Equal(t, "default", c.Endpoint().ID)
	assert.Equal(t, "127.0.0.1", c.Endpoint().Host)

	// клиент по умолчанию не кэшируется под чужим id
	_, ok := r.Lookup("ghost")
	assert.False(t, ok)
	assert.Empty(t, r.Clients())

	ep, isFallback, err := r.Endpoint(context.Background(), "ghost")
	require.NoError(t, err)
	assert.True(t, isFallback)
	assert.Equal(t, domain.KindCollector, ep.Kind)
}

func TestRegistry_RewritesInternalHostname(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(domain.AgentEndpoint{ID: "col-2", Host: "collector-02", Port: 8080, Kind: domain.KindCollector})
	dir.add(domain.AgentEndpoint{ID: "gw-1", Host: "gw.plant.local", Port: 8080, Kind: domain.KindGateway})
	r := newTestRegistry(t, dir, RegistryOptions{})

	c, err := r.GetClient(context.Background(), "col-2")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", c.Endpoint().Host)

	c, err = r.GetClient(context.Background(), "gw-1")
	require.NoError(t, err)
	assert.Equal(t, "gw.plant.local", c.Endpoint().Host)
	assert.Equal(t, domain.KindGateway, c.Endpoint().Kind)
}

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		host, override, want string
	}{
		{"collector-01", "", "127.0.0.1"},
		{"collector-01", "10.0.0.5", "10.0.0.5"},
		{"localhost", "", "localhost"},
		{"agent.example.com", "", "agent.example.com"},
		{"192.168.1.10", "", "192.168.1.10"},
		{"::1", "", "::1"},
		{"", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHost(tt.host, tt.override))
		})
	}
}

func TestRegistry_FanOutIsolatesFailures(t *testing.T) {
	dir := newFakeDirectory()
	for i, fail := range []bool{true, false, true, true, false} {
		var srv *httptest.Server
		if fail {
			srv, _ = countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			})
		} else {
			srv, _ = okServer(t)
		}
		dir.add(endpointFor(t, "col-"+string(rune('a'+i)), srv))
	}
	r := newTestRegistry(t, dir, RegistryOptions{})
	for _, id := range []string{"col-a", "col-b", "col-c", "col-d", "col-e"} {
		_, err := r.GetClient(context.Background(), id)
		require.NoError(t, err)
	}

	op, ok := FanOutOperation(OpHealthCheck)
	require.True(t, ok)
	entries := r.FanOut(context.Background(), OpHealthCheck, false, op)

	require.Len(t, entries, 5)
	var succeeded, failedCount int
	for _, e := range entries {
		if e.Success {
			succeeded++
			assert.Empty(t, e.Error)
		} else {
			failedCount++
			assert.NotEmpty(t, e.Error)
		}
	}
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 3, failedCount)
	assert.Equal(t, "col-a", entries[0].AgentID)
	assert.False(t, entries[0].Success)
	assert.True(t, entries[1].Success)
}

func TestFanOutOperation_Unknown(t *testing.T) {
	_, ok := FanOutOperation(OpDigitalOutput)
	assert.False(t, ok)
}

func TestRegistry_MaintenanceRefusesOutputs(t *testing.T) {
	srv, hits := okServer(t)
	dir := newFakeDirectory()
	dir.add(endpointFor(t, "col-1", srv))
	aud := &memoryAuditor{}
	r := newTestRegistry(t, dir, RegistryOptions{Maintenance: maintenanceSet{"col-1": true}, Auditor: aud})
	ctx := WithActor(WithRequestID(context.Background(), "req-42"), "operator")

	res := r.DigitalOutput(ctx, "col-1", "dev-1", "do-1", DigitalCommand{Enable: true})
	assert.ErrorIs(t, res.Err, ErrMaintenance)
	assert.Zero(t, hits.Load())

	// чтение не ограничено
	assert.True(t, r.DeviceStatus(ctx, "col-1", "dev-1").OK())

	events := aud.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, audit.StatusRefused, events[0].Status)
	assert.Equal(t, OpDigitalOutput, events[0].Operation)
	assert.Equal(t, "req-42", events[0].RequestID)
	assert.Equal(t, "operator", events[0].Actor)
	assert.Equal(t, audit.StatusSuccess, events[1].Status)
	assert.Equal(t, audit.ChannelSync, events[1].Channel)
}

func TestRegistry_OutputCommandCarriesRequestID(t *testing.T) {
	var gotBody atomic.Value
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		var cmd AnalogCommand
		_ = decodeJSON(r, &cmd)
		gotBody.Store(cmd.RequestID)
		_, _ = w.Write([]byte(`{}`))
	})
	dir := newFakeDirectory()
	dir.add(endpointFor(t, "col-1", srv))
	aud := &memoryAuditor{}
	r := newTestRegistry(t, dir, RegistryOptions{Auditor: aud})

	res := r.AnalogOutput(context.Background(), "col-1", "dev-1", "ao-1", AnalogCommand{Value: 12.5})
	require.True(t, res.OK(), "err: %v", res.Err)

	sent, _ := gotBody.Load().(string)
	require.NotEmpty(t, sent)
	events := aud.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, sent, events[0].RequestID)
}

func TestRegistry_DeviceLifecycleUnknownAction(t *testing.T) {
	r := newTestRegistry(t, newFakeDirectory(), RegistryOptions{})
	res := r.DeviceLifecycle(context.Background(), "col-1", "dev-1", "explode")

	var uErr *UnsupportedActionError
	assert.ErrorAs(t, res.Err, &uErr)
}

func TestRegistry_RemoveAndShutdown(t *testing.T) {
	srv, _ := okServer(t)
	dir := newFakeDirectory()
	dir.add(endpointFor(t, "col-1", srv))
	r, err := NewRegistry(dir, infra.AgentsConfig{Defaults: testClientConfig(), FallbackPort: 1}, RegistryOptions{})
	require.NoError(t, err)

	c, err := r.GetClient(context.Background(), "col-1")
	require.NoError(t, err)
	assert.True(t, r.Remove("col-1"))
	assert.False(t, r.Remove("col-1"))
	assert.ErrorIs(t, c.HealthCheck(context.Background()).Err, ErrShutdown)

	r.Shutdown()
	r.Shutdown()

	_, err = r.GetClient(context.Background(), "col-1")
	assert.ErrorIs(t, err, ErrShutdown)
	assert.ErrorIs(t, r.HealthCheck(context.Background(), "col-1").Err, ErrShutdown)
}

func TestRegistry_RemoveClearsHealthService(t *testing.T) {
	srv, _ := okServer(t)
	dir := newFakeDirectory()
	dir.add(endpointFor(t, "col-1", srv))
	reporter := NewHealthReporter(zap.NewNop())
	r := newTestRegistry(t, dir, RegistryOptions{Observer: reporter})

	_, err := r.GetClient(context.Background(), "col-1")
	require.NoError(t, err)
	reporter.ObserveAgent("col-1", true, StateClosed)

	resp, err := reporter.Server().Check(context.Background(), healthRequest(AgentHealthService("col-1")))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	require.True(t, r.Remove("col-1"))

	resp, err = reporter.Server().Check(context.Background(), healthRequest(AgentHealthService("col-1")))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVICE_UNKNOWN, resp.GetStatus())
}
