package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/pulseone-control-plane/internal/connectors"
)

// countingServer отвечает handler'ом и считает сетевые попытки.
func countingServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func throttled(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Retry-After", "0")
	w.WriteHeader(http.StatusServiceUnavailable)
}

func TestAgentClient_Success(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/devices/dev-7/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"running":true}`))
	})
	c := newTestClient(t, srv, testClientConfig(), nil)

	res := c.DeviceStatus(context.Background(), "dev-7")

	require.True(t, res.OK(), "err: %v", res.Err)
	assert.JSONEq(t, `{"running":true}`, string(res.Value))
	assert.True(t, c.IsHealthy())

	calls := c.Stats().RecentCalls
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Success)
	assert.Equal(t, http.StatusOK, calls[0].StatusCode)
	assert.Equal(t, OpDeviceStatus, calls[0].Operation)
}

func TestAgentClient_RetriesBounded(t *testing.T) {
	srv, hits := countingServer(t, throttled)
	c := newTestClient(t, srv, testClientConfig(), nil)

	res := c.call(context.Background(), "probe", http.MethodGet, pathHealth, nil, WithRetries(2))

	require.Error(t, res.Err)
	var tErr *connectors.ThrottleError
	assert.ErrorAs(t, res.Err, &tErr)
	assert.EqualValues(t, 3, hits.Load())
}

func TestAgentClient_NonIdempotentNotRetried(t *testing.T) {
	srv, hits := countingServer(t, throttled)
	c := newTestClient(t, srv, testClientConfig(), nil)

	res := c.StartDevice(context.Background(), "dev-1")

	require.Error(t, res.Err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestAgentClient_ProtocolErrorNotRetried(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad device", http.StatusBadRequest)
	})
	c := newTestClient(t, srv, testClientConfig(), nil)

	res := c.DeviceStatus(context.Background(), "dev-1")

	assert.Equal(t, http.StatusBadRequest, connectors.StatusCode(res.Err))
	assert.EqualValues(t, 1, hits.Load())
	// агент ответил: значит он жив
	assert.True(t, c.IsHealthy())
}

func TestAgentClient_BreakerLifecycle(t *testing.T) {
	failing := atomic.Bool{}
	failing.Store(true)
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	clock := newFakeClock()
	cfg := testClientConfig()
	cfg.FailureThreshold = 5
	cfg.RecoveryTimeout = 30 * time.Second
	c := newTestClient(t, srv, cfg, clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res := c.StartDevice(ctx, "dev-1")
		require.Error(t, res.Err)
		assert.False(t, res.CircuitOpen)
	}
	require.Equal(t, StateOpen, c.Breaker().State())
	require.EqualValues(t, 5, hits.Load())

	// шестой вызов не доходит до сети
	res := c.StartDevice(ctx, "dev-1")
	assert.True(t, res.CircuitOpen)
	assert.ErrorIs(t, res.Err, ErrCircuitOpen)
	assert.EqualValues(t, 5, hits.Load())

	// после cooldown: ровно одна пробная попытка, даже для вызова с повторами
	clock.Advance(30 * time.Second)
	res = c.DeviceStatus(ctx, "dev-1")
	require.Error(t, res.Err)
	assert.False(t, res.CircuitOpen)
	assert.EqualValues(t, 6, hits.Load())
	assert.Equal(t, StateOpen, c.Breaker().State())

	clock.Advance(30 * time.Second)
	failing.Store(false)
	res = c.DeviceStatus(ctx, "dev-1")
	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Equal(t, StateClosed, c.Breaker().State())
	assert.Zero(t, c.Breaker().Snapshot().FailureCount)
}

func TestAgentClient_SyncSettingsBypassesCooldown(t *testing.T) {
	failing := atomic.Bool{}
	failing.Store(true)
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.Equal(t, "/api/devices/dev-1/settings/reload", r.URL.Path)
		_, _ = w.Write([]byte(`{"reloaded":true}`))
	})
	cfg := testClientConfig()
	cfg.FailureThreshold = 2
	c := newTestClient(t, srv, cfg, newFakeClock())
	ctx := context.Background()

	c.StartDevice(ctx, "dev-1")
	c.StartDevice(ctx, "dev-1")
	require.Equal(t, StateOpen, c.Breaker().State())

	assert.True(t, c.NotifyConfigChange(ctx, "dev-1").CircuitOpen)

	failing.Store(false)
	res := c.SyncSettings(ctx, "dev-1")
	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Equal(t, StateClosed, c.Breaker().State())
	assert.EqualValues(t, 3, hits.Load())
}

func TestAgentClient_IsolatedProbeDoesNotTripUserBreaker(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	cfg := testClientConfig()
	cfg.FailureThreshold = 3
	c := newTestClient(t, srv, cfg, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.False(t, c.Probe(ctx).OK())
	}
	assert.Equal(t, StateClosed, c.Breaker().State())
	assert.False(t, c.IsHealthy())
	assert.False(t, c.LastHealthCheck().IsZero())

	// собственный breaker пробы уже открыт
	assert.True(t, c.Probe(ctx).CircuitOpen)
}

func TestAgentClient_SharedProbeTripsBreaker(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	cfg := testClientConfig()
	cfg.FailureThreshold = 3
	shared := false
	cfg.ProbeIsolation = &shared
	c := newTestClient(t, srv, cfg, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.Probe(ctx)
	}
	assert.Equal(t, StateOpen, c.Breaker().State())
}

func TestAgentClient_FastTimeout(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	})
	cfg := testClientConfig()
	cfg.FastTimeout = 50 * time.Millisecond
	c := newTestClient(t, srv, cfg, nil)

	start := time.Now()
	res := c.WorkerStatusSummary(context.Background())

	require.Error(t, res.Err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.False(t, c.IsHealthy())

	calls := c.Stats().RecentCalls
	require.NotEmpty(t, calls)
	assert.Equal(t, "ETIMEDOUT", calls[len(calls)-1].ErrorCode)
}

func TestAgentClient_ObserverNotified(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	obs := &recordingObserver{}
	cfg := testClientConfig()
	cfg.FailureThreshold = 1
	c, err := NewAgentClient(endpointFor(t, "col-9", srv), cfg, ClientOptions{Observer: obs})
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)

	c.StartDevice(context.Background(), "dev-1")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.NotEmpty(t, obs.calls)
	last := obs.calls[len(obs.calls)-1]
	assert.Equal(t, "col-9", last.id)
	assert.Equal(t, StateOpen, last.state)
}

func TestAgentClient_Shutdown(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	cfg := testClientConfig()
	cfg.HealthCheckInterval = time.Hour
	c := newTestClient(t, srv, cfg, nil)

	require.True(t, c.HealthCheck(context.Background()).OK())
	c.Shutdown()
	c.Shutdown()

	res := c.HealthCheck(context.Background())
	assert.ErrorIs(t, res.Err, ErrShutdown)
	assert.ErrorIs(t, c.Probe(context.Background()).Err, ErrShutdown)
	assert.EqualValues(t, 1, hits.Load())
	assert.Zero(t, c.Stats().Pool.Active)
}

func TestAgentClient_OutputCommandBody(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/devices/dev-1/digital/do-3/control", r.URL.Path)
		var cmd DigitalCommand
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&cmd))
		assert.True(t, cmd.Enable)
		assert.Equal(t, "req-1", cmd.RequestID)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	c := newTestClient(t, srv, testClientConfig(), nil)

	res := c.DigitalOutput(context.Background(), "dev-1", "do-3", DigitalCommand{Enable: true, RequestID: "req-1"})
	assert.True(t, res.OK(), "err: %v", res.Err)
}

func TestNewAgentClient_RejectsInvalidConfig(t *testing.T) {
	cfg := testClientConfig()
	cfg.FailureThreshold = 0
	srv, _ := countingServer(t, http.NotFound)
	_, err := NewAgentClient(endpointFor(t, "x", srv), cfg, ClientOptions{})
	assert.Error(t, err)
}

func TestAgentClient_NetworkScanOutlastsRequestTimeout(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(150 * time.Millisecond)
		_, _ = w.Write([]byte(`{"found":[]}`))
	})
	cfg := testClientConfig()
	cfg.Timeout = 50 * time.Millisecond
	c := newTestClient(t, srv, cfg, nil)

	res := c.NetworkScan(context.Background(), ScanRequest{Protocol: "modbus_tcp", TimeoutMs: 500})
	require.NoError(t, res.Err)
	assert.JSONEq(t, `{"found":[]}`, string(res.Value))
	assert.EqualValues(t, 1, hits.Load())

	// обычная операция с тем же таймаутом не дожидается ответа
	res = c.StartDevice(context.Background(), "dev-1")
	var cErr *connectors.ConnectivityError
	assert.ErrorAs(t, res.Err, &cErr)
}
