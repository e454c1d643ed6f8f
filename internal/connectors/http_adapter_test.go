package connectors

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, h http.HandlerFunc) *HTTPAdapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPAdapter(srv.Client(), strings.TrimPrefix(srv.URL, "http://"))
}

func TestDo_Success(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/devices/5/worker/start", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"success":true}`))
	})

	resp, err := a.Do(context.Background(), http.MethodPost, "/api/devices/5/worker/start", map[string]any{"force": true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":true}`, string(resp.Body))
}

func TestDo_NonJSONBodyIsQuoted(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	resp, err := a.Do(context.Background(), http.MethodGet, "/api/health", nil)
	require.NoError(t, err)
	assert.Equal(t, `"OK"`, string(resp.Body))
}

func TestDo_Non2xxIsProtocolError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "worker not found", http.StatusNotFound)
	})

	_, err := a.Do(context.Background(), http.MethodGet, "/api/devices/9/status", nil)
	var pErr *ProtocolError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, http.StatusNotFound, pErr.StatusCode)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.Equal(t, "HTTP_404", ErrorCode(err))
}

func TestDo_ThrottleHonoursRetryAfter(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := a.Do(context.Background(), http.MethodGet, "/api/health", nil)
	var tErr *ThrottleError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, 2*time.Second, tErr.RetryAfter)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
}

func TestDo_RefusedIsConnectivityError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	a := NewHTTPAdapter(http.DefaultClient, addr)
	_, err := a.Do(context.Background(), http.MethodGet, "/api/health", nil)

	var cErr *ConnectivityError
	require.True(t, errors.As(err, &cErr))
	assert.Equal(t, "ECONN", ErrorCode(err))
	assert.Equal(t, 0, StatusCode(err))
}

func TestDo_OversizedBodyRejected(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"values":"` + strings.Repeat("x", 64) + `"}`))
	})
	a.maxBody = 32

	_, err := a.Do(context.Background(), http.MethodGet, "/api/devices/5/status", nil)
	var pErr *ProtocolError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, http.StatusOK, pErr.StatusCode)
	assert.Contains(t, pErr.Body, "exceeds 32 bytes")

	a.maxBody = 1024
	resp, err := a.Do(context.Background(), http.MethodGet, "/api/devices/5/status", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(resp.Body), `{"values"`))
}
