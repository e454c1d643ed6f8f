package engine

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_LimitsFromConfig(t *testing.T) {
	cfg := testClientConfig()
	cfg.MaxSockets = 20
	p := NewPool(cfg)
	defer p.Destroy()

	st := p.Stats()
	assert.Equal(t, 20, st.MaxSockets)
	assert.Equal(t, 4, st.MaxFreeSockets)
	assert.Zero(t, st.Active)
	assert.Zero(t, st.Free)

	cfg.MaxSockets = 3
	small := NewPool(cfg)
	defer small.Destroy()
	assert.Equal(t, 2, small.Stats().MaxFreeSockets)
}

func TestPool_KeepsConnectionAndDestroysIt(t *testing.T) {
	srv, _ := okServer(t)
	p := NewPool(testClientConfig())

	resp, err := p.Client().Get(srv.URL)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	st := p.Stats()
	assert.Zero(t, st.Active)
	assert.Equal(t, 1, st.Free)

	p.Destroy()
	p.Destroy()
	assert.Zero(t, p.Stats().Free)

	_, err = p.Client().Get(srv.URL)
	assert.ErrorIs(t, err, ErrShutdown)
}
