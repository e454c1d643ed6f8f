package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/pulseone-control-plane/internal/connectors"
)

func TestBackoffDelay(t *testing.T) {
	base, ceil := 100*time.Millisecond, time.Second

	assert.Equal(t, 100*time.Millisecond, backoffDelay(base, ceil, 0))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(base, ceil, 1))
	assert.Equal(t, 800*time.Millisecond, backoffDelay(base, ceil, 3))
	assert.Equal(t, ceil, backoffDelay(base, ceil, 4))
	assert.Equal(t, ceil, backoffDelay(base, ceil, 63))
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&connectors.ConnectivityError{Op: "GET", Cause: errors.New("refused")}))
	assert.True(t, retryable(&connectors.ThrottleError{RetryAfter: time.Second}))
	assert.False(t, retryable(&connectors.ProtocolError{StatusCode: 500}))
	assert.False(t, retryable(&connectors.ConnectivityError{Op: "GET", Cause: context.Canceled}))
	assert.False(t, retryable(errBoom))
}

func TestRetryPolicy_StopsOnNonRetryable(t *testing.T) {
	p := retryPolicy{attempts: 5, baseDelay: time.Millisecond, maxDelay: time.Millisecond}

	calls := 0
	err := p.run(context.Background(), func() error {
		calls++
		return &connectors.ProtocolError{StatusCode: 400}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_BoundedAttempts(t *testing.T) {
	p := retryPolicy{attempts: 3, baseDelay: time.Millisecond, maxDelay: 2 * time.Millisecond}

	calls := 0
	err := p.run(context.Background(), func() error {
		calls++
		return &connectors.ConnectivityError{Op: "GET", Cause: errors.New("refused")}
	})

	var cErr *connectors.ConnectivityError
	assert.ErrorAs(t, err, &cErr)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_SingleAttemptCallsDirectly(t *testing.T) {
	p := retryPolicy{attempts: 1}
	calls := 0
	err := p.run(context.Background(), func() error {
		calls++
		return &connectors.ConnectivityError{Cause: errors.New("refused")}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_BackoffStartsAtBaseAndGrows(t *testing.T) {
	base := 40 * time.Millisecond
	p := retryPolicy{attempts: 4, baseDelay: base, maxDelay: time.Second}

	var at []time.Time
	err := p.run(context.Background(), func() error {
		at = append(at, time.Now())
		return &connectors.ConnectivityError{Op: "GET", Cause: errors.New("refused")}
	})
	require.Error(t, err)
	require.Len(t, at, 4)

	gaps := make([]time.Duration, 0, 3)
	for i := 1; i < len(at); i++ {
		gaps = append(gaps, at[i].Sub(at[i-1]))
	}

	// ожидаем 40ms, 80ms, 160ms
	assert.GreaterOrEqual(t, gaps[0], base)
	assert.Less(t, gaps[0], 2*base, "first pause must be the base delay, got %v", gaps)
	assert.Greater(t, gaps[1], gaps[0])
	assert.Greater(t, gaps[2], gaps[1])
	assert.GreaterOrEqual(t, gaps[2], 4*base)
}
