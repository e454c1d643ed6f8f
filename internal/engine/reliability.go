package engine

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/xela07ax/pulseone-control-plane/internal/connectors"
)

// retryPolicy: сколько раз и с какой паузой повторять одну операцию.
type retryPolicy struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
	onRetry   func(n uint, err error)
}

// backoffDelay: экспоненциальная пауза base*2^n с потолком maxDelay.
func backoffDelay(base, maxDelay time.Duration, n uint) time.Duration {
	if n > 30 {
		return maxDelay
	}
	d := base << n
	if d <= 0 || d > maxDelay {
		return maxDelay
	}
	return d
}

// retryable: повторяем только сетевые сбои и явный throttle. Не-2xx не повторяем.
func retryable(err error) bool {
	var tErr *connectors.ThrottleError
	if errors.As(err, &tErr) {
		return true
	}
	var cErr *connectors.ConnectivityError
	return errors.As(err, &cErr) && !errors.Is(err, context.Canceled)
}

// run выполняет fn с повторами. Паузы неблокирующие для контекста: отмена ctx прерывает ожидание.
func (p retryPolicy) run(ctx context.Context, fn func() error) error {
	if p.attempts <= 1 {
		return fn()
	}

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(p.attempts)),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.DelayType(func(n uint, err error, _ retry.DelayContext) time.Duration {
			// Если агент сам сказал, когда приходить (Retry-After): слушаемся, но не дольше потолка
			var tErr *connectors.ThrottleError
			if errors.As(err, &tErr) && tErr.RetryAfter > 0 {
				return min(tErr.RetryAfter, p.maxDelay)
			}
			// retry-go нумерует повторы с 1: первая пауза равна base
			if n > 0 {
				n--
			}
			return backoffDelay(p.baseDelay, p.maxDelay, n)
		}),
	}
	if p.onRetry != nil {
		opts = append(opts, retry.OnRetry(p.onRetry))
	}

	return retry.New(opts...).Do(fn)
}
