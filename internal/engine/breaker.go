package engine

import (
	"sync"
	"time"

	"github.com/xela07ax/pulseone-control-plane/internal/domain"
)

// BreakerState: состояние предохранителя одного агента.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerSettings: порог и время восстановления. Clock подменяется в тестах.
type BreakerSettings struct {
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	Clock            func() time.Time
	OnStateChange    func(name string, from, to BreakerState)
}

// Breaker: CLOSED → OPEN (порог) → HALF_OPEN (по таймауту или ForceProbe) → CLOSED/OPEN.
// Свой, а не gobreaker: нужен ForceProbe, который сдвигает nextAttemptAt без сброса истории отказов.
type Breaker struct {
	mu            sync.Mutex
	settings      BreakerSettings
	state         BreakerState
	failureCount  int
	nextAttemptAt time.Time
	lastFailureAt time.Time
	probing       bool // в HALF_OPEN пропускаем только одну пробную операцию
}

func NewBreaker(s BreakerSettings) *Breaker {
	if s.FailureThreshold < 1 {
		s.FailureThreshold = 5
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = 30 * time.Second
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
	return &Breaker{settings: s, state: StateClosed}
}

// Execute: сама операция выполняется вне блокировки.
func Execute[T any](b *Breaker, op func(trial bool) (T, error)) Result[T] {
	trial, err := b.allow()
	if err != nil {
		return failed[T](err)
	}

	v, err := op(trial)
	if countsAsFailure(err) {
		b.onFailure()
		return Result[T]{Value: v, Err: err}
	}
	if err != nil {
		// отмена вызывающим: пробу освобождаем, счетчики не трогаем
		b.release()
		return Result[T]{Value: v, Err: err}
	}
	b.onSuccess()
	return Result[T]{Value: v}
}

// allow решает, можно ли выполнять операцию. trial=true: это пробный вызов в HALF_OPEN.
func (b *Breaker) allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.settings.Clock().Before(b.nextAttemptAt) {
			return false, ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return true, nil
	case StateHalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.probing = false
	b.setState(StateClosed)
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.settings.Clock()
	b.failureCount++
	b.lastFailureAt = now

	if b.state == StateHalfOpen || b.failureCount >= b.settings.FailureThreshold {
		b.probing = false
		b.nextAttemptAt = now.Add(b.settings.RecoveryTimeout)
		b.setState(StateOpen)
	}
}

func (b *Breaker) release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

// ForceProbe разрешает следующую попытку сразу, не дожидаясь RecoveryTimeout.
// Состояние остается OPEN, failureCount не сбрасывается: один новый отказ снова откроет цепь.
func (b *Breaker) ForceProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		b.nextAttemptAt = b.settings.Clock()
	}
}

// State: текущее состояние (для метрик и консоли).
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot: копия BreakerState для консоли.
func (b *Breaker) Snapshot() domain.BreakerInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.BreakerInfo{
		State:         b.state.String(),
		FailureCount:  b.failureCount,
		NextAttemptAt: b.nextAttemptAt,
		LastFailureAt: b.lastFailureAt,
	}
}

// setState вызывается под b.mu
func (b *Breaker) setState(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}
