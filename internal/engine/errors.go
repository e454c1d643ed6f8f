package engine

import (
	"context"
	"errors"
)

var (
	// ErrCircuitOpen: вызов отклонен breaker'ом без обращения к сети.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrShutdown: клиент или реестр уже остановлены.
	ErrShutdown = errors.New("agent client is shut down")
	// ErrUnknownAgent: агента нет в справочнике (реестр деградирует на клиент по умолчанию).
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrMaintenance: управление выходами запрещено, пока агент на обслуживании.
	ErrMaintenance = errors.New("agent is under maintenance")
)

// Result: итог удаленной операции. CircuitOpen отделен от обычной ошибки,
// чтобы вызывающий сам решал, чем подменить ответ.
type Result[T any] struct {
	Value       T
	Err         error
	CircuitOpen bool
}

func (r Result[T]) OK() bool { return r.Err == nil }

// Or возвращает fallback, если цепь открыта, иначе обычный результат.
func (r Result[T]) Or(fallback T) (T, error) {
	if r.CircuitOpen {
		return fallback, nil
	}
	return r.Value, r.Err
}

func failed[T any](err error) Result[T] {
	return Result[T]{Err: err, CircuitOpen: errors.Is(err, ErrCircuitOpen)}
}

// countsAsFailure: отмена со стороны вызывающего не говорит ничего о здоровье агента.
func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}
