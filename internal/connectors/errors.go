package connectors

import (
	"fmt"
	"time"
)

// ThrottleError: агент попросил подождать (429/503 + Retry-After).
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// ConnectivityError: отказ в соединении, таймаут, DNS. Считается отказом breaker и может повторяться.
type ConnectivityError struct {
	Op    string
	Addr  string
	Cause error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity: %s %s: %v", e.Op, e.Addr, e.Cause)
}

func (e *ConnectivityError) Unwrap() error { return e.Cause }

// Code: короткий код для журнала метрик клиента.
func (e *ConnectivityError) Code() string { return "ECONN" }

// ProtocolError: агент ответил не-2xx. Считается отказом breaker, по умолчанию не повторяется.
type ProtocolError struct {
	StatusCode int
	Body       string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("agent responded with status %d: %s", e.StatusCode, e.Body)
}

func (e *ProtocolError) Code() string { return fmt.Sprintf("HTTP_%d", e.StatusCode) }
