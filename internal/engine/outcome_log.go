package engine

import (
	"sync"

	"github.com/xela07ax/pulseone-control-plane/internal/domain"
)

// outcomeLog: кольцевой журнал последних вызовов. Старые записи вытесняются первыми.
type outcomeLog struct {
	mu    sync.Mutex
	buf   []domain.CallOutcome
	next  int
	count int
}

func newOutcomeLog(size int) *outcomeLog {
	if size < 1 {
		size = 1
	}
	return &outcomeLog{buf: make([]domain.CallOutcome, size)}
}

func (l *outcomeLog) Append(o domain.CallOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf[l.next] = o
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
}

// Snapshot возвращает записи от старых к новым.
func (l *outcomeLog) Snapshot() []domain.CallOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.CallOutcome, 0, l.count)
	start := (l.next - l.count + len(l.buf)) % len(l.buf)
	for i := 0; i < l.count; i++ {
		out = append(out, l.buf[(start+i)%len(l.buf)])
	}
	return out
}
