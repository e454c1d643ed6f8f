package audit

/*
Журнал команд control plane.

- Non-blocking: события из горячего пути уходят в буферизованный канал,
  задержка записи в БД не влияет на время ответа оператору.
- Batching: накопление в памяти и пакетная запись по таймеру или по размеру пачки.
- Drain: при остановке канал закрывается, воркер вычитывает остаток и делает финальный flush.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	WriteBatch(ctx context.Context, events []AuditEvent) error
}

type Auditor interface {
	Log(event AuditEvent)
}

// Nop: аудит выключен (тесты, локальный запуск без БД).
type Nop struct{}

func (Nop) Log(AuditEvent) {}

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Fill          prometheus.Gauge // заполненность буфера, может быть nil
}

type CommandJournal struct {
	ch     chan AuditEvent
	repo   StorageInterface
	opts   Options
	logger *zap.Logger
	wg     sync.WaitGroup
	// защита от Log после Stop
	isClosed atomic.Bool
}

func NewCommandJournal(repo StorageInterface, opts Options, logger *zap.Logger) *CommandJournal {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	return &CommandJournal{
		ch:     make(chan AuditEvent, opts.BufferSize),
		repo:   repo,
		opts:   opts,
		logger: logger.With(zap.String("mod", "audit")),
	}
}

func (j *CommandJournal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (j *CommandJournal) Stop() {
	if !j.isClosed.CompareAndSwap(false, true) {
		return
	}
	// Даем крошечную паузу, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	j.logger.Info("stopping audit journal: closing channel and flushing buffer...")
	close(j.ch)
	j.wg.Wait()
	j.logger.Info("audit journal stopped gracefully")
}

func (j *CommandJournal) Log(event AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if j.isClosed.Load() {
		j.logger.Warn("audit event dropped: journal is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: переполненный буфер не должен тормозить управление агентами
	select {
	case j.ch <- event:
		if j.opts.Fill != nil {
			j.opts.Fill.Set(float64(len(j.ch)))
		}
	default:
		j.logger.Error("audit_buffer_overflow",
			zap.String("agent_id", event.AgentID),
			zap.String("operation", event.Operation),
			zap.String("request_id", event.RequestID),
		)
	}
}

func (j *CommandJournal) worker() {
	defer j.wg.Done()

	batch := make([]AuditEvent, 0, j.opts.BatchSize)
	ticker := time.NewTicker(j.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к этому моменту может быть уже закрыт
		if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
			j.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		if j.opts.Fill != nil {
			j.opts.Fill.Set(float64(len(j.ch)))
		}
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				// Канал закрыт в Stop(): остаток уже вычитан, финальный сброс
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= j.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
