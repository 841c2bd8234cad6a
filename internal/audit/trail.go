package audit

/*
Файл trail.go реализует журнал решений Control Plane (Audit Trail).

Ключевые особенности архитектуры:
- Non-blocking Logging: события уходят в буферизованный канал, Hot Path
  допуска отправок не ждет запись в БД.
- Batching: накопление в памяти и пакетная запись (Bulk Insert)
  в PostgreSQL по таймеру или при достижении лимита пачки.
- Drain Pattern & Graceful Shutdown: при остановке канал запирается,
  воркер вычитывает остатки и делает финальный flush — потерь при
  перезагрузке нет.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

// Recorder — интерфейс для компонентов, которым нужно писать в журнал.
type Recorder interface {
	Record(event Event)
}

type Trail struct {
	ch     chan Event
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup

	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Record после Stop
	isClosed int32

	// fill отдается в prometheus gauge (заполненность буфера)
	fill func() int
}

const (
	bufferSize    = 10000
	batchSize     = 100
	flushInterval = 500 * time.Millisecond
)

func NewTrail(repo StorageInterface, logger *zap.Logger) *Trail {
	t := &Trail{
		ch:     make(chan Event, bufferSize),
		repo:   repo,
		logger: logger.With(zap.String("mod", "audit-trail")),
	}
	return t
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// BufferFill — текущее число событий в очереди (для метрики saturation).
func (t *Trail) BufferFill() int { return len(t.ch) }

// Stop запирает вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)

	// Крошечная пауза, чтобы текущие Record успели проскочить
	time.Sleep(10 * time.Millisecond)

	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении буфера событие уходит хотя бы в лог
	select {
	case t.ch <- event:
	default:
		t.logger.Error("audit_buffer_overflow",
			zap.String("chip_id", event.ChipID),
			zap.String("kind", string(event.Kind)),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Event, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст к этому моменту может быть закрыт
			if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
				t.logger.Error("audit flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки, финальный flush и выход
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
