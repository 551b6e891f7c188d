package results

/*
Recorder - асинхронная запись наблюдений прогона во внешние хранилища.

- Non-blocking: VU кладет наблюдение в буферизированный канал и сразу идет
  на следующую итерацию. Задержки базы не влияют на http_req_duration.
- Batching: накопление в памяти и пакетная запись по таймеру или по размеру пачки.
- Drain: Stop закрывает канал, воркер вычитывает остатки и делает финальный flush.
- Load Shedding: при переполнении буфера наблюдение отбрасывается с записью в лог.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/podtato-smoke/internal/domain"
	"github.com/xela07ax/podtato-smoke/internal/infra"
	"github.com/xela07ax/podtato-smoke/internal/metrics"
)

// Storage определяет, куда физически сохраняются наблюдения
type Storage interface {
	// WriteBatch сохраняет пачку наблюдений за один раз
	WriteBatch(ctx context.Context, batch []domain.Observation) error
}

type Recorder struct {
	ch            chan domain.Observation
	storages      []Storage
	batchSize     int
	flushInterval time.Duration
	prom          *metrics.Prometheus
	logger        *zap.Logger
	wg            sync.WaitGroup

	dropped  atomic.Int64
	isClosed atomic.Bool
	// mu защищает отправку в канал от гонки с close в Stop
	mu sync.RWMutex
}

// NewRecorder создает рекордер; prom может быть nil.
func NewRecorder(cfg infra.EngineConfig, prom *metrics.Prometheus, logger *zap.Logger, storages ...Storage) *Recorder {
	bufSize := cfg.ResultBufferSize
	if bufSize <= 0 {
		bufSize = 10000
	}
	batchSize := cfg.ResultBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	interval := cfg.ResultFlushInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	return &Recorder{
		ch:            make(chan domain.Observation, bufSize),
		storages:      storages,
		batchSize:     batchSize,
		flushInterval: interval,
		prom:          prom,
		logger:        logger.Named("results"),
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.isClosed.Swap(true) {
		r.mu.Unlock()
		return
	}
	r.logger.Info("stopping recorder: closing channel and flushing buffer...")
	close(r.ch)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("recorder stopped", zap.Int64("dropped", r.dropped.Load()))
}

// Dropped - сколько наблюдений потеряно из-за переполнения буфера.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Record реализует smoke.Recorder.
func (r *Recorder) Record(o domain.Observation) {
	if o.Interrupted() {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.isClosed.Load() {
		r.logger.Warn("observation dropped: recorder is stopping", zap.String("id", o.ID))
		return
	}

	select {
	case r.ch <- o:
		if r.prom != nil {
			r.prom.ResultBufferFill.Set(float64(len(r.ch)))
		}
	default:
		r.dropped.Add(1)
		r.logger.Error("result_buffer_overflow",
			zap.String("run_id", o.RunID),
			zap.Int("vu", o.VU),
			zap.Int64("iteration", o.Iteration),
		)
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]domain.Observation, 0, r.batchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Используем Background, так как контекст прогона может быть уже отменен
		for _, s := range r.storages {
			if err := s.WriteBatch(context.Background(), batch); err != nil {
				r.logger.Error("result flush failed", zap.Int("size", len(batch)), zap.Error(err))
			}
		}
		batch = batch[:0]
		if r.prom != nil {
			r.prom.ResultBufferFill.Set(float64(len(r.ch)))
		}
	}

	for {
		select {
		case o, ok := <-r.ch:
			if !ok {
				// Канал закрыт в Stop(): остатки уже вычитаны, делаем финальный flush
				flush()
				return
			}
			batch = append(batch, o)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
