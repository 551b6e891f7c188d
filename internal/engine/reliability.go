package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/podtato-smoke/internal/domain"
	"github.com/xela07ax/podtato-smoke/internal/infra"
	"github.com/xela07ax/podtato-smoke/internal/metrics"
)

// BatchWriter - хранилище результатов (Postgres, Redis).
type BatchWriter interface {
	WriteBatch(ctx context.Context, batch []domain.Observation) error
}

// ReliableWriter оборачивает хранилище в Retries и Circuit Breaker,
// чтобы сбой базы не тормозил запись остальных хранилищ.
type ReliableWriter struct {
	name   string
	next   BatchWriter
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewReliableWriter(name string, next BatchWriter, cfg infra.EngineConfig, prom *metrics.Prometheus, logger *zap.Logger) *ReliableWriter {
	logger = logger.Named("reliability").With(zap.String("storage", name))

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(max(cfg.CBMaxRequests, 1)),
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд - открываемся (не пишем в хранилище)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
			if prom != nil {
				prom.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})

	if prom != nil {
		prom.CircuitBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	}

	return &ReliableWriter{
		name:   name,
		next:   next,
		cb:     cb,
		logger: logger,
	}
}

func (w *ReliableWriter) WriteBatch(ctx context.Context, batch []domain.Observation) error {
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(retry.BackOffDelay),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return w.next.WriteBatch(tCtx, batch)
		})
	})
	if err != nil {
		return fmt.Errorf("%s: write batch of %d: %w", w.name, len(batch), err)
	}
	return nil
}
