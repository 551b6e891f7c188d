package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/podtato-smoke/internal/domain"
	"github.com/xela07ax/podtato-smoke/internal/infra"
	"github.com/xela07ax/podtato-smoke/internal/metrics"
)

// Iteration - одна итерация виртуального пользователя (реализуется smoke.Check).
type Iteration interface {
	Run(ctx context.Context, vu int, iteration int64) domain.Observation
}

// RunStats - итог работы планировщика.
type RunStats struct {
	RunID      string        `json:"run_id"`
	Started    time.Time     `json:"started"`
	Finished   time.Time     `json:"finished"`
	Elapsed    time.Duration `json:"elapsed"`
	Iterations int64         `json:"iterations"`
	Aborted    bool          `json:"aborted"`
}

// Runner запускает VU-горутины и раздает им итерации.
type Runner struct {
	runID   string
	cfg     infra.RunConfig
	iter    Iteration
	limiter *rate.Limiter
	prom    *metrics.Prometheus
	logger  *zap.Logger
}

// NewRunner создает планировщик. prom может быть nil.
func NewRunner(runID string, cfg infra.RunConfig, iter Iteration, prom *metrics.Prometheus, logger *zap.Logger) *Runner {
	r := &Runner{
		runID:  runID,
		cfg:    cfg,
		iter:   iter,
		prom:   prom,
		logger: logger.Named("runner"),
	}

	// Общий темп на все VU; burst = 1, чтобы не было всплеска на старте
	if cfg.RPS > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return r
}

// Run блокирует до окончания прогона: исчерпан бюджет итераций, истек срок
// или отменен ctx (сигнал / abort).
func (r *Runner) Run(ctx context.Context) RunStats {
	stats := RunStats{RunID: r.runID, Started: time.Now()}

	// Срок действует только на старт новых итераций: текущие запросы дорабатывают
	deadline := r.deadline(stats.Started)

	vus := r.cfg.VUs
	if vus < 1 {
		vus = 1
	}

	r.logger.Info("run started",
		zap.String("run_id", r.runID),
		zap.Int("vus", vus),
		zap.Int64("iterations", r.cfg.Iterations),
		zap.Duration("duration", r.cfg.Duration),
		zap.Float64("rps", r.cfg.RPS),
	)

	var next, done atomic.Int64
	var wg sync.WaitGroup
	for vu := 1; vu <= vus; vu++ {
		wg.Add(1)
		go func(vu int) {
			defer wg.Done()
			r.vuLoop(ctx, vu, deadline, &next, &done)
		}(vu)
	}
	wg.Wait()

	stats.Finished = time.Now()
	stats.Elapsed = stats.Finished.Sub(stats.Started)
	stats.Iterations = done.Load()
	stats.Aborted = ctx.Err() != nil

	r.logger.Info("run finished",
		zap.String("run_id", r.runID),
		zap.Int64("iterations", stats.Iterations),
		zap.Duration("elapsed", stats.Elapsed),
		zap.Bool("aborted", stats.Aborted),
	)
	return stats
}

func (r *Runner) vuLoop(ctx context.Context, vu int, deadline time.Time, next, done *atomic.Int64) {
	if r.prom != nil {
		r.prom.ActiveVUs.Inc()
		defer r.prom.ActiveVUs.Dec()
	}

	budget := r.budget()
	for {
		if ctx.Err() != nil || time.Now().After(deadline) {
			return
		}

		// Бюджет итераций общий для всех VU
		n := next.Add(1)
		if n > budget {
			return
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			if time.Now().After(deadline) {
				return
			}
		}

		// Прерванная итерация не попадает в метрики, не считаем ее и здесь
		if obs := r.iter.Run(ctx, vu, n); !obs.Interrupted() {
			done.Add(1)
		}
	}
}

// budget - сколько итераций разрешено; без лимита - MaxInt64.
func (r *Runner) budget() int64 {
	if r.cfg.Iterations > 0 {
		return r.cfg.Iterations
	}
	return 1<<63 - 1
}

func (r *Runner) deadline(start time.Time) time.Time {
	switch {
	case r.cfg.Duration > 0:
		return start.Add(r.cfg.Duration)
	case r.cfg.MaxDuration > 0:
		return start.Add(r.cfg.MaxDuration)
	}
	// Ни срока, ни лимита - ограничиваемся только бюджетом итераций
	return time.Unix(1<<62, 0)
}
