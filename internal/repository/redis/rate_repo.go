// Package redis хранит агрегированные счетчики прогона, общие для всех инстансов.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/podtato-smoke/internal/domain"
	"github.com/xela07ax/podtato-smoke/internal/infra"
)

// Counts - счетчики прогона, накопленные всеми инстансами.
type Counts struct {
	Iterations   int64 `json:"iterations"`
	Errors       int64 `json:"errors"`
	ChecksPassed int64 `json:"checks_passed"`
}

type RateRepo struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRateRepo(rdb *redis.Client, ttl time.Duration) *RateRepo {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RateRepo{rdb: rdb, ttl: ttl}
}

// WriteBatch сворачивает пачку в счетчики и применяет их одной транзакцией.
// Пачка помечается guard-ключом: повтор после потерянного ответа ничего не добавляет.
func (r *RateRepo) WriteBatch(ctx context.Context, batch []domain.Observation) error {
	if len(batch) == 0 {
		return nil
	}

	// Пачка может содержать несколько прогонов только в тестах, но группируем честно
	perRun := make(map[string]*Counts)
	for _, o := range batch {
		c, ok := perRun[o.RunID]
		if !ok {
			c = &Counts{}
			perRun[o.RunID] = c
		}
		c.Iterations++
		if o.Failed() {
			c.Errors++
		} else {
			c.ChecksPassed++
		}
	}

	apply := func(pipe redis.Pipeliner) {
		for runID, c := range perRun {
			key := infra.RunRatesKey(runID)
			pipe.HIncrBy(ctx, key, infra.RedisFieldIterations, c.Iterations)
			pipe.HIncrBy(ctx, key, infra.RedisFieldErrors, c.Errors)
			pipe.HIncrBy(ctx, key, infra.RedisFieldChecksPassed, c.ChecksPassed)
			pipe.Expire(ctx, key, r.ttl)
		}
	}

	// Наблюдение попадает ровно в одну пачку, поэтому его ID годится как ID пачки
	batchID := batch[0].ID
	if batchID == "" {
		if _, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			apply(pipe)
			return nil
		}); err != nil {
			return fmt.Errorf("redis: incr run counters: %w", err)
		}
		return nil
	}

	guard := infra.RunBatchKey(batch[0].RunID, batchID)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		applied, err := tx.Exists(ctx, guard).Result()
		if err != nil {
			return err
		}
		if applied > 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, guard, len(batch), r.ttl)
			apply(pipe)
			return nil
		})
		return err
	}, guard)
	if err != nil {
		return fmt.Errorf("redis: incr run counters: %w", err)
	}
	return nil
}

// Counts читает счетчики прогона. Для неизвестного прогона - нули.
func (r *RateRepo) Counts(ctx context.Context, runID string) (Counts, error) {
	fields, err := r.rdb.HGetAll(ctx, infra.RunRatesKey(runID)).Result()
	if err != nil {
		return Counts{}, fmt.Errorf("redis: read run counters: %w", err)
	}

	var c Counts
	for name, dst := range map[string]*int64{
		infra.RedisFieldIterations:   &c.Iterations,
		infra.RedisFieldErrors:       &c.Errors,
		infra.RedisFieldChecksPassed: &c.ChecksPassed,
	} {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Counts{}, fmt.Errorf("redis: field %s: %w", name, err)
		}
		*dst = v
	}
	return c, nil
}
