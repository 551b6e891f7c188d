package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/podtato-smoke/internal/domain"
	"github.com/xela07ax/podtato-smoke/internal/infra"
)

func newRepo(t *testing.T) (*miniredis.Miniredis, *RateRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, NewRateRepo(rdb, time.Hour)
}

func batchOf(runID string, total, failures int) []domain.Observation {
	batch := make([]domain.Observation, 0, total)
	for i := 0; i < total; i++ {
		batch = append(batch, domain.Observation{ID: uuid.New().String(), RunID: runID, Success: i >= failures})
	}
	return batch
}

func TestRateRepo_AccumulatesAcrossBatches(t *testing.T) {
	mr, repo := newRepo(t)
	ctx := context.Background()

	// Два инстанса одного прогона пишут независимо
	require.NoError(t, repo.WriteBatch(ctx, batchOf("run-1", 60, 3)))
	require.NoError(t, repo.WriteBatch(ctx, batchOf("run-1", 40, 2)))

	c, err := repo.Counts(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, Counts{Iterations: 100, Errors: 5, ChecksPassed: 95}, c)
	assert.Equal(t, time.Hour, mr.TTL(infra.RunRatesKey("run-1")))
}

func TestRateRepo_GroupsByRun(t *testing.T) {
	_, repo := newRepo(t)
	ctx := context.Background()

	batch := append(batchOf("run-1", 3, 1), batchOf("run-2", 2, 2)...)
	require.NoError(t, repo.WriteBatch(ctx, batch))

	c1, err := repo.Counts(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, Counts{Iterations: 3, Errors: 1, ChecksPassed: 2}, c1)

	c2, err := repo.Counts(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, Counts{Iterations: 2, Errors: 2}, c2)
}

func TestRateRepo_RepeatedBatchCountedOnce(t *testing.T) {
	mr, repo := newRepo(t)
	ctx := context.Background()
	batch := batchOf("run-1", 4, 1)

	// Повтор той же пачки (ответ на первую запись потерян)
	require.NoError(t, repo.WriteBatch(ctx, batch))
	require.NoError(t, repo.WriteBatch(ctx, batch))

	c, err := repo.Counts(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, Counts{Iterations: 4, Errors: 1, ChecksPassed: 3}, c)

	guard := infra.RunBatchKey("run-1", batch[0].ID)
	assert.True(t, mr.Exists(guard))
	assert.Equal(t, time.Hour, mr.TTL(guard))
}

func TestRateRepo_BatchWithoutIDs(t *testing.T) {
	_, repo := newRepo(t)
	ctx := context.Background()
	batch := []domain.Observation{{RunID: "run-1", Success: true}, {RunID: "run-1"}}

	require.NoError(t, repo.WriteBatch(ctx, batch))

	c, err := repo.Counts(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, Counts{Iterations: 2, Errors: 1, ChecksPassed: 1}, c)
}

func TestRateRepo_UnknownRun(t *testing.T) {
	_, repo := newRepo(t)

	c, err := repo.Counts(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, Counts{}, c)
}

func TestRateRepo_EmptyBatch(t *testing.T) {
	_, repo := newRepo(t)
	assert.NoError(t, repo.WriteBatch(context.Background(), nil))
}
