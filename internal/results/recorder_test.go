package results

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xela07ax/podtato-smoke/internal/domain"
	"github.com/xela07ax/podtato-smoke/internal/infra"
)

type memStorage struct {
	mu      sync.Mutex
	batches [][]domain.Observation
	block   chan struct{}
	err     error
}

func (m *memStorage) WriteBatch(ctx context.Context, batch []domain.Observation) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]domain.Observation(nil), batch...))
	return m.err
}

func (m *memStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func (m *memStorage) batchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make([]int, 0, len(m.batches))
	for _, b := range m.batches {
		sizes = append(sizes, len(b))
	}
	return sizes
}

func obs(i int) domain.Observation {
	return domain.Observation{ID: strconv.Itoa(i), RunID: "run-1", Success: true, StatusCode: 200}
}

func TestRecorder_BatchesBySize(t *testing.T) {
	store := &memStorage{}
	cfg := infra.EngineConfig{ResultBufferSize: 100, ResultBatchSize: 10, ResultFlushInterval: time.Hour}
	r := NewRecorder(cfg, nil, zap.NewNop(), store)
	r.Start()

	for i := 0; i < 25; i++ {
		r.Record(obs(i))
	}
	r.Stop()

	assert.Equal(t, 25, store.total())
	assert.Equal(t, []int{10, 10, 5}, store.batchSizes())
	assert.Zero(t, r.Dropped())
}

func TestRecorder_FlushesByInterval(t *testing.T) {
	store := &memStorage{}
	cfg := infra.EngineConfig{ResultBufferSize: 100, ResultBatchSize: 1000, ResultFlushInterval: 20 * time.Millisecond}
	r := NewRecorder(cfg, nil, zap.NewNop(), store)
	r.Start()
	defer r.Stop()

	r.Record(obs(1))
	r.Record(obs(2))

	assert.Eventually(t, func() bool { return store.total() == 2 }, time.Second, 10*time.Millisecond)
}

func TestRecorder_FansOutToAllStorages(t *testing.T) {
	failing := &memStorage{err: errors.New("boom")}
	healthy := &memStorage{}
	r := NewRecorder(infra.EngineConfig{ResultBatchSize: 5}, nil, zap.NewNop(), failing, healthy)
	r.Start()

	for i := 0; i < 7; i++ {
		r.Record(obs(i))
	}
	r.Stop()

	assert.Equal(t, 7, healthy.total())
	assert.Equal(t, 7, failing.total())
}

func TestRecorder_SkipsInterrupted(t *testing.T) {
	store := &memStorage{}
	r := NewRecorder(infra.EngineConfig{}, nil, zap.NewNop(), store)
	r.Start()

	r.Record(domain.Observation{ID: "x", Kind: domain.FailureInterrupted})
	r.Record(obs(1))
	r.Stop()

	assert.Equal(t, 1, store.total())
}

func TestRecorder_OverflowIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := &memStorage{block: make(chan struct{})}
	cfg := infra.EngineConfig{ResultBufferSize: 2, ResultBatchSize: 1, ResultFlushInterval: time.Hour}
	r := NewRecorder(cfg, nil, zap.New(core), store)
	r.Start()

	// Воркер забирает первое наблюдение и блокируется на записи, буфер держит еще два
	r.Record(obs(0))
	require.Eventually(t, func() bool { return len(r.ch) == 0 }, time.Second, time.Millisecond)
	r.Record(obs(1))
	r.Record(obs(2))
	r.Record(obs(3))
	r.Record(obs(4))

	assert.EqualValues(t, 2, r.Dropped())
	assert.Equal(t, 2, logs.FilterMessage("result_buffer_overflow").Len())

	close(store.block)
	r.Stop()
	assert.Equal(t, 3, store.total())
}

func TestRecorder_StopIsIdempotent(t *testing.T) {
	store := &memStorage{}
	r := NewRecorder(infra.EngineConfig{}, nil, zap.NewNop(), store)
	r.Start()
	r.Record(obs(1))

	r.Stop()
	assert.NotPanics(t, r.Stop)

	// После остановки запись игнорируется, а не паникует на закрытом канале
	assert.NotPanics(t, func() { r.Record(obs(2)) })
	assert.Equal(t, 1, store.total())
}
