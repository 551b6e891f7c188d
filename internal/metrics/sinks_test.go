package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRate_ErrorRate(t *testing.T) {
	var r Rate
	for i := 0; i < 100; i++ {
		r.Add(i < 5)
	}

	v, ok := r.Value(Aggregation{Method: MethodRate})
	require.True(t, ok)
	assert.InDelta(t, 0.05, v, 1e-9)
	assert.EqualValues(t, 100, r.Count())
	assert.EqualValues(t, 5, r.Trues())

	passes, ok := r.Value(Aggregation{Method: MethodCount})
	require.True(t, ok)
	assert.EqualValues(t, 5, passes)
}

func TestRate_EmptyAndMerge(t *testing.T) {
	var r Rate
	v, ok := r.Value(Aggregation{Method: MethodRate})
	require.True(t, ok)
	assert.Zero(t, v)

	r.Merge(3, 12)
	v, _ = r.Value(Aggregation{Method: MethodRate})
	assert.InDelta(t, 0.25, v, 1e-9)

	_, ok = r.Value(Aggregation{Method: MethodAvg})
	assert.False(t, ok)
}

func TestRate_ConcurrentAdd(t *testing.T) {
	var r Rate
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Add(i%10 == 0)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10000, r.Count())
	assert.EqualValues(t, 1000, r.Trues())
}

func TestTrend_Aggregations(t *testing.T) {
	var tr Trend
	for i := 1; i <= 10; i++ {
		tr.Add(float64(i * 10))
	}

	tests := []struct {
		agg  Aggregation
		want float64
	}{
		{Aggregation{Method: MethodCount}, 10},
		{Aggregation{Method: MethodAvg}, 55},
		{Aggregation{Method: MethodMin}, 10},
		{Aggregation{Method: MethodMax}, 100},
		{Aggregation{Method: MethodMed}, 55},
		{Aggregation{Method: MethodPercentile, Arg: 90}, 91},
		{Aggregation{Method: MethodPercentile, Arg: 95}, 95.5},
		{Aggregation{Method: MethodPercentile, Arg: 100}, 100},
		{Aggregation{Method: MethodPercentile, Arg: 0}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.agg.String(), func(t *testing.T) {
			v, ok := tr.Value(tt.agg)
			require.True(t, ok)
			assert.InDelta(t, tt.want, v, 1e-9)
		})
	}

	_, ok := tr.Value(Aggregation{Method: MethodRate})
	assert.False(t, ok)
}

func TestTrend_SingleAndEmpty(t *testing.T) {
	var tr Trend
	v, _ := tr.Value(Aggregation{Method: MethodPercentile, Arg: 95})
	assert.Zero(t, v)
	v, _ = tr.Value(Aggregation{Method: MethodAvg})
	assert.Zero(t, v)

	tr.Add(42)
	v, _ = tr.Value(Aggregation{Method: MethodPercentile, Arg: 95})
	assert.Equal(t, 42.0, v)
}

func TestTrend_AddAfterPercentile(t *testing.T) {
	var tr Trend
	tr.Add(30)
	tr.Add(10)
	v, _ := tr.Value(Aggregation{Method: MethodMed})
	assert.Equal(t, 20.0, v)

	tr.Add(5)
	v, _ = tr.Value(Aggregation{Method: MethodMed})
	assert.Equal(t, 10.0, v)
	v, _ = tr.Value(Aggregation{Method: MethodMin})
	assert.Equal(t, 5.0, v)
}

func TestCounter(t *testing.T) {
	var c Counter
	c.Add(2)
	c.Add(3)

	v, ok := c.Value(Aggregation{Method: MethodCount})
	require.True(t, ok)
	assert.EqualValues(t, 5, v)
	assert.EqualValues(t, 5, c.Count())

	_, ok = c.Value(Aggregation{Method: MethodRate})
	assert.False(t, ok)
}
