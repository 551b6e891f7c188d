package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Type - тип метрики, определяет допустимые агрегации.
type Type string

const (
	TypeRate    Type = "rate"
	TypeTrend   Type = "trend"
	TypeCounter Type = "counter"
)

// Sink - накопитель значений одной метрики.
type Sink interface {
	Type() Type
	// Count - число принятых значений; 0 означает "нет данных".
	Count() int64
	// Value вычисляет агрегат. ok=false, если агрегация не поддерживается типом.
	Value(a Aggregation) (v float64, ok bool)
}

// Rate считает долю true среди всех наблюдений. Без блокировок.
type Rate struct {
	trues atomic.Int64
	total atomic.Int64
}

func (r *Rate) Add(v bool) {
	if v {
		r.trues.Add(1)
	}
	r.total.Add(1)
}

// Merge добавляет уже агрегированные счетчики (например, из Redis).
func (r *Rate) Merge(trues, total int64) {
	r.trues.Add(trues)
	r.total.Add(total)
}

func (r *Rate) Type() Type { return TypeRate }

func (r *Rate) Count() int64 { return r.total.Load() }

func (r *Rate) Trues() int64 { return r.trues.Load() }

func (r *Rate) Value(a Aggregation) (float64, bool) {
	switch a.Method {
	case MethodRate:
		total := r.total.Load()
		if total == 0 {
			return 0, true
		}
		return float64(r.trues.Load()) / float64(total), true
	case MethodCount:
		return float64(r.trues.Load()), true
	}
	return 0, false
}

// Counter - монотонный счетчик.
type Counter struct {
	n atomic.Int64
}

func (c *Counter) Add(delta int64) { c.n.Add(delta) }

func (c *Counter) Type() Type { return TypeCounter }

func (c *Counter) Count() int64 { return c.n.Load() }

func (c *Counter) Value(a Aggregation) (float64, bool) {
	if a.Method == MethodCount {
		return float64(c.n.Load()), true
	}
	return 0, false
}

// Trend хранит все значения для точных перцентилей.
type Trend struct {
	mu     sync.Mutex
	values []float64
	sorted bool
	sum    float64
	min    float64
	max    float64
}

func (t *Trend) Add(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.values) == 0 || v < t.min {
		t.min = v
	}
	if len(t.values) == 0 || v > t.max {
		t.max = v
	}
	t.values = append(t.values, v)
	t.sum += v
	t.sorted = false
}

func (t *Trend) Type() Type { return TypeTrend }

func (t *Trend) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.values))
}

func (t *Trend) Value(a Aggregation) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.values)
	switch a.Method {
	case MethodCount:
		return float64(n), true
	case MethodAvg:
		if n == 0 {
			return 0, true
		}
		return t.sum / float64(n), true
	case MethodMin:
		return t.min, true
	case MethodMax:
		return t.max, true
	case MethodMed:
		return t.percentile(0.5), true
	case MethodPercentile:
		return t.percentile(a.Arg / 100), true
	}
	return 0, false
}

// percentile - линейная интерполяция между соседними рангами.
// Вызывается под t.mu.
func (t *Trend) percentile(pct float64) float64 {
	switch len(t.values) {
	case 0:
		return 0
	case 1:
		return t.values[0]
	}

	if !t.sorted {
		sort.Float64s(t.values)
		t.sorted = true
	}

	i := pct * float64(len(t.values)-1)
	lo := t.values[int(math.Floor(i))]
	hi := t.values[int(math.Ceil(i))]
	return lo + (hi-lo)*(i-math.Floor(i))
}
