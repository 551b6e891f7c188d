// Package threshold разбирает и вычисляет условия pass/fail над агрегатами метрик.
// Формат выражений совместим с k6: "rate<0.1", "p(95)<500", "avg<=200".
package threshold

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xela07ax/podtato-smoke/internal/metrics"
)

// Operator - оператор сравнения агрегата с порогом.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Порядок важен: двухсимвольные операторы проверяются раньше односимвольных.
var operators = []Operator{OpLessEqual, OpGreaterEqual, OpEqual, OpNotEqual, OpLess, OpGreater}

func (op Operator) compare(observed, limit float64) bool {
	switch op {
	case OpLess:
		return observed < limit
	case OpLessEqual:
		return observed <= limit
	case OpGreater:
		return observed > limit
	case OpGreaterEqual:
		return observed >= limit
	case OpEqual:
		return observed == limit
	case OpNotEqual:
		return observed != limit
	}
	return false
}

// Threshold - одно условие над метрикой.
type Threshold struct {
	Metric      string
	Source      string // исходное выражение
	Aggregation metrics.Aggregation
	Op          Operator
	Value       float64
}

func (t Threshold) String() string {
	return t.Metric + ": " + t.Source
}

// Parse разбирает выражение для метрики.
func Parse(metric, expr string) (Threshold, error) {
	src := strings.TrimSpace(expr)
	if metric == "" {
		return Threshold{}, fmt.Errorf("threshold %q: empty metric name", src)
	}

	for _, op := range operators {
		idx := strings.Index(src, string(op))
		if idx < 0 {
			continue
		}

		agg, err := metrics.ParseAggregation(src[:idx])
		if err != nil {
			return Threshold{}, fmt.Errorf("threshold %s: %q: %w", metric, src, err)
		}

		raw := strings.TrimSpace(src[idx+len(op):])
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Threshold{}, fmt.Errorf("threshold %s: %q: invalid value %q", metric, src, raw)
		}

		return Threshold{
			Metric:      metric,
			Source:      src,
			Aggregation: agg,
			Op:          op,
			Value:       value,
		}, nil
	}

	return Threshold{}, fmt.Errorf("threshold %s: %q: missing comparison operator", metric, src)
}

// Set - набор условий прогона в детерминированном порядке.
type Set []Threshold

// DefaultSpec - пороги smoke-сценария: <10% ошибок и p95 < 500ms.
func DefaultSpec() map[string][]string {
	return map[string][]string{
		metrics.NameErrors:   {"rate<0.1"},
		metrics.NameDuration: {"p(95)<500"},
	}
}

// ParseSet разбирает конфигурацию вида metric -> []expression.
func ParseSet(spec map[string][]string) (Set, error) {
	names := make([]string, 0, len(spec))
	for name := range spec {
		names = append(names, name)
	}
	sort.Strings(names)

	var set Set
	for _, name := range names {
		for _, expr := range spec[name] {
			t, err := Parse(name, expr)
			if err != nil {
				return nil, err
			}
			set = append(set, t)
		}
	}
	return set, nil
}

// Source отдает накопители по имени метрики (реализуется metrics.Registry).
type Source interface {
	Sink(name string) (metrics.Sink, bool)
}

// Validate проверяет, что метрики существуют и поддерживают агрегацию.
func (s Set) Validate(src Source) error {
	for _, t := range s {
		sink, ok := src.Sink(t.Metric)
		if !ok {
			return fmt.Errorf("threshold %s: unknown metric %q", t, t.Metric)
		}
		if _, ok := sink.Value(t.Aggregation); !ok {
			return fmt.Errorf("threshold %s: aggregation %s not supported by %s metric", t, t.Aggregation, sink.Type())
		}
	}
	return nil
}
