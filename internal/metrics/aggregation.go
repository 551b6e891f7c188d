package metrics

import (
	"fmt"
	"strconv"
	"strings"
)

// Method - способ агрегации значений метрики.
type Method string

const (
	MethodRate       Method = "rate"
	MethodCount      Method = "count"
	MethodAvg        Method = "avg"
	MethodMin        Method = "min"
	MethodMax        Method = "max"
	MethodMed        Method = "med"
	MethodPercentile Method = "p"
)

// Aggregation - метод плюс аргумент (для перцентиля: 0..100).
type Aggregation struct {
	Method Method
	Arg    float64
}

// ParseAggregation разбирает "rate", "avg", "p(95)", "p(99.9)" и т.п.
func ParseAggregation(s string) (Aggregation, error) {
	s = strings.TrimSpace(s)
	switch Method(s) {
	case MethodRate, MethodCount, MethodAvg, MethodMin, MethodMax, MethodMed:
		return Aggregation{Method: Method(s)}, nil
	}

	if strings.HasPrefix(s, "p(") && strings.HasSuffix(s, ")") {
		raw := strings.TrimSpace(s[2 : len(s)-1])
		pct, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Aggregation{}, fmt.Errorf("invalid percentile %q: %w", s, err)
		}
		if pct < 0 || pct > 100 {
			return Aggregation{}, fmt.Errorf("percentile %q out of range [0, 100]", s)
		}
		return Aggregation{Method: MethodPercentile, Arg: pct}, nil
	}

	return Aggregation{}, fmt.Errorf("unknown aggregation %q", s)
}

func (a Aggregation) String() string {
	if a.Method == MethodPercentile {
		return "p(" + strconv.FormatFloat(a.Arg, 'f', -1, 64) + ")"
	}
	return string(a.Method)
}
