// Package report собирает итог прогона: агрегаты метрик, результаты порогов и вердикт.
// Отдельные неуспешные запросы в отчет не попадают.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xela07ax/podtato-smoke/internal/metrics"
	"github.com/xela07ax/podtato-smoke/internal/threshold"
)

// Metrics - источник метрик для отчета (реализуется metrics.Registry).
type Metrics interface {
	threshold.Source
	Names() []string
}

// RunInfo - метаданные прогона, которые не выводятся из метрик.
type RunInfo struct {
	RunID    string
	URL      string
	Started  time.Time
	Finished time.Time
	Aborted  bool
}

// Value - одно агрегированное значение метрики.
type Value struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// MetricSummary - агрегаты одной метрики.
type MetricSummary struct {
	Name    string       `json:"name"`
	Type    metrics.Type `json:"type"`
	Samples int64        `json:"samples"`
	Values  []Value      `json:"values"`
}

type Report struct {
	RunID    string            `json:"run_id"`
	URL      string            `json:"url"`
	Started  time.Time         `json:"started"`
	Finished time.Time         `json:"finished"`
	Elapsed  time.Duration     `json:"elapsed"`
	Aborted  bool              `json:"aborted"`
	Metrics  []MetricSummary   `json:"metrics"`
	Verdict  threshold.Verdict `json:"verdict"`
}

var trendAggregations = []metrics.Aggregation{
	{Method: metrics.MethodAvg},
	{Method: metrics.MethodMin},
	{Method: metrics.MethodMed},
	{Method: metrics.MethodMax},
	{Method: metrics.MethodPercentile, Arg: 90},
	{Method: metrics.MethodPercentile, Arg: 95},
}

// Build вычисляет пороги и собирает отчет.
func Build(info RunInfo, src Metrics, set threshold.Set) Report {
	r := Report{
		RunID:    info.RunID,
		URL:      info.URL,
		Started:  info.Started,
		Finished: info.Finished,
		Aborted:  info.Aborted,
	}
	if !info.Finished.IsZero() {
		r.Elapsed = info.Finished.Sub(info.Started)
	}

	for _, name := range src.Names() {
		sink, ok := src.Sink(name)
		if !ok {
			continue
		}
		r.Metrics = append(r.Metrics, summarize(name, sink, r.Elapsed))
	}

	r.Verdict = set.Evaluate(src)
	return r
}

func summarize(name string, sink metrics.Sink, elapsed time.Duration) MetricSummary {
	ms := MetricSummary{Name: name, Type: sink.Type(), Samples: sink.Count()}

	switch sink.Type() {
	case metrics.TypeRate:
		rate, _ := sink.Value(metrics.Aggregation{Method: metrics.MethodRate})
		trues, _ := sink.Value(metrics.Aggregation{Method: metrics.MethodCount})
		ms.Values = []Value{{Name: "rate", Value: rate}, {Name: "passes", Value: trues}, {Name: "total", Value: float64(ms.Samples)}}
	case metrics.TypeTrend:
		for _, a := range trendAggregations {
			v, _ := sink.Value(a)
			ms.Values = append(ms.Values, Value{Name: a.String(), Value: v})
		}
	case metrics.TypeCounter:
		ms.Values = []Value{{Name: "count", Value: float64(ms.Samples)}}
		if elapsed > 0 {
			ms.Values = append(ms.Values, Value{Name: "per_second", Value: float64(ms.Samples) / elapsed.Seconds()})
		}
	}
	return ms
}

// WriteJSON пишет отчет в JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(r)
}

// WriteText пишет отчет в человекочитаемом виде.
func (r Report) WriteText(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "run:        %s\n", r.RunID)
	if r.URL != "" {
		fmt.Fprintf(&b, "target:     %s\n", r.URL)
	}
	if r.Elapsed > 0 {
		fmt.Fprintf(&b, "elapsed:    %s\n", r.Elapsed.Round(time.Millisecond))
	}
	if r.Aborted {
		b.WriteString("status:     aborted\n")
	}
	b.WriteString("\n")

	for _, m := range r.Metrics {
		fmt.Fprintf(&b, "  %s: %s\n", dotted(m.Name, 24), formatMetric(m))
	}

	if len(r.Verdict.Results) > 0 {
		b.WriteString("\nthresholds:\n")
		for _, res := range r.Verdict.Results {
			mark := "✓"
			detail := fmt.Sprintf("observed %s", trimFloat(res.Observed))
			switch {
			case res.Skipped:
				mark = "-"
				detail = "no data"
			case res.Error != "":
				mark = "✗"
				detail = res.Error
			case !res.Passed:
				mark = "✗"
			}
			fmt.Fprintf(&b, "  %s %s: %s (%s)\n", mark, res.Metric, res.Expr, detail)
		}
	}

	verdict := "PASSED"
	if !r.Verdict.Passed {
		verdict = "FAILED"
	}
	fmt.Fprintf(&b, "\nverdict: %s\n", verdict)

	_, err := io.WriteString(w, b.String())
	return err
}

func formatMetric(m MetricSummary) string {
	if m.Samples == 0 {
		return "no data"
	}

	switch m.Type {
	case metrics.TypeRate:
		// rate, passes, total
		return fmt.Sprintf("%.2f%% %s of %s", m.Values[0].Value*100, trimFloat(m.Values[1].Value), trimFloat(m.Values[2].Value))
	case metrics.TypeTrend:
		parts := make([]string, 0, len(m.Values))
		for _, v := range m.Values {
			parts = append(parts, fmt.Sprintf("%s=%.2fms", v.Name, v.Value))
		}
		return strings.Join(parts, " ")
	}

	out := trimFloat(m.Values[0].Value)
	if len(m.Values) > 1 {
		out += fmt.Sprintf(" %.2f/s", m.Values[1].Value)
	}
	return out
}

func dotted(name string, width int) string {
	if len(name) >= width {
		return name
	}
	return name + strings.Repeat(".", width-len(name))
}

func trimFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}
