package threshold

import "fmt"

// Result - итог проверки одного условия.
type Result struct {
	Threshold Threshold `json:"-"`
	Metric    string    `json:"metric"`
	Expr      string    `json:"threshold"`
	Observed  float64   `json:"observed"`
	Passed    bool      `json:"passed"`
	Skipped   bool      `json:"skipped,omitempty"` // по метрике нет данных
	Error     string    `json:"error,omitempty"`
}

// Verdict - итог прогона по всем условиям.
type Verdict struct {
	Passed  bool     `json:"passed"`
	Results []Result `json:"results"`
}

// Failed возвращает непройденные условия.
func (v Verdict) Failed() []Result {
	var failed []Result
	for _, r := range v.Results {
		if !r.Passed && !r.Skipped {
			failed = append(failed, r)
		}
	}
	return failed
}

// Evaluate вычисляет все условия. Метрика без данных не роняет вердикт.
func (s Set) Evaluate(src Source) Verdict {
	v := Verdict{Passed: true, Results: make([]Result, 0, len(s))}

	for _, t := range s {
		res := Result{Threshold: t, Metric: t.Metric, Expr: t.Source}

		sink, ok := src.Sink(t.Metric)
		switch {
		case !ok:
			res.Error = fmt.Sprintf("unknown metric %q", t.Metric)
		case sink.Count() == 0:
			res.Skipped = true
		default:
			observed, ok := sink.Value(t.Aggregation)
			if !ok {
				res.Error = fmt.Sprintf("aggregation %s not supported by %s metric", t.Aggregation, sink.Type())
				break
			}
			res.Observed = observed
			res.Passed = t.Op.compare(observed, t.Value)
		}

		if !res.Passed && !res.Skipped {
			v.Passed = false
		}
		v.Results = append(v.Results, res)
	}

	return v
}
