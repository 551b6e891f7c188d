package metrics

import (
	"sort"

	"github.com/xela07ax/podtato-smoke/internal/domain"
)

// Имена встроенных метрик
const (
	NameErrors     = "errors"
	NameChecks     = "checks"
	NameDuration   = "http_req_duration"
	NameRequests   = "http_reqs"
	NameIterations = "iterations"
	CheckStatus200 = "status is 200"
)

// Registry - набор именованных накопителей одного прогона.
// Безопасен для конкурентной записи из всех VU.
type Registry struct {
	Errors     *Rate
	Checks     *Rate
	Duration   *Trend
	Requests   *Counter
	Iterations *Counter

	prom  *Prometheus
	sinks map[string]Sink
}

// NewRegistry создает реестр. prom может быть nil.
func NewRegistry(prom *Prometheus) *Registry {
	r := &Registry{
		Errors:     &Rate{},
		Checks:     &Rate{},
		Duration:   &Trend{},
		Requests:   &Counter{},
		Iterations: &Counter{},
		prom:       prom,
	}
	r.sinks = map[string]Sink{
		NameErrors:     r.Errors,
		NameChecks:     r.Checks,
		NameDuration:   r.Duration,
		NameRequests:   r.Requests,
		NameIterations: r.Iterations,
	}
	return r
}

// Record реализует smoke.Recorder.
func (r *Registry) Record(o domain.Observation) {
	if o.Interrupted() {
		return
	}

	r.Iterations.Add(1)
	r.Requests.Add(1)
	if o.Responded {
		r.Duration.Add(o.DurationMs())
	}
	r.Checks.Add(o.Success)
	r.Errors.Add(o.Failed())

	if r.prom != nil {
		r.prom.Observe(o)
	}
}

// Sink возвращает накопитель по имени метрики.
func (r *Registry) Sink(name string) (Sink, bool) {
	s, ok := r.sinks[name]
	return s, ok
}

// Names возвращает имена метрик в алфавитном порядке.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
