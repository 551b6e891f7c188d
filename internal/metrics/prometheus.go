package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xela07ax/podtato-smoke/internal/domain"
)

type Prometheus struct {
	// Latency: длительность запросов, получивших ответ
	RequestDuration *prometheus.HistogramVec

	// Traffic: все отправленные запросы
	TotalRequests prometheus.Counter

	// Errors: отказы по типу (transport, status)
	ErrorTotal *prometheus.CounterVec

	// Checks: результат проверки 'status is 200'
	CheckTotal *prometheus.CounterVec

	// Saturation: активные виртуальные пользователи
	ActiveVUs prometheus.Gauge

	// Состояние Circuit Breaker хранилищ (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Results: заполненность буфера записи результатов (backpressure)
	ResultBufferFill prometheus.Gauge
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	// Null Object Pattern - если реестр не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Prometheus{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "podtato_smoke_http_req_duration_seconds",
			Help:    "Histogram of smoke request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"status"}),

		TotalRequests: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "podtato_smoke_http_reqs_total",
			Help: "Total number of issued smoke requests.",
		}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "podtato_smoke_errors_total",
			Help: "Total number of failed checks by kind.",
		}, []string{"kind"}),

		CheckTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "podtato_smoke_checks_total",
			Help: "Total number of evaluated checks by result.",
		}, []string{"check", "result"}),

		ActiveVUs: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "podtato_smoke_vus",
			Help: "Current number of active virtual users.",
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "podtato_smoke_storage_circuit_breaker_state",
			Help: "Current state of the storage circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"storage"}),

		ResultBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "podtato_smoke_result_buffer_utilization",
			Help: "Current number of observations waiting in the result buffer.",
		}),
	}
}

// Observe зеркалит наблюдение в коллекторы Prometheus.
func (p *Prometheus) Observe(o domain.Observation) {
	p.TotalRequests.Inc()

	if o.Responded {
		p.RequestDuration.WithLabelValues(strconv.Itoa(o.StatusCode)).Observe(o.Duration.Seconds())
	}

	result := "pass"
	if o.Failed() {
		result = "fail"
		p.ErrorTotal.WithLabelValues(string(o.Kind)).Inc()
	}
	p.CheckTotal.WithLabelValues(CheckStatus200, result).Inc()
}
