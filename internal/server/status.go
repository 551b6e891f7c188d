package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/podtato-smoke/internal/report"
)

// SummaryFunc собирает живой отчет по текущему состоянию метрик.
type SummaryFunc func() report.Report

// StatusServer отдает метрики и промежуточный итог идущего прогона.
type StatusServer struct {
	router  *chi.Mux
	gather  prometheus.Gatherer
	summary SummaryFunc
	logger  *zap.Logger
}

func NewStatusServer(gather prometheus.Gatherer, summary SummaryFunc, logger *zap.Logger) *StatusServer {
	s := &StatusServer{
		router:  chi.NewRouter(),
		gather:  gather,
		summary: summary,
		logger:  logger.Named("status-server"),
	}
	s.routes()
	return s
}

func (s *StatusServer) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	r.Get("/v1/summary", s.getSummary)
}

func (s *StatusServer) getSummary(w http.ResponseWriter, r *http.Request) {
	rep := s.summary()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		s.logger.Error("failed to encode summary", zap.Error(err))
	}
}

// ServeHTTP позволяет использовать StatusServer как стандартный http.Handler
func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
