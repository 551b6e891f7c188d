package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/podtato-smoke/internal/engine"
	"github.com/xela07ax/podtato-smoke/internal/infra"
	"github.com/xela07ax/podtato-smoke/internal/metrics"
	"github.com/xela07ax/podtato-smoke/internal/report"
	"github.com/xela07ax/podtato-smoke/internal/repository/postgres"
	"github.com/xela07ax/podtato-smoke/internal/repository/redis"
	"github.com/xela07ax/podtato-smoke/internal/results"
	"github.com/xela07ax/podtato-smoke/internal/server"
	"github.com/xela07ax/podtato-smoke/internal/smoke"
	"github.com/xela07ax/podtato-smoke/internal/threshold"
)

// transport подменяется в тестах, чтобы направить запросы на локальный сервер
var transport http.RoundTripper = http.DefaultTransport

var runFlagBindings = map[string]string{
	"service":      "target.service",
	"stage":        "target.stage",
	"subpath":      "target.subpath",
	"permissive":   "permissive",
	"run-id":       "run.id",
	"vus":          "run.vus",
	"iterations":   "run.iterations",
	"duration":     "run.duration",
	"max-duration": "run.max_duration",
	"rps":          "run.rps",
	"timeout":      "http.timeout",
	"db-url":       "database.url",
	"redis":        "redis.enabled",
	"redis-addr":   "redis.addr",
	"status-addr":  "server.addr",
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var (
		out        string
		thresholds []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the smoke scenario and evaluate thresholds",
		Example: `  SERVICE=left-arm STAGE=prod SUBPATH=health podtato-smoke run --vus 5 --duration 30s
  podtato-smoke run --service left-arm --stage prod --subpath health --threshold 'errors=rate<0.05'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd, runFlagBindings)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if len(thresholds) > 0 {
				spec, err := parseThresholdFlags(thresholds)
				if err != nil {
					return configError(err)
				}
				cfg.Thresholds = spec
			}

			return runSmoke(cmd.Context(), cfg, logger, cmd.OutOrStdout(), out)
		},
	}

	f := cmd.Flags()
	f.String("service", "", "service name (env SERVICE)")
	f.String("stage", "", "target stage / namespace (env STAGE)")
	f.String("subpath", "", "URL path suffix (env SUBPATH)")
	f.Bool("permissive", false, "substitute missing parameters as empty strings instead of failing")
	f.String("run-id", "", "run id shared by all instances of a distributed run (default: random)")
	f.Int("vus", 0, "number of virtual users")
	f.Int64("iterations", 0, "total iterations shared by all VUs")
	f.Duration("duration", 0, "run duration")
	f.Duration("max-duration", 0, "upper bound for iteration-based runs")
	f.Float64("rps", 0, "global request rate limit (0 = unlimited)")
	f.Duration("timeout", 0, "HTTP request timeout")
	f.String("db-url", "", "PostgreSQL URL for storing results")
	f.Bool("redis", false, "aggregate rates in Redis and listen for abort signals")
	f.String("redis-addr", "", "Redis address")
	f.String("status-addr", "", "address for /metrics, /health and /v1/summary (e.g. :9090)")
	f.StringVarP(&out, "out", "o", "text", "report format: text, json")
	f.StringArrayVar(&thresholds, "threshold", nil, "threshold as metric=expression, repeatable; replaces configured thresholds")

	return cmd
}

// parseThresholdFlags превращает ["errors=rate<0.1", ...] в конфигурацию порогов.
func parseThresholdFlags(values []string) (map[string][]string, error) {
	spec := make(map[string][]string)
	for _, v := range values {
		metric, expr, ok := strings.Cut(v, "=")
		if !ok || metric == "" || expr == "" {
			return nil, fmt.Errorf("invalid --threshold %q: want metric=expression", v)
		}
		spec[metric] = append(spec[metric], expr)
	}
	return spec, nil
}

func runSmoke(parent context.Context, cfg *infra.Config, logger *zap.Logger, w io.Writer, out string) error {
	// 1. Валидация до первого запроса
	if err := cfg.Validate(); err != nil {
		return configError(err)
	}
	if out != "text" && out != "json" {
		return configErrorf("unknown report format %q", out)
	}
	if missing := cfg.Target.Missing(); len(missing) > 0 {
		logger.Warn("permissive mode: missing parameters substituted as empty strings",
			zap.Strings("missing", missing))
	}

	runID := cfg.Run.ID
	if runID == "" {
		runID = uuid.New().String()
	}
	url := cfg.Target.URL()
	logger = logger.With(zap.String("run_id", runID))

	// 2. Метрики и пороги
	reg := prometheus.NewRegistry()
	prom := metrics.NewPrometheus(reg)
	registry := metrics.NewRegistry(prom)

	set, err := threshold.ParseSet(cfg.Thresholds)
	if err != nil {
		return configError(err)
	}
	if err := set.Validate(registry); err != nil {
		return configError(err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 3. Хранилища результатов (опционально)
	var storages []results.Storage

	if cfg.Database.URL != "" {
		repo, err := openResultRepo(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer repo.Close()
		storages = append(storages, engine.NewReliableWriter("postgres", repo, cfg.Engine, prom, logger))
	}

	if cfg.Redis.Enabled {
		rdb, err := openRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		storages = append(storages, engine.NewReliableWriter("redis", redis.NewRateRepo(rdb, cfg.Redis.TTL), cfg.Engine, prom, logger))

		go engine.NewAbortSwitch(runID, rdb, logger).Watch(runCtx, cancel)
	}

	recorders := smoke.Recorders{registry}
	var recorder *results.Recorder
	if len(storages) > 0 {
		recorder = results.NewRecorder(cfg.Engine, prom, logger, storages...)
		recorder.Start()
		recorders = append(recorders, recorder)
	}

	info := report.RunInfo{RunID: runID, URL: url, Started: time.Now()}

	// 4. Статус-сервер (опционально)
	if cfg.Server.Addr != "" {
		// Копия: info дописывается после прогона, а сервер читает из своей горутины
		liveInfo := info
		status := server.NewStatusServer(reg, func() report.Report {
			live := liveInfo
			live.Finished = time.Now()
			return report.Build(live, registry, set)
		}, logger)

		srv := &http.Server{Addr: cfg.Server.Addr, Handler: status, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("status server started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// 5. Прогон
	client := &http.Client{Timeout: cfg.HTTP.Timeout, Transport: transport}
	check := smoke.NewCheck(url, runID, client, recorders, logger)
	stats := engine.NewRunner(runID, cfg.Run, check, prom, logger).Run(runCtx)

	if recorder != nil {
		recorder.Stop()
	}
	// Останавливаем abort-листенер до закрытия клиента Redis
	cancel()

	// 6. Отчет и вердикт
	info.Started = stats.Started
	info.Finished = stats.Finished
	info.Aborted = stats.Aborted
	rep := report.Build(info, registry, set)

	if out == "json" {
		err = rep.WriteJSON(w)
	} else {
		err = rep.WriteText(w)
	}
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return verdictError(rep)
}

func verdictError(rep report.Report) error {
	if !rep.Verdict.Passed {
		failed := rep.Verdict.Failed()
		names := make([]string, 0, len(failed))
		for _, f := range failed {
			names = append(names, f.Metric+": "+f.Expr)
		}
		return &ExitError{Code: ExitThresholds, Err: fmt.Errorf("thresholds crossed: %s", strings.Join(names, "; "))}
	}
	if rep.Aborted {
		return &ExitError{Code: ExitAborted, Err: errors.New("run aborted")}
	}
	return nil
}

func openResultRepo(ctx context.Context, cfg infra.DatabaseConfig) (*postgres.ResultRepo, error) {
	repo, err := postgres.NewResultRepo(cfg.URL, cfg.MaxConns)
	if err != nil {
		return nil, err
	}

	// Проверяем соединение с таймаутом
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := repo.Ping(pingCtx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	if err := repo.EnsureSchema(pingCtx); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

func openRedis(ctx context.Context, cfg infra.RedisConfig) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}
	return rdb, nil
}
