package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/podtato-smoke/internal/domain"
	"github.com/xela07ax/podtato-smoke/internal/infra"
	"github.com/xela07ax/podtato-smoke/internal/metrics"
	"github.com/xela07ax/podtato-smoke/internal/report"
	"github.com/xela07ax/podtato-smoke/internal/repository/postgres"
	"github.com/xela07ax/podtato-smoke/internal/repository/redis"
	"github.com/xela07ax/podtato-smoke/internal/threshold"
)

var reportFlagBindings = map[string]string{
	"db-url":     "database.url",
	"redis-addr": "redis.addr",
}

func newReportCommand(opts *rootOptions) *cobra.Command {
	var (
		runID  string
		source string
		out    string
		list   bool
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Re-evaluate thresholds for a stored run",
		Long: `report rebuilds the end-of-run summary from stored results.

--source postgres replays every stored observation and evaluates all thresholds.
--source redis reads the counters aggregated by all instances of a distributed
run; only rate and counter thresholds can be evaluated, trend thresholds are
reported as "no data".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd, reportFlagBindings)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if list {
				return listRuns(cmd.Context(), cfg, cmd.OutOrStdout(), limit)
			}
			if runID == "" {
				return configErrorf("--run-id is required")
			}
			if out != "text" && out != "json" {
				return configErrorf("unknown report format %q", out)
			}

			set, err := threshold.ParseSet(cfg.Thresholds)
			if err != nil {
				return configError(err)
			}

			registry := metrics.NewRegistry(nil)
			if err := set.Validate(registry); err != nil {
				return configError(err)
			}

			info := report.RunInfo{RunID: runID}
			switch source {
			case "postgres":
				err = replayPostgres(cmd.Context(), cfg, runID, registry, &info, logger)
			case "redis":
				err = mergeRedis(cmd.Context(), cfg, runID, registry)
			default:
				return configErrorf("unknown source %q: want postgres or redis", source)
			}
			if err != nil {
				return err
			}

			rep := report.Build(info, registry, set)
			if out == "json" {
				err = rep.WriteJSON(cmd.OutOrStdout())
			} else {
				err = rep.WriteText(cmd.OutOrStdout())
			}
			if err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			return verdictError(rep)
		},
	}

	f := cmd.Flags()
	f.StringVar(&runID, "run-id", "", "run id to report on")
	f.StringVar(&source, "source", "postgres", "result source: postgres, redis")
	f.StringVarP(&out, "out", "o", "text", "report format: text, json")
	f.BoolVar(&list, "list", false, "list recent runs stored in postgres")
	f.IntVar(&limit, "limit", 20, "number of runs for --list")
	f.String("db-url", "", "PostgreSQL URL")
	f.String("redis-addr", "", "Redis address")

	return cmd
}

// replayPostgres проигрывает сохраненные наблюдения в свежий реестр.
func replayPostgres(ctx context.Context, cfg *infra.Config, runID string, registry *metrics.Registry, info *report.RunInfo, logger *zap.Logger) error {
	if cfg.Database.URL == "" {
		return configErrorf("database.url is required for --source postgres")
	}
	repo, err := openResultRepo(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer repo.Close()

	n, err := repo.LoadObservations(ctx, runID, func(o domain.Observation) {
		if info.Started.IsZero() || o.Timestamp.Before(info.Started) {
			info.Started = o.Timestamp
		}
		if end := o.Timestamp.Add(o.Duration); end.After(info.Finished) {
			info.Finished = end
		}
		info.URL = o.URL
		registry.Record(o)
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: no stored results", runID)
	}

	logger.Debug("replayed stored results", zap.String("run_id", runID), zap.Int("count", n))
	return nil
}

// mergeRedis переносит агрегированные счетчики всех инстансов в реестр.
func mergeRedis(ctx context.Context, cfg *infra.Config, runID string, registry *metrics.Registry) error {
	rdb, err := openRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	counts, err := redis.NewRateRepo(rdb, cfg.Redis.TTL).Counts(ctx, runID)
	if err != nil {
		return err
	}
	if counts.Iterations == 0 {
		return fmt.Errorf("run %s: no counters in redis", runID)
	}

	registry.Errors.Merge(counts.Errors, counts.Iterations)
	registry.Checks.Merge(counts.ChecksPassed, counts.Iterations)
	registry.Iterations.Add(counts.Iterations)
	registry.Requests.Add(counts.Iterations)
	return nil
}

func listRuns(ctx context.Context, cfg *infra.Config, w io.Writer, limit int) error {
	if cfg.Database.URL == "" {
		return configErrorf("database.url is required for --list")
	}
	repo, err := openResultRepo(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer repo.Close()

	runs, err := repo.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	return writeRuns(w, runs)
}

func writeRuns(w io.Writer, runs []postgres.RunInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tITERATIONS\tERROR RATE\tP95 (ms)\tURL")
	for _, r := range runs {
		rate := 0.0
		if r.Iterations > 0 {
			rate = float64(r.Errors) / float64(r.Iterations)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f%%\t%.1f\t%s\n",
			r.RunID, r.Started.Format("2006-01-02 15:04:05"), r.Iterations, rate*100, r.P95Ms, r.URL)
	}
	return tw.Flush()
}
