package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/podtato-smoke/internal/engine"
	"github.com/xela07ax/podtato-smoke/internal/metrics"
	"github.com/xela07ax/podtato-smoke/internal/threshold"
)

var targetFlagBindings = map[string]string{
	"service":    "target.service",
	"stage":      "target.stage",
	"subpath":    "target.subpath",
	"permissive": "permissive",
}

// newURLCommand печатает адрес, который будет проверяться.
func newURLCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "url",
		Short: "Print the resolved target URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd, targetFlagBindings)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := cfg.Validate(); err != nil {
				return configError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.Target.URL())
			return nil
		},
	}

	f := cmd.Flags()
	f.String("service", "", "service name (env SERVICE)")
	f.String("stage", "", "target stage / namespace (env STAGE)")
	f.String("subpath", "", "URL path suffix (env SUBPATH)")
	f.Bool("permissive", false, "substitute missing parameters as empty strings instead of failing")
	return cmd
}

// newThresholdsCommand проверяет конфигурацию порогов без запуска прогона.
func newThresholdsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "thresholds",
		Short: "Validate and print configured thresholds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd, nil)
			if err != nil {
				return err
			}
			defer logger.Sync()

			set, err := threshold.ParseSet(cfg.Thresholds)
			if err != nil {
				return configError(err)
			}
			registry := metrics.NewRegistry(nil)
			if err := set.Validate(registry); err != nil {
				return configError(err)
			}

			w := cmd.OutOrStdout()
			for _, t := range set {
				sink, _ := registry.Sink(t.Metric)
				fmt.Fprintf(w, "%s (%s): %s %s %g\n", t.Metric, sink.Type(), t.Aggregation, t.Op, t.Value)
			}

			fmt.Fprintf(w, "\navailable metrics: %v\n", registry.Names())
			return nil
		},
	}
}

var abortFlagBindings = map[string]string{
	"redis-addr": "redis.addr",
}

// newAbortCommand останавливает идущий прогон на всех инстансах.
func newAbortCommand(opts *rootOptions) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Abort a running distributed run via Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd, abortFlagBindings)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if runID == "" {
				return configErrorf("--run-id is required")
			}

			rdb, err := openRedis(cmd.Context(), cfg.Redis)
			if err != nil {
				return err
			}
			defer rdb.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := engine.Abort(ctx, rdb, runID, cfg.Redis.TTL); err != nil {
				return fmt.Errorf("publish abort: %w", err)
			}

			logger.Info("abort signal published", zap.String("run_id", runID))
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run id to abort")
	cmd.Flags().String("redis-addr", "", "Redis address")
	return cmd
}
