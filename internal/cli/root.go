package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/podtato-smoke/internal/infra"
)

// rootOptions - глобальные флаги, общие для всех команд.
type rootOptions struct {
	configFile string
}

// NewRootCommand собирает дерево команд.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "podtato-smoke",
		Short: "Smoke load test for podtato-head preview services",
		Long: `podtato-smoke issues repeated HTTP GET requests against
http://podtato-<service>-preview.podtatohead-<stage>.svc.cluster.local:8080/<subpath>,
checks for a 200 status, records the "errors" rate and request durations,
and evaluates pass/fail thresholds at the end of the run.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to config file (default: ./config.yaml or ./configs/config.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: console, json")

	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newURLCommand(opts))
	root.AddCommand(newThresholdsCommand(opts))
	root.AddCommand(newReportCommand(opts))
	root.AddCommand(newAbortCommand(opts))

	return root
}

var globalFlagBindings = map[string]string{
	"log-level":  "logger.level",
	"log-format": "logger.format",
}

// load читает конфигурацию с учетом флагов команды и строит логгер.
func (o *rootOptions) load(cmd *cobra.Command, bindings map[string]string) (*infra.Config, *zap.Logger, error) {
	all := make(map[string]string, len(bindings)+len(globalFlagBindings))
	for k, v := range globalFlagBindings {
		all[k] = v
	}
	for k, v := range bindings {
		all[k] = v
	}

	cfg, err := infra.LoadConfig(
		infra.WithConfigFile(o.configFile),
		infra.WithFlags(cmd.Flags(), all),
	)
	if err != nil {
		return nil, nil, configError(err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, configError(err)
	}
	return cfg, logger, nil
}
