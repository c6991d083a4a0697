package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/spf13/cobra"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	debug      bool
	cfg        *domain.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "kestrel",
		Short:         "Risk intelligence over tabular business data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.debug {
				cfg.Logging.Level = "debug"
			}
			a.cfg = cfg
			slog.SetDefault(config.Logger(cfg.Logging, os.Stderr))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		serveCmd(a),
		analyzeCmd(a),
		exportCmd(a),
		rulesCmd(a),
		versionCmd(),
	)
	return root
}

// scorer compiles the rule sets, applying the configured rules file.
func (a *app) scorer() (*scoring.Scorer, *rules.Set, error) {
	var overrides *rules.File
	if a.cfg.Engine.RulesFile != "" {
		f, err := rules.LoadFile(a.cfg.Engine.RulesFile)
		if err != nil {
			return nil, nil, err
		}
		overrides = f
	}

	set, err := rules.NewSet(a.cfg.Engine.MaxWorkers, overrides)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	slog.Debug("rule engine initialized", "rule_sets", set.Count(), "rules_file", a.cfg.Engine.RulesFile)
	return scoring.New(set, velocity.NewService()), set, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kestrel %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}
