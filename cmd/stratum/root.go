package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbracken/stratum/internal/config"
)

var (
	cfgPath  string
	logLevel string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "stratum",
	Short: "Budget-aware orchestration for AI agent workloads",
	Long: `Stratum schedules agent task graphs under a rolling usage budget.

It tracks message and token spend in fixed usage windows, routes each
task to a model tier by complexity and budget pressure, executes
dependency graphs with bounded parallelism, and serves repeated work
from a layered response cache.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgPath != "" {
			cfg, err = config.LoadFromPath(cfgPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		setupLogging(cfg.Logging)
		return nil
	},
}

func setupLogging(lc config.LoggingConfig) {
	level := lc.Level
	if logLevel != "" {
		level = logLevel
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	if lc.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config file (skips config discovery)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(throttleCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(cacheCmd)
}
