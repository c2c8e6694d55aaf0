package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/minecraft-gilde/importer/internal/config"
	"github.com/minecraft-gilde/importer/internal/importer"
	"github.com/minecraft-gilde/importer/internal/logging"
)

// Stable exit codes for outcomes the scheduler distinguishes.
const (
	exitFailure     = 1
	exitStatsDir    = 2
	exitNoMetrics   = 3
	exitLockTimeout = 10
)

var (
	dbPath   string
	logLevel string
	logFile  string

	cfg *config.Config
	log *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:   "mcstats",
	Short: "Minecraft stats importer",
	Long:  "Import per-player Minecraft statistics into a query-optimized leaderboard store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-file") {
			cfg.LogFile = logFile
		}
		log, err = logging.New(cfg.LogLevel, cfg.LogFile)
		if err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

// Execute runs the root command and maps sentinel errors to their
// stable exit codes.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, importer.ErrStatsDirNotFound):
		return exitStatsDir
	case errors.Is(err, importer.ErrNoMetrics):
		return exitNoMetrics
	case errors.Is(err, importer.ErrLockNotAcquired):
		return exitLockTimeout
	default:
		return exitFailure
	}
}

func init() {
	defaultDB := filepath.Join(mustUserHome(), ".mcstats", "stats.db")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "path to SQLite database")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also append logs to this file")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(sqlCmd)
	rootCmd.AddCommand(dropCmd)
}

func mustUserHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
