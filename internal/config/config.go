// Package config loads process configuration by layering defaults, an
// optional YAML file, and MCSTATS_-prefixed environment variables.
package config

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all tunables of the importer and its maintenance jobs.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFile appends logs to this path in addition to stdout when set.
	LogFile string `koanf:"log_file"`

	// MinPlayTicks is the inclusion threshold on minecraft:play_time.
	MinPlayTicks int64 `koanf:"min_play_ticks"`
	// ExcludeUUIDs are player ids skipped entirely.
	ExcludeUUIDs []string `koanf:"exclude_uuids"`

	// FlushSeen, FlushProfiles, FlushChanged are the per-buffer row
	// counts that trigger a flush.
	FlushSeen     int `koanf:"flush_seen"`
	FlushProfiles int `koanf:"flush_profiles"`
	FlushChanged  int `koanf:"flush_changed"`

	// LockName names the advisory run lock; LockTimeoutSec bounds the
	// wait for it. LockStaleSec is the age after which a leftover lock
	// row from a crashed holder may be taken over.
	LockName       string `koanf:"lock_name"`
	LockTimeoutSec int    `koanf:"lock_timeout_sec"`
	LockStaleSec   int    `koanf:"lock_stale_sec"`

	// KingMetricID is the composite leaderboard metric; KingPoints is
	// the rank-point schedule (rank 1 first). NoKing disables the
	// recompute step.
	KingMetricID string `koanf:"king_metric_id"`
	KingPoints   []int  `koanf:"king_points"`
	NoKing       bool   `koanf:"no_king"`

	// PlaceholderPattern classifies stored names as placeholders for
	// the resolve job. Heuristic; see names.DefaultPlaceholderPattern.
	PlaceholderPattern string `koanf:"placeholder_pattern"`

	// Resolve-job knobs.
	ResolveMaxPerRun   int `koanf:"resolve_max_per_run"`
	ResolveSleepMs     int `koanf:"resolve_sleep_ms"`
	ResolveRefreshDays int `koanf:"resolve_refresh_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:           "info",
		MinPlayTicks:       72000,
		FlushSeen:          2000,
		FlushProfiles:      2000,
		FlushChanged:       800,
		LockName:           "mc_stats_import",
		LockTimeoutSec:     5,
		LockStaleSec:       6 * 3600,
		KingMetricID:       "king",
		KingPoints:         []int{5, 3, 1},
		ResolveMaxPerRun:   1500,
		ResolveSleepMs:     150,
		ResolveRefreshDays: 30,
	}
}

// Load builds a Config. Precedence (low to high): defaults, YAML file
// named by MCSTATS_CONFIG, environment (MCSTATS_MIN_PLAY_TICKS, ...).
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv("MCSTATS_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	envProvider := env.Provider("MCSTATS_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "mcstats_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if cfg.LockName == "" {
		return nil, errors.New("lock_name must not be empty")
	}
	if cfg.FlushSeen <= 0 || cfg.FlushProfiles <= 0 || cfg.FlushChanged <= 0 {
		return nil, errors.New("flush thresholds must be positive")
	}
	return &cfg, nil
}
