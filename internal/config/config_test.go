package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinPlayTicks != 72000 {
		t.Errorf("MinPlayTicks = %d, want 72000", cfg.MinPlayTicks)
	}
	if cfg.LockName != "mc_stats_import" {
		t.Errorf("LockName = %q", cfg.LockName)
	}
	if cfg.FlushSeen != 2000 || cfg.FlushProfiles != 2000 || cfg.FlushChanged != 800 {
		t.Errorf("flush thresholds = %d/%d/%d", cfg.FlushSeen, cfg.FlushProfiles, cfg.FlushChanged)
	}
	if len(cfg.KingPoints) != 3 || cfg.KingPoints[0] != 5 {
		t.Errorf("KingPoints = %v", cfg.KingPoints)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcstats.yaml")
	yaml := "min_play_ticks: 1000\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MCSTATS_CONFIG", path)
	t.Setenv("MCSTATS_LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinPlayTicks != 1000 {
		t.Errorf("MinPlayTicks = %d, want file value 1000", cfg.MinPlayTicks)
	}
	// Environment wins over the file.
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
}

func TestLoadRejectsBadThresholds(t *testing.T) {
	t.Setenv("MCSTATS_FLUSH_SEEN", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero flush threshold")
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv("MCSTATS_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
