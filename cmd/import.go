package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/minecraft-gilde/importer/internal/importer"
	"github.com/minecraft-gilde/importer/internal/leaderboard"
	"github.com/minecraft-gilde/importer/internal/model"
	"github.com/minecraft-gilde/importer/internal/storage"
)

// import command flags.
var (
	importStatsDir  string
	importUsercache string
	importMinTicks  int64
	importExclude   []string
	importDryRun    bool

	importFlushSeen     int
	importFlushProfiles int
	importFlushChanged  int

	importLockName    string
	importLockTimeout int

	importKingMetric string
	importKingPoints string
	importNoKing     bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import per-player stats files and materialize leaderboards",
	Long: `Scans a world's stats directory (UUID.json files), detects which
players changed since the last pass via content digest, and updates the
profile, stats and metric tables in batches. Players that vanished from
the input are removed, then the Server-König points are recomputed.

Examples:
  mcstats import --stats-dir /srv/world/stats --usercache /srv/usercache.json
  mcstats import --stats-dir /srv/world/stats --usercache /srv/usercache.json --dry-run`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importStatsDir, "stats-dir", "", "path to world/stats directory (required)")
	f.StringVar(&importUsercache, "usercache", "", "path to usercache.json (required)")
	f.Int64Var(&importMinTicks, "min-play-ticks", 0, "inclusion threshold on minecraft:play_time")
	f.StringArrayVar(&importExclude, "exclude-uuid", nil, "player UUID to skip (repeatable)")
	f.BoolVar(&importDryRun, "dry-run", false, "parse and compute only, perform no writes")

	f.IntVar(&importFlushSeen, "flush-seen", 0, "flush seen-set after N ids")
	f.IntVar(&importFlushProfiles, "flush-profiles", 0, "flush profiles after N rows")
	f.IntVar(&importFlushChanged, "flush-changed", 0, "flush changed-player batch after N players")

	f.StringVar(&importLockName, "lock-name", "", "advisory run lock name")
	f.IntVar(&importLockTimeout, "lock-timeout", -1, "seconds to wait for the run lock")

	f.StringVar(&importKingMetric, "king-metric-id", "", "metric id for Server-König points")
	f.StringVar(&importKingPoints, "king-points", "", "comma-separated points for ranks 1..N")
	f.BoolVar(&importNoKing, "no-king", false, "disable Server-König recomputation")

	_ = importCmd.MarkFlagRequired("stats-dir")
	_ = importCmd.MarkFlagRequired("usercache")
}

func runImport(cmd *cobra.Command, args []string) error {
	impCfg, err := buildImportConfig(cmd)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	sum, err := importer.New(db, log, impCfg).Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Processed files=%d, kept=%d, changed=%d\n",
		sum.Processed, sum.Kept, sum.Changed)
	return nil
}

// buildImportConfig merges loaded configuration with explicitly set
// flags; a flag wins only when the operator passed it.
func buildImportConfig(cmd *cobra.Command) (importer.Config, error) {
	flags := cmd.Flags()

	minTicks := cfg.MinPlayTicks
	if flags.Changed("min-play-ticks") {
		minTicks = importMinTicks
	}
	flushSeen := cfg.FlushSeen
	if flags.Changed("flush-seen") {
		flushSeen = importFlushSeen
	}
	flushProfiles := cfg.FlushProfiles
	if flags.Changed("flush-profiles") {
		flushProfiles = importFlushProfiles
	}
	flushChanged := cfg.FlushChanged
	if flags.Changed("flush-changed") {
		flushChanged = importFlushChanged
	}
	lockName := cfg.LockName
	if flags.Changed("lock-name") {
		lockName = importLockName
	}
	lockTimeout := cfg.LockTimeoutSec
	if flags.Changed("lock-timeout") {
		lockTimeout = importLockTimeout
	}
	kingMetric := cfg.KingMetricID
	if flags.Changed("king-metric-id") {
		kingMetric = importKingMetric
	}
	noKing := cfg.NoKing
	if flags.Changed("no-king") {
		noKing = importNoKing
	}

	points := cfg.KingPoints
	if flags.Changed("king-points") {
		parsed, err := parsePoints(importKingPoints)
		if err != nil {
			return importer.Config{}, err
		}
		points = parsed
	}
	if len(points) == 0 {
		points = leaderboard.DefaultPoints
	}

	exclude := make(map[model.PlayerID]struct{})
	for _, raw := range append(append([]string{}, cfg.ExcludeUUIDs...), importExclude...) {
		id, err := model.ParsePlayerID(raw)
		if err != nil {
			log.Warnw("invalid exclude uuid ignored", "uuid", raw)
			continue
		}
		exclude[id] = struct{}{}
	}

	return importer.Config{
		StatsDir:      importStatsDir,
		UsercachePath: importUsercache,
		MinPlayTicks:  minTicks,
		Exclude:       exclude,
		DryRun:        importDryRun,
		FlushSeen:     flushSeen,
		FlushProfiles: flushProfiles,
		FlushChanged:  flushChanged,
		LockName:      lockName,
		LockTimeout:   time.Duration(lockTimeout) * time.Second,
		LockStale:     time.Duration(cfg.LockStaleSec) * time.Second,
		King:          leaderboard.Config{MetricID: kingMetric, Points: points},
		DisableKing:   noKing,
	}, nil
}

func parsePoints(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid king points %q: %w", s, err)
		}
		out = append(out, n)
	}
	return out, nil
}
