// Package importer runs one import pass: scan the stats directory,
// detect changed players by content digest, materialize their metrics in
// batches, reconcile vanished players, and recompute the composite
// leaderboard.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/minecraft-gilde/importer/internal/leaderboard"
	"github.com/minecraft-gilde/importer/internal/metrics"
	"github.com/minecraft-gilde/importer/internal/model"
	"github.com/minecraft-gilde/importer/internal/names"
	"github.com/minecraft-gilde/importer/internal/stats"
	"github.com/minecraft-gilde/importer/internal/storage"
)

// Sentinel errors mapped to distinct CLI exit codes.
var (
	ErrStatsDirNotFound = errors.New("stats directory not found")
	ErrNoMetrics        = errors.New("no enabled metrics configured")
	ErrLockNotAcquired  = errors.New("could not acquire run lock")
)

// playTimeSection and playTimeKey locate the inclusion-threshold stat.
const (
	playTimeSection = "minecraft:custom"
	playTimeKey     = "minecraft:play_time"
)

// SkipReason classifies why a file did not contribute to the pass.
type SkipReason string

const (
	SkipInvalidID      SkipReason = "invalid-id"
	SkipExcluded       SkipReason = "excluded"
	SkipParseError     SkipReason = "parse-error"
	SkipBelowThreshold SkipReason = "below-threshold"
)

// Summary reports one pass.
type Summary struct {
	Processed int
	Kept      int
	Changed   int
	Skipped   map[SkipReason]int
	Cleanup   storage.CleanupCounts
}

// Config holds the knobs of one pass.
type Config struct {
	StatsDir      string
	UsercachePath string
	MinPlayTicks  int64
	Exclude       map[model.PlayerID]struct{}
	DryRun        bool

	FlushSeen     int
	FlushProfiles int
	FlushChanged  int

	LockName    string
	LockTimeout time.Duration
	LockStale   time.Duration

	// King configures the composite leaderboard recompute; DisableKing
	// skips it.
	King        leaderboard.Config
	DisableKing bool
}

// Importer owns one pass over the stats directory.
type Importer struct {
	db  *storage.DB
	log *zap.SugaredLogger
	cfg Config
}

// New builds an Importer.
func New(db *storage.DB, log *zap.SugaredLogger, cfg Config) *Importer {
	return &Importer{db: db, log: log, cfg: cfg}
}

// Run executes the pass. It acquires the advisory run lock for its
// whole duration; at most one pass runs at a time across processes.
func (imp *Importer) Run(ctx context.Context) (*Summary, error) {
	info, err := os.Stat(imp.cfg.StatsDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrStatsDirNotFound, imp.cfg.StatsDir)
	}

	usercache, err := names.LoadUsercache(imp.cfg.UsercachePath)
	if err != nil {
		imp.log.Warnw("usercache unreadable, continuing without it",
			"path", imp.cfg.UsercachePath, "error", err)
		usercache = map[model.PlayerID]string{}
	}
	imp.log.Infow("loaded usercache", "names", len(usercache))

	lock, err := imp.db.AcquireLock(ctx, imp.cfg.LockName, imp.cfg.LockTimeout, imp.cfg.LockStale)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if lock == nil {
		return nil, fmt.Errorf("%w: %q within %s (another import running?)",
			ErrLockNotAcquired, imp.cfg.LockName, imp.cfg.LockTimeout)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			imp.log.Warnw("release lock", "error", err)
		}
	}()

	runID, err := imp.db.EnsureRun()
	if err != nil {
		return nil, err
	}
	imp.log.Infow("using run (in-place)", "run_id", runID)

	sources, err := imp.db.LoadMetricSources()
	if err != nil {
		return nil, fmt.Errorf("load metric sources: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: seed metric_def and metric_source first", ErrNoMetrics)
	}
	computer := metrics.NewComputer(sources)
	imp.log.Infow("loaded metrics", "metrics", len(computer.MetricIDs()))

	digests, err := imp.db.LoadDigests(runID)
	if err != nil {
		return nil, fmt.Errorf("load digests: %w", err)
	}
	imp.log.Infow("loaded existing digests", "players", len(digests))

	caps, err := imp.db.ProbeProfileColumns()
	if err != nil {
		return nil, err
	}
	known, err := imp.loadKnownNames(runID, caps)
	if err != nil {
		return nil, fmt.Errorf("load profile meta: %w", err)
	}
	resolver := names.NewResolver(usercache, known)

	if !imp.cfg.DryRun {
		if err := imp.db.CreateSeenTable(); err != nil {
			return nil, fmt.Errorf("create seen table: %w", err)
		}
	}

	sum := &Summary{Skipped: make(map[SkipReason]int)}
	seenBuf := newBuffer[model.PlayerID](imp.cfg.FlushSeen)
	profileBuf := newBuffer[model.ProfileRow](imp.cfg.FlushProfiles)
	changed := newChangedBatch(imp.cfg.FlushChanged)

	if err := imp.scan(runID, computer, resolver, digests, caps, sum, seenBuf, profileBuf, changed); err != nil {
		return sum, err
	}

	imp.log.Infow("pass complete",
		"processed", sum.Processed, "kept", sum.Kept, "changed", sum.Changed, "skipped", sum.Skipped)

	if imp.cfg.DryRun {
		imp.log.Info("dry run: no writes performed")
		return sum, nil
	}

	if err := imp.flushAll(runID, caps, seenBuf, profileBuf, changed); err != nil {
		return sum, err
	}

	counts, err := imp.db.CleanupMissing(runID)
	if err != nil {
		return sum, fmt.Errorf("cleanup: %w", err)
	}
	sum.Cleanup = counts
	if counts.Profiles+counts.Stats+counts.Metrics > 0 {
		imp.log.Infow("removed vanished players",
			"profiles", counts.Profiles, "stats", counts.Stats, "metrics", counts.Metrics)
	}

	if !imp.cfg.DisableKing {
		// A failed recompute must not invalidate the committed import.
		if err := leaderboard.Recompute(imp.db, runID, computer.MetricIDs(), imp.cfg.King); err != nil {
			imp.log.Warnw("leaderboard recompute failed (continuing)", "error", err)
		} else {
			imp.log.Infow("recomputed leaderboard points",
				"metric", imp.cfg.King.MetricID, "points", imp.cfg.King.Points)
		}
	}

	if err := imp.db.TouchRun(runID); err != nil {
		return sum, fmt.Errorf("touch run: %w", err)
	}
	return sum, nil
}

// scan walks the stats directory once, sequentially, and fills the
// buffers, flushing each independently when it reaches its threshold.
func (imp *Importer) scan(
	runID int64,
	computer *metrics.Computer,
	resolver *names.Resolver,
	digests map[model.PlayerID][20]byte,
	caps storage.ProfileColumns,
	sum *Summary,
	seenBuf *buffer[model.PlayerID],
	profileBuf *buffer[model.ProfileRow],
	changed *changedBatch,
) error {
	entries, err := os.ReadDir(imp.cfg.StatsDir)
	if err != nil {
		return fmt.Errorf("read stats dir: %w", err)
	}

	now := time.Now()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		sum.Processed++

		id, err := model.ParsePlayerID(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			imp.log.Debugw("skip file with invalid uuid name", "file", entry.Name())
			sum.Skipped[SkipInvalidID]++
			continue
		}
		if _, ok := imp.cfg.Exclude[id]; ok {
			sum.Skipped[SkipExcluded]++
			continue
		}

		raw, err := os.ReadFile(filepath.Join(imp.cfg.StatsDir, entry.Name()))
		if err != nil {
			imp.log.Warnw("cannot read stats file", "file", entry.Name(), "error", err)
			sum.Skipped[SkipParseError]++
			continue
		}
		tree, err := stats.Normalize(raw)
		if err != nil && !errors.Is(err, stats.ErrNotObject) {
			imp.log.Warnw("cannot parse stats file", "file", entry.Name(), "error", err)
			sum.Skipped[SkipParseError]++
			continue
		}

		playTime, _ := stats.IntAt(tree, playTimeSection, playTimeKey)
		if playTime < imp.cfg.MinPlayTicks {
			sum.Skipped[SkipBelowThreshold]++
			continue
		}
		sum.Kept++

		if !imp.cfg.DryRun && seenBuf.add(id) {
			if err := imp.db.InsertSeen(seenBuf.drain()); err != nil {
				return fmt.Errorf("flush seen: %w", err)
			}
		}

		resolved := resolver.Resolve(id)
		if !imp.cfg.DryRun {
			row := model.ProfileRow{
				ID:        id,
				Name:      resolved.Name,
				Source:    resolved.Source,
				CheckedAt: resolved.CheckedAt,
				LastSeen:  now,
			}
			if profileBuf.add(row) {
				if err := imp.db.UpsertProfiles(runID, profileBuf.drain(), caps); err != nil {
					return fmt.Errorf("flush profiles: %w", err)
				}
			}
		}

		canonical := stats.Canonical(tree)
		digest := stats.Digest(tree)
		if prev, ok := digests[id]; ok && prev == digest {
			continue
		}
		sum.Changed++
		digests[id] = digest

		if imp.cfg.DryRun {
			continue
		}

		payload, err := gzipBytes(canonical)
		if err != nil {
			return fmt.Errorf("compress stats for %s: %w", id, err)
		}
		full := changed.add(
			id,
			model.StatsRow{ID: id, Payload: payload, Digest: digest},
			computer.Compute(id, tree),
		)
		if full {
			if err := imp.flushChanged(runID, changed); err != nil {
				return err
			}
		}
	}
	return nil
}

// flushAll drains every buffer after the scan; ordering does not matter
// here because cleanup only runs after all three finish.
func (imp *Importer) flushAll(
	runID int64,
	caps storage.ProfileColumns,
	seenBuf *buffer[model.PlayerID],
	profileBuf *buffer[model.ProfileRow],
	changed *changedBatch,
) error {
	if err := imp.db.InsertSeen(seenBuf.drain()); err != nil {
		return fmt.Errorf("flush seen: %w", err)
	}
	if err := imp.db.UpsertProfiles(runID, profileBuf.drain(), caps); err != nil {
		return fmt.Errorf("flush profiles: %w", err)
	}
	return imp.flushChanged(runID, changed)
}

func (imp *Importer) flushChanged(runID int64, changed *changedBatch) error {
	ids, statsRows, metricRows := changed.drain()
	if len(ids) == 0 {
		return nil
	}
	if err := imp.db.FlushChanged(runID, ids, statsRows, metricRows); err != nil {
		return fmt.Errorf("flush changed batch: %w", err)
	}
	imp.log.Debugw("flushed changed batch",
		"players", len(ids), "stats_rows", len(statsRows), "metric_rows", len(metricRows))
	return nil
}

func (imp *Importer) loadKnownNames(runID int64, caps storage.ProfileColumns) (map[model.PlayerID]names.Known, error) {
	meta, err := imp.db.LoadProfileMeta(runID, caps)
	if err != nil {
		return nil, err
	}
	known := make(map[model.PlayerID]names.Known, len(meta))
	for id, m := range meta {
		known[id] = names.Known{
			Name:      m.Name,
			Source:    model.NameSource(m.Source),
			CheckedAt: m.CheckedAt,
		}
	}
	return known, nil
}

// changedBatch groups the three row kinds that must flush together for
// a changed player: the seen ids drive the stale-metric delete that
// precedes the inserts.
type changedBatch struct {
	limit      int
	ids        []model.PlayerID
	statsRows  []model.StatsRow
	metricRows []model.MetricRow
}

func newChangedBatch(limit int) *changedBatch {
	return &changedBatch{limit: limit}
}

func (c *changedBatch) add(id model.PlayerID, s model.StatsRow, m []model.MetricRow) bool {
	c.ids = append(c.ids, id)
	c.statsRows = append(c.statsRows, s)
	c.metricRows = append(c.metricRows, m...)
	return len(c.ids) >= c.limit
}

func (c *changedBatch) drain() ([]model.PlayerID, []model.StatsRow, []model.MetricRow) {
	ids, s, m := c.ids, c.statsRows, c.metricRows
	c.ids, c.statsRows, c.metricRows = nil, nil, nil
	return ids, s, m
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, 6)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
