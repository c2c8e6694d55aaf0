package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/minecraft-gilde/importer/internal/leaderboard"
	"github.com/minecraft-gilde/importer/internal/model"
	"github.com/minecraft-gilde/importer/internal/storage"
)

var (
	playerA = model.PlayerID{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	playerB = model.PlayerID{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedMiningMetric(t *testing.T, db *storage.DB) {
	t.Helper()
	err := db.UpsertMetricDef(
		model.MetricDef{ID: "mining", Label: "Bergbau", Unit: "Blöcke", Divisor: 1, SortOrder: 1, Enabled: true},
		[]model.MetricSource{
			{MetricID: "mining", Section: "minecraft:mined", StatKey: "minecraft:stone", Weight: 1},
		})
	if err != nil {
		t.Fatalf("seed metric: %v", err)
	}
}

func writeStats(t *testing.T, dir string, id model.PlayerID, playTime, stone int64) {
	t.Helper()
	body := fmt.Sprintf(
		`{"stats":{"minecraft:custom":{"minecraft:play_time":%d},"minecraft:mined":{"minecraft:stone":%d}},"DataVersion":3953}`,
		playTime, stone)
	path := filepath.Join(dir, id.String()+".json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testConfig(dir string) Config {
	return Config{
		StatsDir:      dir,
		UsercachePath: filepath.Join(dir, "usercache.json"),
		MinPlayTicks:  72000,
		FlushSeen:     100,
		FlushProfiles: 100,
		FlushChanged:  100,
		LockName:      "mc_stats_import",
		LockStale:     time.Hour,
		King:          leaderboard.Config{MetricID: "king"},
	}
}

func runPass(t *testing.T, db *storage.DB, cfg Config) *Summary {
	t.Helper()
	sum, err := New(db, zap.NewNop().Sugar(), cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return sum
}

func TestRunFullPass(t *testing.T) {
	db := newTestDB(t)
	seedMiningMetric(t, db)
	dir := t.TempDir()

	// The usercache lives outside the stats dir; the scan must only ever
	// see per-player stat files.
	cachePath := filepath.Join(t.TempDir(), "usercache.json")
	usercache := fmt.Sprintf(`[{"name":"Steve","uuid":"%s"}]`, playerA.String())
	if err := os.WriteFile(cachePath, []byte(usercache), 0o644); err != nil {
		t.Fatal(err)
	}
	writeStats(t, dir, playerA, 100000, 10)
	writeStats(t, dir, playerB, 100000, 5)

	cfg := testConfig(dir)
	cfg.UsercachePath = cachePath
	sum := runPass(t, db, cfg)
	if sum.Processed != 2 || sum.Kept != 2 || sum.Changed != 2 {
		t.Fatalf("summary = %+v, want 2/2/2", sum)
	}
	if len(sum.Skipped) != 0 {
		t.Fatalf("skipped = %v, want none", sum.Skipped)
	}

	runID, err := db.ActiveRunID()
	if err != nil {
		t.Fatalf("ActiveRunID: %v", err)
	}

	top, err := db.TopMetricValues(runID, "mining", 10)
	if err != nil {
		t.Fatalf("TopMetricValues: %v", err)
	}
	if len(top) != 2 || top[0].ID != playerA || top[0].Value != 10 || top[1].Value != 5 {
		t.Fatalf("mining top = %+v, want A=10, B=5", top)
	}

	// Composite points from the single metric: 5 for first, 3 for second.
	king, err := db.TopMetricValues(runID, "king", 10)
	if err != nil {
		t.Fatalf("TopMetricValues king: %v", err)
	}
	if len(king) != 2 || king[0].ID != playerA || king[0].Value != 5 || king[1].ID != playerB || king[1].Value != 3 {
		t.Fatalf("king top = %+v, want A=5, B=3", king)
	}

	caps, err := db.ProbeProfileColumns()
	if err != nil {
		t.Fatalf("ProbeProfileColumns: %v", err)
	}
	meta, err := db.LoadProfileMeta(runID, caps)
	if err != nil {
		t.Fatalf("LoadProfileMeta: %v", err)
	}
	if m := meta[playerA]; m.Name != "Steve" || m.Source != string(model.NameSourceUsercache) {
		t.Errorf("playerA meta = %+v, want Steve/usercache", m)
	}
	if m := meta[playerB]; m.Name != model.HexID(playerB)[:12] || m.Source != string(model.NameSourceFallback) {
		t.Errorf("playerB meta = %+v, want hex fallback", m)
	}
}

func TestRunSecondPassUnchanged(t *testing.T) {
	db := newTestDB(t)
	seedMiningMetric(t, db)
	dir := t.TempDir()
	writeStats(t, dir, playerA, 100000, 10)
	writeStats(t, dir, playerB, 100000, 5)
	cfg := testConfig(dir)

	first := runPass(t, db, cfg)
	second := runPass(t, db, cfg)

	if second.Changed != 0 {
		t.Errorf("second pass changed = %d, want 0", second.Changed)
	}
	if second.Kept != first.Kept {
		t.Errorf("second pass kept = %d, want %d", second.Kept, first.Kept)
	}
	if c := second.Cleanup; c.Profiles+c.Stats+c.Metrics != 0 {
		t.Errorf("second pass cleanup = %+v, want none", c)
	}

	runID, _ := db.ActiveRunID()
	if n, _ := db.CountMetricValues(runID, "mining"); n != 2 {
		t.Errorf("mining rows = %d, want 2", n)
	}
	if n, _ := db.CountMetricValues(runID, "king"); n != 2 {
		t.Errorf("king rows = %d, want 2", n)
	}
}

func TestRunRemovedPlayerCleanup(t *testing.T) {
	db := newTestDB(t)
	seedMiningMetric(t, db)
	dir := t.TempDir()
	writeStats(t, dir, playerA, 100000, 10)
	writeStats(t, dir, playerB, 100000, 5)
	cfg := testConfig(dir)

	runPass(t, db, cfg)
	if err := os.Remove(filepath.Join(dir, playerB.String()+".json")); err != nil {
		t.Fatal(err)
	}
	sum := runPass(t, db, cfg)

	// The vanished player held a mining row and a composite king row from
	// the first pass; cleanup removes both.
	if sum.Cleanup.Profiles != 1 || sum.Cleanup.Stats != 1 || sum.Cleanup.Metrics != 2 {
		t.Errorf("cleanup = %+v, want 1/1/2", sum.Cleanup)
	}

	runID, _ := db.ActiveRunID()
	digests, err := db.LoadDigests(runID)
	if err != nil {
		t.Fatalf("LoadDigests: %v", err)
	}
	if len(digests) != 1 {
		t.Errorf("players after cleanup = %d, want 1", len(digests))
	}
	if _, ok := digests[playerB]; ok {
		t.Error("removed player survived cleanup")
	}
	king, _ := db.TopMetricValues(runID, "king", 10)
	if len(king) != 1 || king[0].ID != playerA {
		t.Errorf("king top = %+v, want only A", king)
	}
}

func TestRunMetricDroppedToZero(t *testing.T) {
	db := newTestDB(t)
	seedMiningMetric(t, db)
	dir := t.TempDir()
	writeStats(t, dir, playerA, 100000, 10)
	cfg := testConfig(dir)

	runPass(t, db, cfg)

	// Rewrite without the mined section; the content changes, the metric
	// total becomes zero and its row must vanish.
	body := `{"minecraft:custom":{"minecraft:play_time":120000}}`
	if err := os.WriteFile(filepath.Join(dir, playerA.String()+".json"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	sum := runPass(t, db, cfg)
	if sum.Changed != 1 {
		t.Fatalf("changed = %d, want 1", sum.Changed)
	}

	runID, _ := db.ActiveRunID()
	if n, _ := db.CountMetricValues(runID, "mining"); n != 0 {
		t.Errorf("mining rows = %d, want 0 after drop to zero", n)
	}
}

func TestRunSkips(t *testing.T) {
	db := newTestDB(t)
	seedMiningMetric(t, db)
	dir := t.TempDir()

	writeStats(t, dir, playerA, 100, 10) // below threshold
	writeStats(t, dir, playerB, 100000, 5)
	if err := os.WriteFile(filepath.Join(dir, "notauuid.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	excluded := model.PlayerID{0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc}
	writeStats(t, dir, excluded, 100000, 1)
	broken := model.PlayerID{0xdd, 0xdd, 0xdd, 0xdd, 0xdd, 0xdd, 0xdd, 0xdd, 0xdd, 0xdd, 0xdd, 0xdd, 0xdd, 0xdd, 0xdd, 0xdd}
	if err := os.WriteFile(filepath.Join(dir, broken.String()+".json"), []byte(`{"broken":`), 0o644); err != nil {
		t.Fatal(err)
	}
	// Non-json files are not counted at all.
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(dir)
	cfg.Exclude = map[model.PlayerID]struct{}{excluded: {}}
	sum := runPass(t, db, cfg)

	if sum.Processed != 5 {
		t.Errorf("processed = %d, want 5", sum.Processed)
	}
	if sum.Kept != 1 {
		t.Errorf("kept = %d, want 1", sum.Kept)
	}
	want := map[SkipReason]int{
		SkipBelowThreshold: 1,
		SkipInvalidID:      1,
		SkipExcluded:       1,
		SkipParseError:     1,
	}
	for reason, n := range want {
		if sum.Skipped[reason] != n {
			t.Errorf("skipped[%s] = %d, want %d", reason, sum.Skipped[reason], n)
		}
	}
}

func TestRunDryRun(t *testing.T) {
	db := newTestDB(t)
	seedMiningMetric(t, db)
	dir := t.TempDir()
	writeStats(t, dir, playerA, 100000, 10)

	cfg := testConfig(dir)
	cfg.DryRun = true
	sum := runPass(t, db, cfg)
	if sum.Kept != 1 || sum.Changed != 1 {
		t.Fatalf("summary = %+v, want kept=1 changed=1", sum)
	}

	runID, err := db.EnsureRun()
	if err != nil {
		t.Fatalf("EnsureRun: %v", err)
	}
	digests, err := db.LoadDigests(runID)
	if err != nil {
		t.Fatalf("LoadDigests: %v", err)
	}
	if len(digests) != 0 {
		t.Errorf("dry run wrote %d stats rows", len(digests))
	}
	if n, _ := db.CountMetricValues(runID, "mining"); n != 0 {
		t.Errorf("dry run wrote %d metric rows", n)
	}
}

func TestRunStatsDirMissing(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig(filepath.Join(t.TempDir(), "missing"))

	_, err := New(db, zap.NewNop().Sugar(), cfg).Run(context.Background())
	if !errors.Is(err, ErrStatsDirNotFound) {
		t.Fatalf("err = %v, want ErrStatsDirNotFound", err)
	}
}

func TestRunNoMetricsConfigured(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	writeStats(t, dir, playerA, 100000, 10)

	_, err := New(db, zap.NewNop().Sugar(), testConfig(dir)).Run(context.Background())
	if !errors.Is(err, ErrNoMetrics) {
		t.Fatalf("err = %v, want ErrNoMetrics", err)
	}
}

func TestRunLockHeld(t *testing.T) {
	db := newTestDB(t)
	seedMiningMetric(t, db)
	dir := t.TempDir()
	writeStats(t, dir, playerA, 100000, 10)

	cfg := testConfig(dir)
	lock, err := db.AcquireLock(context.Background(), cfg.LockName, 0, 0)
	if err != nil || lock == nil {
		t.Fatalf("pre-acquire: lock=%v err=%v", lock, err)
	}
	defer lock.Release()

	_, err = New(db, zap.NewNop().Sugar(), cfg).Run(context.Background())
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("err = %v, want ErrLockNotAcquired", err)
	}
}

func TestRunSmallFlushLimits(t *testing.T) {
	// Limits of 1 force a flush on every row; the end state must match
	// the single-batch case.
	db := newTestDB(t)
	seedMiningMetric(t, db)
	dir := t.TempDir()
	writeStats(t, dir, playerA, 100000, 10)
	writeStats(t, dir, playerB, 100000, 5)

	cfg := testConfig(dir)
	cfg.FlushSeen, cfg.FlushProfiles, cfg.FlushChanged = 1, 1, 1
	sum := runPass(t, db, cfg)
	if sum.Changed != 2 {
		t.Fatalf("changed = %d, want 2", sum.Changed)
	}

	runID, _ := db.ActiveRunID()
	if n, _ := db.CountMetricValues(runID, "mining"); n != 2 {
		t.Errorf("mining rows = %d, want 2", n)
	}
	digests, _ := db.LoadDigests(runID)
	if len(digests) != 2 {
		t.Errorf("stats rows = %d, want 2", len(digests))
	}
}

func TestRunDisableKing(t *testing.T) {
	db := newTestDB(t)
	seedMiningMetric(t, db)
	dir := t.TempDir()
	writeStats(t, dir, playerA, 100000, 10)

	cfg := testConfig(dir)
	cfg.DisableKing = true
	runPass(t, db, cfg)

	runID, _ := db.ActiveRunID()
	if n, _ := db.CountMetricValues(runID, "king"); n != 0 {
		t.Errorf("king rows = %d, want 0 when disabled", n)
	}
}
