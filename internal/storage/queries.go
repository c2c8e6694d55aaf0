package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/minecraft-gilde/importer/internal/model"
)

// timeLayout is the textual timestamp format used across the store.
const timeLayout = "2006-01-02 15:04:05"

func sqlTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseSQLTime(s string) *time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

// EnsureRun returns the active run id, creating one run in-place when
// none is active yet. The run is never superseded by the importer; an
// operator retires it explicitly.
func (db *DB) EnsureRun() (int64, error) {
	var active sql.NullInt64
	err := db.conn.QueryRow("SELECT active_run_id FROM site_state WHERE id = 1").Scan(&active)
	if err != nil {
		return 0, fmt.Errorf("read site_state: %w", err)
	}
	if active.Valid {
		if err := db.TouchRun(active.Int64); err != nil {
			return 0, err
		}
		return active.Int64, nil
	}

	res, err := db.conn.Exec(
		"INSERT INTO import_run (generated_at, status) VALUES (?, 'active')",
		sqlTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := db.conn.Exec("UPDATE site_state SET active_run_id = ? WHERE id = 1", runID); err != nil {
		return 0, fmt.Errorf("activate run: %w", err)
	}
	return runID, nil
}

// ActiveRunID returns the active run id, or an error when none is set.
func (db *DB) ActiveRunID() (int64, error) {
	var active sql.NullInt64
	err := db.conn.QueryRow("SELECT active_run_id FROM site_state WHERE id = 1").Scan(&active)
	if err != nil {
		return 0, fmt.Errorf("read site_state: %w", err)
	}
	if !active.Valid {
		return 0, fmt.Errorf("no active run")
	}
	return active.Int64, nil
}

// TouchRun refreshes the run's generation timestamp.
func (db *DB) TouchRun(runID int64) error {
	_, err := db.conn.Exec(
		"UPDATE import_run SET generated_at = ?, status = 'active' WHERE id = ?",
		sqlTime(time.Now()), runID,
	)
	return err
}

// ProfileColumns describes which optional player_profile columns the
// database actually has. Resolved once at run start and threaded
// through every profile write; older databases may predate the
// name_source/name_checked_at columns.
type ProfileColumns struct {
	HasSource    bool
	HasCheckedAt bool
}

// ProbeProfileColumns inspects the player_profile table.
func (db *DB) ProbeProfileColumns() (ProfileColumns, error) {
	rows, err := db.conn.Query("PRAGMA table_info(player_profile)")
	if err != nil {
		return ProfileColumns{}, fmt.Errorf("probe player_profile: %w", err)
	}
	defer rows.Close()

	var caps ProfileColumns
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return ProfileColumns{}, err
		}
		switch name {
		case "name_source":
			caps.HasSource = true
		case "name_checked_at":
			caps.HasCheckedAt = true
		}
	}
	return caps, rows.Err()
}

// HasTable reports whether a table exists; used to probe the optional
// award store.
func (db *DB) HasTable(name string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// LoadMetricDefs returns all metric definitions ordered by sort key.
func (db *DB) LoadMetricDefs() ([]model.MetricDef, error) {
	rows, err := db.conn.Query(`
		SELECT id, label, category, unit, divisor, decimals, sort_order, enabled
		FROM metric_def ORDER BY sort_order ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MetricDef
	for rows.Next() {
		var d model.MetricDef
		var enabled int
		if err := rows.Scan(&d.ID, &d.Label, &d.Category, &d.Unit,
			&d.Divisor, &d.Decimals, &d.SortOrder, &enabled); err != nil {
			return nil, err
		}
		d.Enabled = enabled != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

// LoadMetricSources returns the sources of all enabled metrics, ordered
// by the metric sort key.
func (db *DB) LoadMetricSources() ([]model.MetricSource, error) {
	rows, err := db.conn.Query(`
		SELECT ms.metric_id, ms.section, ms.stat_key, ms.weight
		FROM metric_source ms
		JOIN metric_def md ON md.id = ms.metric_id
		WHERE md.enabled = 1
		ORDER BY md.sort_order ASC, ms.metric_id ASC, ms.section ASC, ms.stat_key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MetricSource
	for rows.Next() {
		var s model.MetricSource
		if err := rows.Scan(&s.MetricID, &s.Section, &s.StatKey, &s.Weight); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertMetricDef writes one metric definition and replaces its sources.
func (db *DB) UpsertMetricDef(def model.MetricDef, sources []model.MetricSource) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO metric_def(id, label, category, unit, divisor, decimals, sort_order, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.Label, def.Category, def.Unit,
		def.Divisor, def.Decimals, def.SortOrder, boolInt(def.Enabled),
	)
	if err != nil {
		return fmt.Errorf("upsert metric_def %s: %w", def.ID, err)
	}

	if _, err := tx.Exec("DELETE FROM metric_source WHERE metric_id = ?", def.ID); err != nil {
		return err
	}
	for _, s := range sources {
		_, err := tx.Exec(
			"INSERT INTO metric_source(metric_id, section, stat_key, weight) VALUES (?, ?, ?, ?)",
			def.ID, s.Section, s.StatKey, s.Weight,
		)
		if err != nil {
			return fmt.Errorf("insert metric_source %s/%s: %w", def.ID, s.StatKey, err)
		}
	}
	return tx.Commit()
}

// EnsureMetricDef inserts a definition only when the id is absent; used
// for the composite metric.
func (db *DB) EnsureMetricDef(def model.MetricDef) error {
	_, err := db.conn.Exec(`
		INSERT OR IGNORE INTO metric_def(id, label, category, unit, divisor, decimals, sort_order, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.Label, def.Category, def.Unit,
		def.Divisor, def.Decimals, def.SortOrder, boolInt(def.Enabled),
	)
	return err
}

// LoadDigests loads the stored content digest of every player in the
// run. This is the in-memory map the hash-skip relies on.
func (db *DB) LoadDigests(runID int64) (map[model.PlayerID][20]byte, error) {
	rows, err := db.conn.Query("SELECT uuid, stats_sha1 FROM player_stats WHERE run_id = ?", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.PlayerID][20]byte)
	for rows.Next() {
		var idRaw, shaRaw []byte
		if err := rows.Scan(&idRaw, &shaRaw); err != nil {
			return nil, err
		}
		if len(idRaw) != 16 || len(shaRaw) != 20 {
			continue
		}
		var id model.PlayerID
		copy(id[:], idRaw)
		var sha [20]byte
		copy(sha[:], shaRaw)
		out[id] = sha
	}
	return out, rows.Err()
}

// ProfileMeta is the stored name metadata of one player.
type ProfileMeta struct {
	Name      string
	Source    string
	CheckedAt *time.Time
}

// LoadProfileMeta loads the last known name (and optional metadata) per
// player, so lower-priority fallbacks never clobber learned names.
func (db *DB) LoadProfileMeta(runID int64, caps ProfileColumns) (map[model.PlayerID]ProfileMeta, error) {
	cols := []string{"uuid", "name"}
	if caps.HasSource {
		cols = append(cols, "name_source")
	}
	if caps.HasCheckedAt {
		cols = append(cols, "name_checked_at")
	}

	rows, err := db.conn.Query(
		fmt.Sprintf("SELECT %s FROM player_profile WHERE run_id = ?", strings.Join(cols, ", ")), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.PlayerID]ProfileMeta)
	for rows.Next() {
		var (
			idRaw   []byte
			name    string
			source  sql.NullString
			checked sql.NullString
		)
		ptrs := []any{&idRaw, &name}
		if caps.HasSource {
			ptrs = append(ptrs, &source)
		}
		if caps.HasCheckedAt {
			ptrs = append(ptrs, &checked)
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		if len(idRaw) != 16 || name == "" {
			continue
		}
		var id model.PlayerID
		copy(id[:], idRaw)

		meta := ProfileMeta{Name: name}
		if source.Valid {
			meta.Source = source.String
		}
		if checked.Valid {
			meta.CheckedAt = parseSQLTime(checked.String)
		}
		out[id] = meta
	}
	return out, rows.Err()
}

// CreateSeenTable (re)creates the per-pass temp table holding the ids of
// every player observed this pass. It lives on the single pooled
// connection and vanishes when the process exits.
func (db *DB) CreateSeenTable() error {
	if _, err := db.conn.Exec("DROP TABLE IF EXISTS temp.tmp_seen"); err != nil {
		return err
	}
	_, err := db.conn.Exec("CREATE TEMPORARY TABLE tmp_seen (uuid BLOB PRIMARY KEY)")
	return err
}

// InsertSeen flushes one batch of observed ids into the seen set.
func (db *DB) InsertSeen(ids []model.PlayerID) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT OR IGNORE INTO tmp_seen (uuid) VALUES (?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id[:]); err != nil {
			return fmt.Errorf("insert tmp_seen: %w", err)
		}
	}
	return tx.Commit()
}

// UpsertProfiles flushes one batch of profile rows. Insert-or-replace by
// (run, player); last_seen is always refreshed. Optional columns are
// written only when the database has them.
func (db *DB) UpsertProfiles(runID int64, profiles []model.ProfileRow, caps ProfileColumns) error {
	if len(profiles) == 0 {
		return nil
	}

	cols := []string{"run_id", "uuid", "name", "name_lc"}
	if caps.HasSource {
		cols = append(cols, "name_source")
	}
	if caps.HasCheckedAt {
		cols = append(cols, "name_checked_at")
	}
	cols = append(cols, "last_seen")

	query := fmt.Sprintf(
		"INSERT OR REPLACE INTO player_profile(%s) VALUES (%s)",
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?,", len(cols)), ","),
	)

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range profiles {
		args := []any{runID, p.ID[:], p.Name, strings.ToLower(p.Name)}
		if caps.HasSource {
			args = append(args, string(p.Source))
		}
		if caps.HasCheckedAt {
			if p.CheckedAt != nil {
				args = append(args, sqlTime(*p.CheckedAt))
			} else {
				args = append(args, nil)
			}
		}
		args = append(args, sqlTime(p.LastSeen))
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("upsert profile %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// FlushChanged commits one changed-player batch in a single
// transaction: stale metric rows for those players are deleted first
// (so metrics that dropped to zero disappear), then the stat snapshots
// are upserted and the fresh metric values inserted. Either the whole
// batch commits or the error propagates.
func (db *DB) FlushChanged(runID int64, changed []model.PlayerID, statsRows []model.StatsRow, metricRows []model.MetricRow) error {
	if len(changed) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ids := range chunkIDs(changed, 500) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, 0, len(ids)+1)
		args = append(args, runID)
		for _, id := range ids {
			args = append(args, id[:])
		}
		_, err := tx.Exec(
			fmt.Sprintf("DELETE FROM metric_value WHERE run_id = ? AND uuid IN (%s)", placeholders),
			args...,
		)
		if err != nil {
			return fmt.Errorf("delete stale metric values: %w", err)
		}
	}

	now := sqlTime(time.Now())
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO player_stats(run_id, uuid, stats_gzip, stats_sha1, updated_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, s := range statsRows {
		if _, err := stmt.Exec(runID, s.ID[:], s.Payload, s.Digest[:], now); err != nil {
			return fmt.Errorf("upsert player_stats %s: %w", s.ID, err)
		}
	}

	mvStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO metric_value(run_id, metric_id, uuid, value)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer mvStmt.Close()
	for _, m := range metricRows {
		if _, err := mvStmt.Exec(runID, m.MetricID, m.ID[:], m.Value); err != nil {
			return fmt.Errorf("insert metric_value %s/%s: %w", m.MetricID, m.ID, err)
		}
	}

	return tx.Commit()
}

// CleanupCounts reports how many rows CleanupMissing removed per table.
type CleanupCounts struct {
	Profiles int64
	Stats    int64
	Metrics  int64
}

// CleanupMissing deletes, for the given run, every row whose player is
// absent from the seen set. Must only run after the seen set is fully
// flushed.
func (db *DB) CleanupMissing(runID int64) (CleanupCounts, error) {
	var counts CleanupCounts

	tx, err := db.conn.Begin()
	if err != nil {
		return counts, err
	}
	defer tx.Rollback()

	del := func(table string) (int64, error) {
		res, err := tx.Exec(fmt.Sprintf(
			"DELETE FROM %s WHERE run_id = ? AND uuid NOT IN (SELECT uuid FROM tmp_seen)", table), runID)
		if err != nil {
			return 0, fmt.Errorf("cleanup %s: %w", table, err)
		}
		return res.RowsAffected()
	}

	if counts.Profiles, err = del("player_profile"); err != nil {
		return counts, err
	}
	if counts.Stats, err = del("player_stats"); err != nil {
		return counts, err
	}
	if counts.Metrics, err = del("metric_value"); err != nil {
		return counts, err
	}
	return counts, tx.Commit()
}

// DeleteMetricValues removes all values of one metric in a run.
func (db *DB) DeleteMetricValues(runID int64, metricID string) error {
	_, err := db.conn.Exec(
		"DELETE FROM metric_value WHERE run_id = ? AND metric_id = ?", runID, metricID)
	return err
}

// InsertMetricValues inserts metric rows outside the changed-batch path;
// used by the leaderboard recompute.
func (db *DB) InsertMetricValues(runID int64, rows []model.MetricRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"INSERT OR REPLACE INTO metric_value(run_id, metric_id, uuid, value) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range rows {
		if _, err := stmt.Exec(runID, m.MetricID, m.ID[:], m.Value); err != nil {
			return fmt.Errorf("insert metric_value %s/%s: %w", m.MetricID, m.ID, err)
		}
	}
	return tx.Commit()
}

// TopMetricValues returns the highest positive values of one metric,
// ordered by value descending with ties broken by ascending id. The
// tie-break keeps recomputation deterministic.
func (db *DB) TopMetricValues(runID int64, metricID string, limit int) ([]model.RankedValue, error) {
	rows, err := db.conn.Query(`
		SELECT uuid, value FROM metric_value
		WHERE run_id = ? AND metric_id = ? AND value > 0
		ORDER BY value DESC, uuid ASC LIMIT ?`,
		runID, metricID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RankedValue
	for rows.Next() {
		var idRaw []byte
		var rv model.RankedValue
		if err := rows.Scan(&idRaw, &rv.Value); err != nil {
			return nil, err
		}
		if len(idRaw) != 16 {
			continue
		}
		copy(rv.ID[:], idRaw)
		out = append(out, rv)
	}
	return out, rows.Err()
}

// ClearAwards removes all award facts for a run.
func (db *DB) ClearAwards(runID int64) error {
	_, err := db.conn.Exec("DELETE FROM metric_award WHERE run_id = ?", runID)
	return err
}

// InsertAwards writes per-(metric, place) award facts.
func (db *DB) InsertAwards(runID int64, awards []model.Award) error {
	if len(awards) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO metric_award(run_id, metric_id, place, uuid, points, value)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range awards {
		if _, err := stmt.Exec(runID, a.MetricID, a.Place, a.ID[:], a.Points, a.Value); err != nil {
			return fmt.Errorf("insert metric_award %s#%d: %w", a.MetricID, a.Place, err)
		}
	}
	return tx.Commit()
}

// PurgeRun deletes every row of the run and clears the active pointer.
func (db *DB) PurgeRun(runID int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"player_profile", "player_stats", "metric_value", "metric_award"} {
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE run_id = ?", table), runID); err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}
	if _, err := tx.Exec("UPDATE import_run SET status = 'retired' WHERE id = ?", runID); err != nil {
		return err
	}
	if _, err := tx.Exec("UPDATE site_state SET active_run_id = NULL WHERE id = 1"); err != nil {
		return err
	}
	return tx.Commit()
}

// CountMetricValues returns the number of value rows for one metric.
func (db *DB) CountMetricValues(runID int64, metricID string) (int, error) {
	var n int
	err := db.conn.QueryRow(
		"SELECT COUNT(1) FROM metric_value WHERE run_id = ? AND metric_id = ?",
		runID, metricID).Scan(&n)
	return n, err
}

func chunkIDs(ids []model.PlayerID, n int) [][]model.PlayerID {
	var out [][]model.PlayerID
	for len(ids) > n {
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
