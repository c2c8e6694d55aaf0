package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/minecraft-gilde/importer/internal/model"
)

// NameCandidate is one profile the resolve job should look up: a
// placeholder name, or a name due for a periodic refresh.
type NameCandidate struct {
	ID        model.PlayerID
	Name      string
	Source    string
	CheckedAt *time.Time
}

// FetchNameCandidates selects at most max profiles whose name is
// missing or placeholder-looking (per the configured pattern), plus,
// when refreshDays > 0 and the column exists, profiles whose name has
// not been confirmed within that window. Missing names sort before
// refreshes so a bounded run fixes the worst rows first.
func (db *DB) FetchNameCandidates(runID int64, max, refreshDays int, caps ProfileColumns, placeholderPattern string) ([]NameCandidate, error) {
	missingExpr := "(name IS NULL OR name = '' OR name = 'Unknown' OR name REGEXP ?)"
	if caps.HasSource {
		// name_source catches placeholders cheaply before the regexp runs.
		missingExpr = "(name_source IN ('fallback', 'unknown') OR name IS NULL OR name = '' OR name = 'Unknown' OR name REGEXP ?)"
	}

	whereParts := []string{missingExpr}
	args := []any{runID, placeholderPattern}

	if refreshDays > 0 && caps.HasCheckedAt {
		whereParts = append(whereParts, "(name_checked_at IS NULL OR name_checked_at < ?)")
		args = append(args, sqlTime(time.Now().AddDate(0, 0, -refreshDays)))
	}

	cols := []string{"uuid", "name"}
	if caps.HasSource {
		cols = append(cols, "name_source")
	}
	orderMissing := "1"
	if caps.HasCheckedAt {
		cols = append(cols, "name_checked_at")
		orderMissing = fmt.Sprintf(
			"CASE WHEN %s THEN 1 ELSE 0 END DESC, COALESCE(name_checked_at, '1970-01-01') ASC", missingExpr)
		args = append(args, placeholderPattern)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM player_profile
		WHERE run_id = ? AND (%s)
		ORDER BY %s, uuid ASC
		LIMIT ?`,
		strings.Join(cols, ", "), strings.Join(whereParts, " OR "), orderMissing)
	args = append(args, max)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch name candidates: %w", err)
	}
	defer rows.Close()

	var out []NameCandidate
	for rows.Next() {
		var (
			idRaw   []byte
			name    sql.NullString
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
		if len(idRaw) != 16 {
			continue
		}
		var c NameCandidate
		copy(c.ID[:], idRaw)
		c.Name = name.String
		c.Source = source.String
		if checked.Valid {
			c.CheckedAt = parseSQLTime(checked.String)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ResolvedName is one successful lookup to write back.
type ResolvedName struct {
	ID   model.PlayerID
	Name string
}

// UpdateResolvedNames writes freshly confirmed names, tagging them as
// mojang-sourced and checked now where the columns exist.
func (db *DB) UpdateResolvedNames(runID int64, updates []ResolvedName, caps ProfileColumns) error {
	if len(updates) == 0 {
		return nil
	}

	set := "name = ?, name_lc = ?"
	if caps.HasSource {
		set += ", name_source = 'mojang'"
	}
	if caps.HasCheckedAt {
		set += ", name_checked_at = ?"
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(fmt.Sprintf(
		"UPDATE player_profile SET %s WHERE run_id = ? AND uuid = ?", set))
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := sqlTime(time.Now())
	for _, u := range updates {
		args := []any{u.Name, strings.ToLower(u.Name)}
		if caps.HasCheckedAt {
			args = append(args, now)
		}
		args = append(args, runID, u.ID[:])
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("update name %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

// MarkNamesChecked stamps name_checked_at for failed lookups so the
// same ids are not hammered every run. No-op without the column.
func (db *DB) MarkNamesChecked(runID int64, ids []model.PlayerID, caps ProfileColumns) error {
	if len(ids) == 0 || !caps.HasCheckedAt {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"UPDATE player_profile SET name_checked_at = ? WHERE run_id = ? AND uuid = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := sqlTime(time.Now())
	for _, id := range ids {
		if _, err := stmt.Exec(now, runID, id[:]); err != nil {
			return err
		}
	}
	return tx.Commit()
}
