// Package storage is the SQLite persistence layer of the importer:
// run bookkeeping, player profiles, compressed stat snapshots,
// materialized metric values, and the advisory run lock.
package storage

import (
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"fmt"
	"regexp"
	"sync"

	"modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

var registerOnce sync.Once

// DB wraps a sql.DB for the leaderboard store.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database at the given path and
// applies the schema. The pool is pinned to a single connection: SQLite
// allows one writer anyway, and it keeps the seen-set temp table on the
// connection that created it.
func Open(path string) (*DB, error) {
	registerOnce.Do(registerRegexp)

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// registerRegexp adds a deterministic REGEXP function so queries can
// apply the placeholder-name pattern server-side.
func registerRegexp() {
	sqlite.MustRegisterDeterministicScalarFunction("regexp", 2,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			pattern, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("regexp: pattern is not text")
			}
			s, ok := args[1].(string)
			if !ok {
				// NULL or non-text never matches.
				return int64(0), nil
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("regexp: %w", err)
			}
			if re.MatchString(s) {
				return int64(1), nil
			}
			return int64(0), nil
		})
}

// QueryRaw runs an arbitrary query and returns column names plus rows
// rendered as strings, for the sql command.
func (db *DB) QueryRaw(query string) ([]string, [][]string, error) {
	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]string
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		rendered := make([]string, len(cols))
		for i, v := range raw {
			switch t := v.(type) {
			case nil:
				rendered[i] = "NULL"
			case []byte:
				rendered[i] = fmt.Sprintf("x'%x'", t)
			default:
				rendered[i] = fmt.Sprintf("%v", t)
			}
		}
		out = append(out, rendered)
	}
	return cols, out, rows.Err()
}
