package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// lockPollInterval is how often acquisition retries while waiting.
const lockPollInterval = 250 * time.Millisecond

// Lock is a held advisory run lock.
type Lock struct {
	db    *DB
	name  string
	owner string
}

// AcquireLock takes the named advisory lock, waiting up to timeout.
// Returns (nil, nil) when the lock is held by someone else at the
// deadline; the caller decides how to surface that. A lock row older
// than stale is treated as abandoned by a crashed holder and taken
// over.
//
// Unlike a server-side GET_LOCK this survives process death as a table
// row, hence the staleness window.
func (db *DB) AcquireLock(ctx context.Context, name string, timeout, stale time.Duration) (*Lock, error) {
	host, _ := os.Hostname()
	owner := fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
	deadline := time.Now().Add(timeout)

	for {
		ok, err := db.tryLock(name, owner, stale)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lock{db: db, name: name, owner: owner}, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (db *DB) tryLock(name, owner string, stale time.Duration) (bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var curOwner string
	var acquiredAt int64
	err = tx.QueryRow("SELECT owner, acquired_at FROM run_lock WHERE name = ?", name).
		Scan(&curOwner, &acquiredAt)
	switch {
	case err == sql.ErrNoRows:
		// Free; claim it.
	case err != nil:
		return false, fmt.Errorf("read run_lock: %w", err)
	default:
		if stale <= 0 || time.Since(time.Unix(acquiredAt, 0)) < stale {
			return false, nil
		}
		// Abandoned by a dead holder; steal it below.
		if _, err := tx.Exec("DELETE FROM run_lock WHERE name = ? AND owner = ?", name, curOwner); err != nil {
			return false, err
		}
	}

	_, err = tx.Exec(
		"INSERT INTO run_lock (name, owner, acquired_at) VALUES (?, ?, ?)",
		name, owner, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("claim run_lock: %w", err)
	}
	return true, tx.Commit()
}

// Release drops the lock if this holder still owns it.
func (l *Lock) Release() error {
	_, err := l.db.conn.Exec(
		"DELETE FROM run_lock WHERE name = ? AND owner = ?", l.name, l.owner)
	return err
}
