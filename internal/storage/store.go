// Package storage is the engine's durable persistence layer: tasks,
// segments, headers, cookies, mirrors and events on top of modernc.org/sqlite
// (pure Go, no cgo — the teacher's own driver choice, left unused in the
// copied tree and given its intended home here). Grounded on the sibling
// fork's internal/engine/state package (Configure/GetDB/CloseDB singleton,
// withTx helper, schema-migration-on-open idiom).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/muhammad1505/idm-open/internal/idmerrors"
	"github.com/muhammad1505/idm-open/internal/logging"
)

// Store owns the single database connection pool for the engine. Per spec
// §3 "Ownership", it is the exclusive owner of the connection pool; task
// workers serialize their own progress commits through taskLocks so that a
// single writer handles each task's mutations at a time. Unrelated tasks do
// not wait on each other's task lock, but the pool holds one connection, so
// their statements still take turns on it.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	path string

	mu        sync.Mutex
	taskLocks map[string]*sync.Mutex
}

// Open creates (or migrates) the database at path and takes an advisory
// exclusive lock on it for the process lifetime, so two engine instances
// against the same database fail fast instead of corrupting state (spec §9
// "Global state: multiple instances against the same database are
// unsupported" — enforced here rather than left as a documented limitation).
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, idmerrors.InvalidInput("empty database path", nil)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, idmerrors.Storage("creating database directory", err)
		}
	}

	lockPath := path + ".lock"
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, idmerrors.Storage("acquiring database lock", err)
	}
	if !locked {
		return nil, idmerrors.Storage(fmt.Sprintf("database %s is already in use by another instance", path), nil)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		_ = fl.Unlock()
		return nil, idmerrors.Storage("opening database", err)
	}
	// A single *sql.DB connection serializes every statement, reads included;
	// WAL mode below is the crash-tolerant journal.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		_ = fl.Unlock()
		return nil, idmerrors.Storage("enabling WAL journaling", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		_ = db.Close()
		_ = fl.Unlock()
		return nil, idmerrors.Storage("enabling foreign keys", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		_ = fl.Unlock()
		return nil, idmerrors.Storage("applying schema", err)
	}

	s := &Store{
		db:        db,
		lock:      fl,
		path:      path,
		taskLocks: make(map[string]*sync.Mutex),
	}

	if err := s.recoverActiveTasks(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the database and its advisory lock. Idempotent.
func (s *Store) Close() error {
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	return err
}

// taskLock returns the per-task mutex serializing writes for id, creating it
// on first use. The map itself is protected separately from the per-task
// locks it hands out.
func (s *Store) taskLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.taskLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.taskLocks[id] = l
	}
	return l
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return idmerrors.Storage("beginning transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return idmerrors.Storage("committing transaction", err)
	}
	return nil
}

// recoverActiveTasks demotes every task left in `active` state to `paused`
// on startup, per spec §4.2 "Crash recovery": transfers were interrupted by
// whatever stopped the previous process, so they cannot still be active.
// Segment progress is left untouched; a synthetic "interrupted" event is
// recorded for each demoted task.
func (s *Store) recoverActiveTasks() error {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tasks WHERE status = ?`, StatusActive)
	if err != nil {
		return idmerrors.Storage("scanning active tasks for recovery", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return idmerrors.Storage("scanning active task row", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return idmerrors.Storage("iterating active tasks", err)
	}

	now := time.Now().Unix()
	for _, id := range ids {
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.Exec(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, StatusPaused, now, id); err != nil {
				return idmerrors.Storage("demoting interrupted task", err)
			}
			if _, err := tx.Exec(
				`INSERT INTO events (task_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
				id, EventPaused, "interrupted", now,
			); err != nil {
				return idmerrors.Storage("recording interrupted event", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		logging.Info("recovered task %s from active to paused after restart", id)
	}
	return nil
}
