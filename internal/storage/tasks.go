package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/muhammad1505/idm-open/internal/idmerrors"
)

// InsertTask persists a new task in its given status (queued when unset) along with its headers,
// cookies and mirrors, all in one transaction, and records a "created"
// event.
func (s *Store) InsertTask(ctx context.Context, t *Task, headers []Header, cookies []Cookie, mirrors []Mirror) error {
	now := time.Now().Unix()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusQueued
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (
				id, url, dest_path, status, priority, total_bytes, downloaded_bytes,
				created_at, updated_at, error, checksum_type, checksum_hex,
				proxy_url, auth_user, auth_pass, speed_cap_bps
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.URL, t.DestPath, t.Status, t.Priority, t.TotalBytes, t.DownloadedBytes,
			t.CreatedAt, t.UpdatedAt, t.Error, t.ChecksumType, t.ChecksumHex,
			t.ProxyURL, t.AuthUser, t.AuthPass, t.SpeedCapBPS,
		)
		if err != nil {
			return idmerrors.Storage("inserting task", err)
		}

		for _, h := range headers {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO headers (task_id, name, value) VALUES (?, ?, ?)`,
				t.ID, h.Name, h.Value,
			); err != nil {
				return idmerrors.Storage("inserting header", err)
			}
		}
		for _, c := range cookies {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO cookies (task_id, name, value, domain, path) VALUES (?, ?, ?, ?, ?)`,
				t.ID, c.Name, c.Value, c.Domain, c.Path,
			); err != nil {
				return idmerrors.Storage("inserting cookie", err)
			}
		}
		for _, m := range mirrors {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO mirrors (task_id, url, rank) VALUES (?, ?, ?)`,
				t.ID, m.URL, m.Rank,
			); err != nil {
				return idmerrors.Storage("inserting mirror", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (task_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
			t.ID, EventCreated, "", now,
		); err != nil {
			return idmerrors.Storage("recording created event", err)
		}
		return nil
	})
}

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	if err := row.Scan(
		&t.ID, &t.URL, &t.DestPath, &t.Status, &t.Priority, &t.TotalBytes, &t.DownloadedBytes,
		&t.CreatedAt, &t.UpdatedAt, &t.Error, &t.ChecksumType, &t.ChecksumHex,
		&t.ProxyURL, &t.AuthUser, &t.AuthPass, &t.SpeedCapBPS,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

const taskColumns = `id, url, dest_path, status, priority, total_bytes, downloaded_bytes,
	created_at, updated_at, error, checksum_type, checksum_hex, proxy_url, auth_user, auth_pass,
	speed_cap_bps`

// GetTask loads a single task by id, or (nil, nil) if it does not exist.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, idmerrors.Storage("loading task", err)
	}
	return t, nil
}

// ListTasks returns every task, ordered by (priority desc, created_at asc)
// per the scheduler's admission order.
func (s *Store) ListTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY priority DESC, created_at ASC`)
	if err != nil {
		return nil, idmerrors.Storage("listing tasks", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, idmerrors.Storage("scanning task row", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, idmerrors.Storage("iterating tasks", err)
	}
	return out, nil
}

// ListQueuedTasks returns tasks in `queued` status in scheduler admission
// order.
func (s *Store) ListQueuedTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY priority DESC, created_at ASC`,
		StatusQueued,
	)
	if err != nil {
		return nil, idmerrors.Storage("listing queued tasks", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, idmerrors.Storage("scanning queued task row", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountActive returns the number of tasks currently in `active` status.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status = ?`, StatusActive).Scan(&n)
	if err != nil {
		return 0, idmerrors.Storage("counting active tasks", err)
	}
	return n, nil
}

// SetStatus transitions a task's status, records the matching event, and
// optionally sets the error field (pass "" to clear it).
func (s *Store) SetStatus(ctx context.Context, id string, status Status, kind EventKind, errMsg string) error {
	lock := s.taskLock(id)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().Unix()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
			status, errMsg, now, id,
		)
		if err != nil {
			return idmerrors.Storage("updating task status", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return idmerrors.InvalidInput("task not found: "+id, nil)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (task_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
			id, kind, errMsg, now,
		); err != nil {
			return idmerrors.Storage("recording status event", err)
		}
		return nil
	})
}

// SetTotalBytes records the probed size of a task's resource.
func (s *Store) SetTotalBytes(ctx context.Context, id string, total int64) error {
	lock := s.taskLock(id)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET total_bytes = ?, updated_at = ? WHERE id = ?`,
		total, time.Now().Unix(), id,
	)
	if err != nil {
		return idmerrors.Storage("recording total bytes", err)
	}
	return nil
}

// SetDestPath finalizes a task's destination path after resolution fills in
// a filename the caller didn't supply.
func (s *Store) SetDestPath(ctx context.Context, id, destPath string) error {
	lock := s.taskLock(id)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET dest_path = ?, updated_at = ? WHERE id = ?`,
		destPath, time.Now().Unix(), id,
	)
	if err != nil {
		return idmerrors.Storage("recording destination path", err)
	}
	return nil
}

// SetSpeedCap updates a task's per-task throttle cap (0 = unlimited).
func (s *Store) SetSpeedCap(ctx context.Context, id string, bytesPerSec int) error {
	lock := s.taskLock(id)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET speed_cap_bps = ?, updated_at = ? WHERE id = ?`,
		bytesPerSec, time.Now().Unix(), id,
	)
	if err != nil {
		return idmerrors.Storage("recording speed cap", err)
	}
	return nil
}

// CommitProgress atomically updates a task's downloaded_bytes and the
// downloaded_bytes of each of its segments in one transaction, per spec
// §4.2 "Atomic progress commits" — a crash mid-commit yields either both old
// values or both new. Serialized per task via taskLock so only one commit
// for a given task is ever in flight.
func (s *Store) CommitProgress(ctx context.Context, taskID string, totalDownloaded int64, segments []Segment) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().Unix()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET downloaded_bytes = ?, updated_at = ? WHERE id = ?`,
			totalDownloaded, now, taskID,
		); err != nil {
			return idmerrors.Storage("committing task progress", err)
		}
		for _, seg := range segments {
			if _, err := tx.ExecContext(ctx,
				`UPDATE segments SET downloaded_bytes = ?, status = ? WHERE task_id = ? AND segment_index = ?`,
				seg.DownloadedBytes, seg.Status, taskID, seg.SegmentIndex,
			); err != nil {
				return idmerrors.Storage("committing segment progress", err)
			}
		}
		return nil
	})
}

// RemoveTask deletes a task and all rows owned by it (segments, headers,
// cookies, mirrors cascade via foreign keys; events are deleted explicitly
// since they have no foreign key by design — the core never reads them back
// but a removed task should leave no rows in any table, per the round-trip
// invariant in spec §8).
func (s *Store) RemoveTask(ctx context.Context, id string) error {
	lock := s.taskLock(id)
	lock.Lock()
	defer lock.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE task_id = ?`, id); err != nil {
			return idmerrors.Storage("deleting task events", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return idmerrors.Storage("deleting task", err)
		}
		return nil
	})
}

// RecordEvent appends an audit record. The core never reads events back;
// they exist purely for external observation (spec §3 "Event").
func (s *Store) RecordEvent(ctx context.Context, taskID string, kind EventKind, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (task_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		taskID, kind, payload, time.Now().Unix(),
	)
	if err != nil {
		return idmerrors.Storage("recording event", err)
	}
	return nil
}
