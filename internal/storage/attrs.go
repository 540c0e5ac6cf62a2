// Attribute tables: headers, cookies and mirrors attached to a task, all
// written once at add_task time (via InsertTask) and read back by the
// worker when it builds a request for that task.
package storage

import (
	"context"

	"github.com/muhammad1505/idm-open/internal/idmerrors"
)

// ListHeaders returns a task's headers.
func (s *Store) ListHeaders(ctx context.Context, taskID string) ([]Header, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, name, value FROM headers WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, idmerrors.Storage("listing headers", err)
	}
	defer rows.Close()

	var out []Header
	for rows.Next() {
		var h Header
		if err := rows.Scan(&h.ID, &h.TaskID, &h.Name, &h.Value); err != nil {
			return nil, idmerrors.Storage("scanning header row", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListCookies returns a task's cookies.
func (s *Store) ListCookies(ctx context.Context, taskID string) ([]Cookie, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, name, value, domain, path FROM cookies WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, idmerrors.Storage("listing cookies", err)
	}
	defer rows.Close()

	var out []Cookie
	for rows.Next() {
		var c Cookie
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Name, &c.Value, &c.Domain, &c.Path); err != nil {
			return nil, idmerrors.Storage("scanning cookie row", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListMirrors returns a task's mirrors ordered by rank ascending (lower rank
// tried first).
func (s *Store) ListMirrors(ctx context.Context, taskID string) ([]Mirror, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, url, rank FROM mirrors WHERE task_id = ? ORDER BY rank ASC`, taskID)
	if err != nil {
		return nil, idmerrors.Storage("listing mirrors", err)
	}
	defer rows.Close()

	var out []Mirror
	for rows.Next() {
		var m Mirror
		if err := rows.Scan(&m.ID, &m.TaskID, &m.URL, &m.Rank); err != nil {
			return nil, idmerrors.Storage("scanning mirror row", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListEvents returns a task's events in chronological order, for external
// collaborators that poll the audit trail instead of list_tasks/get_task.
func (s *Store) ListEvents(ctx context.Context, taskID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, event_type, payload, created_at FROM events WHERE task_id = ? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, idmerrors.Storage("listing events", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Kind, &e.Payload, &e.CreatedAt); err != nil {
			return nil, idmerrors.Storage("scanning event row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
