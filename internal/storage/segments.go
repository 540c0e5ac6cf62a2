package storage

import (
	"context"
	"database/sql"

	"github.com/muhammad1505/idm-open/internal/idmerrors"
)

// InsertSegments records a task's segment layout, per spec §4.4 "the layout
// is recorded once per task". Any existing segments for the task are
// replaced first, which is also how an explicit restart rebuilds the plan.
func (s *Store) InsertSegments(ctx context.Context, taskID string, segs []Segment) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE task_id = ?`, taskID); err != nil {
			return idmerrors.Storage("clearing previous segments", err)
		}
		for _, seg := range segs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO segments (task_id, segment_index, range_start, range_end, downloaded_bytes, status)
				VALUES (?, ?, ?, ?, ?, ?)`,
				taskID, seg.SegmentIndex, seg.RangeStart, seg.RangeEnd, seg.DownloadedBytes, seg.Status,
			); err != nil {
				return idmerrors.Storage("inserting segment", err)
			}
		}
		return nil
	})
}

// ListSegments returns a task's segments ordered by index.
func (s *Store) ListSegments(ctx context.Context, taskID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, segment_index, range_start, range_end, downloaded_bytes, status
		FROM segments WHERE task_id = ? ORDER BY segment_index ASC`, taskID)
	if err != nil {
		return nil, idmerrors.Storage("listing segments", err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.ID, &seg.TaskID, &seg.SegmentIndex, &seg.RangeStart, &seg.RangeEnd, &seg.DownloadedBytes, &seg.Status); err != nil {
			return nil, idmerrors.Storage("scanning segment row", err)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}
