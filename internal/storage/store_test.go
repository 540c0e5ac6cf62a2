package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "idm.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndGetTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &Task{ID: "t1", URL: "http://example.com/file.bin", DestPath: "/tmp/file.bin", Status: StatusQueued}
	headers := []Header{{Name: "X-Test", Value: "1"}}
	mirrors := []Mirror{{URL: "http://mirror.example.com/file.bin", Rank: 1}}

	require.NoError(t, s.InsertTask(ctx, task, headers, nil, mirrors))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "http://example.com/file.bin", got.URL)
	require.Equal(t, StatusQueued, got.Status)

	hs, err := s.ListHeaders(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, hs, 1)

	ms, err := s.ListMirrors(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, ms, 1)
	require.Equal(t, 1, ms[0].Rank)

	events, err := s.ListEvents(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventCreated, events[0].Kind)
}

func TestGetTaskMissing(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetTask(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCommitProgressAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &Task{ID: "t1", URL: "http://example.com/file.bin", DestPath: "/tmp/file.bin", Status: StatusActive, TotalBytes: 100}
	require.NoError(t, s.InsertTask(ctx, task, nil, nil, nil))
	require.NoError(t, s.InsertSegments(ctx, "t1", []Segment{
		{SegmentIndex: 0, RangeStart: 0, RangeEnd: 49, Status: SegmentActive},
		{SegmentIndex: 1, RangeStart: 50, RangeEnd: 99, Status: SegmentActive},
	}))

	require.NoError(t, s.CommitProgress(ctx, "t1", 80, []Segment{
		{SegmentIndex: 0, DownloadedBytes: 50, Status: SegmentDone},
		{SegmentIndex: 1, DownloadedBytes: 30, Status: SegmentActive},
	}))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, int64(80), got.DownloadedBytes)

	segs, err := s.ListSegments(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.Equal(t, int64(50), segs[0].DownloadedBytes)
	require.Equal(t, SegmentDone, segs[0].Status)
	require.Equal(t, int64(30), segs[1].DownloadedBytes)
}

func TestRemoveTaskLeavesNoRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &Task{ID: "t1", URL: "http://example.com/file.bin", DestPath: "/tmp/file.bin", Status: StatusQueued}
	require.NoError(t, s.InsertTask(ctx, task, []Header{{Name: "A", Value: "b"}}, nil, []Mirror{{URL: "http://m", Rank: 1}}))
	require.NoError(t, s.InsertSegments(ctx, "t1", []Segment{{SegmentIndex: 0, RangeStart: 0, RangeEnd: 9, Status: SegmentPending}}))

	require.NoError(t, s.RemoveTask(ctx, "t1"))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Nil(t, got)

	segs, err := s.ListSegments(ctx, "t1")
	require.NoError(t, err)
	require.Empty(t, segs)

	hs, err := s.ListHeaders(ctx, "t1")
	require.NoError(t, err)
	require.Empty(t, hs)

	events, err := s.ListEvents(ctx, "t1")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestRecoverActiveTasksDemotedToPaused(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "idm.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	ctx := context.Background()

	task := &Task{ID: "t1", URL: "http://example.com/file.bin", DestPath: "/tmp/file.bin", Status: StatusQueued}
	require.NoError(t, s.InsertTask(ctx, task, nil, nil, nil))
	require.NoError(t, s.SetStatus(ctx, "t1", StatusActive, EventStarted, ""))
	require.NoError(t, s.Close())

	s2, err := Open(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, StatusPaused, got.Status)

	events, err := s2.ListEvents(ctx, "t1")
	require.NoError(t, err)
	require.True(t, len(events) >= 2)
	last := events[len(events)-1]
	require.Equal(t, EventPaused, last.Kind)
	require.Equal(t, "interrupted", last.Payload)
}

func TestSecondOpenFailsWhileLocked(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "idm.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = Open(dbPath)
	require.Error(t, err)
}
