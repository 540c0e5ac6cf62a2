package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/muhammad1505/idm-open/internal/config"
	"github.com/muhammad1505/idm-open/internal/storage"
	"github.com/muhammad1505/idm-open/internal/testutil"
)

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	s := config.DefaultSettings()
	s.DBPath = filepath.Join(t.TempDir(), "idm.db")
	s.DownloadDir = t.TempDir()
	s.MaxActiveTasks = 2
	s.Performance.MaxAttemptsPerSegment = 2
	s.Performance.RetryBaseDelay = time.Millisecond
	s.Performance.RetryMaxDelay = 5 * time.Millisecond
	s.Performance.CommitInterval = 10 * time.Millisecond
	s.Performance.ShutdownGrace = 2 * time.Second
	return s
}

func waitForStatus(t *testing.T, e *Engine, id string, want storage.Status, timeout time.Duration) *TaskDetail {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last *TaskDetail
	for time.Now().Before(deadline) {
		d, err := e.GetTask(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, d)
		last = d
		if storage.Status(d.Status) == want {
			return d
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s, last seen %+v", id, want, last)
	return nil
}

func TestAddTaskRejectsMalformedURL(t *testing.T) {
	e, err := New(testSettings(t))
	require.NoError(t, err)
	defer e.Shutdown()

	_, err = e.AddTask(context.Background(), "not a url", "", AddTaskOptions{})
	require.Error(t, err)

	_, err = e.AddTask(context.Background(), "ftp://example.com/file", "", AddTaskOptions{})
	require.Error(t, err)
}

func TestAddTaskRejectsUnsupportedChecksum(t *testing.T) {
	e, err := New(testSettings(t))
	require.NoError(t, err)
	defer e.Shutdown()

	srv := testutil.NewMockServerT(t, testutil.WithFileSize(1024))
	defer srv.Server.Close()

	_, err = e.AddTask(context.Background(), srv.Server.URL+"/f.bin", "", AddTaskOptions{ChecksumAlg: "crc32"})
	require.Error(t, err)
}

func TestEngineDownloadsToCompletion(t *testing.T) {
	e, err := New(testSettings(t))
	require.NoError(t, err)
	defer e.Shutdown()

	srv := testutil.NewMockServerT(t,
		testutil.WithFileSize(256*1024),
		testutil.WithFilename("payload.bin"),
		testutil.WithRangeSupport(true),
	)
	defer srv.Server.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	id, err := e.AddTask(context.Background(), srv.Server.URL+"/f.bin", dest, AddTaskOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	d := waitForStatus(t, e, id, storage.StatusCompleted, 5*time.Second)
	require.Equal(t, int64(256*1024), d.TotalBytes)
	require.Equal(t, int64(256*1024), d.DownloadedBytes)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	require.Equal(t, int64(256*1024), info.Size())
}

func TestEngineEnforcesMaxActiveTasks(t *testing.T) {
	settings := testSettings(t)
	settings.MaxActiveTasks = 1
	e, err := New(settings)
	require.NoError(t, err)
	defer e.Shutdown()

	srv := testutil.NewMockServerT(t,
		testutil.WithFileSize(512*1024),
		testutil.WithByteLatency(1*time.Microsecond),
		testutil.WithRangeSupport(true),
	)
	defer srv.Server.Close()

	id1, err := e.AddTask(context.Background(), srv.Server.URL+"/a.bin", filepath.Join(t.TempDir(), "a.bin"), AddTaskOptions{})
	require.NoError(t, err)
	id2, err := e.AddTask(context.Background(), srv.Server.URL+"/b.bin", filepath.Join(t.TempDir(), "b.bin"), AddTaskOptions{})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	d1, err := e.GetTask(context.Background(), id1)
	require.NoError(t, err)
	d2, err := e.GetTask(context.Background(), id2)
	require.NoError(t, err)
	// Exactly one of the two should have been admitted past "queued" while
	// the cap holds the other back.
	exactlyOneAdmitted := (storage.Status(d1.Status) != storage.StatusQueued) != (storage.Status(d2.Status) != storage.StatusQueued)
	require.True(t, exactlyOneAdmitted)

	waitForStatus(t, e, id1, storage.StatusCompleted, 5*time.Second)
	waitForStatus(t, e, id2, storage.StatusCompleted, 5*time.Second)
}

func TestEnginePauseThenResume(t *testing.T) {
	e, err := New(testSettings(t))
	require.NoError(t, err)
	defer e.Shutdown()

	srv := testutil.NewMockServerT(t,
		testutil.WithFileSize(2*1024*1024),
		testutil.WithByteLatency(1*time.Microsecond),
		testutil.WithRangeSupport(true),
	)
	defer srv.Server.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	id, err := e.AddTask(context.Background(), srv.Server.URL+"/f.bin", dest, AddTaskOptions{})
	require.NoError(t, err)

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, e.Pause(context.Background(), id))

	d := waitForStatus(t, e, id, storage.StatusPaused, 2*time.Second)
	require.Less(t, d.DownloadedBytes, int64(2*1024*1024))

	require.NoError(t, e.Resume(context.Background(), id))
	waitForStatus(t, e, id, storage.StatusCompleted, 5*time.Second)
}

func TestEngineCancelIsTerminalNotPaused(t *testing.T) {
	e, err := New(testSettings(t))
	require.NoError(t, err)
	defer e.Shutdown()

	srv := testutil.NewMockServerT(t,
		testutil.WithFileSize(2*1024*1024),
		testutil.WithByteLatency(20*time.Microsecond),
		testutil.WithRangeSupport(true),
	)
	defer srv.Server.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	id, err := e.AddTask(context.Background(), srv.Server.URL+"/f.bin", dest, AddTaskOptions{})
	require.NoError(t, err)

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, e.Cancel(context.Background(), id))

	waitForStatus(t, e, id, storage.StatusCanceled, 2*time.Second)

	err = e.Resume(context.Background(), id)
	require.Error(t, err, "a canceled task should not be resumable")
}

func TestEngineRemoveDeletesTaskRow(t *testing.T) {
	e, err := New(testSettings(t))
	require.NoError(t, err)
	defer e.Shutdown()

	srv := testutil.NewMockServerT(t, testutil.WithFileSize(4096), testutil.WithRangeSupport(true))
	defer srv.Server.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	id, err := e.AddTask(context.Background(), srv.Server.URL+"/f.bin", dest, AddTaskOptions{})
	require.NoError(t, err)

	waitForStatus(t, e, id, storage.StatusCompleted, 5*time.Second)
	require.NoError(t, e.Remove(context.Background(), id))

	d, err := e.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.Nil(t, d)
}

func TestEngineAddTaskWithDirDestResolvesFilename(t *testing.T) {
	e, err := New(testSettings(t))
	require.NoError(t, err)
	defer e.Shutdown()

	srv := testutil.NewMockServerT(t,
		testutil.WithFileSize(4096),
		testutil.WithFilename("resolved-name.bin"),
		testutil.WithRangeSupport(true),
	)
	defer srv.Server.Close()

	dir := t.TempDir()
	id, err := e.AddTask(context.Background(), srv.Server.URL+"/f.bin", dir, AddTaskOptions{})
	require.NoError(t, err)

	d := waitForStatus(t, e, id, storage.StatusCompleted, 5*time.Second)
	require.Equal(t, dir, filepath.Dir(d.DestPath))
	require.FileExists(t, d.DestPath)
}

func TestEngineReloadsQueuedTasksOnRestart(t *testing.T) {
	settings := testSettings(t)
	settings.MaxActiveTasks = 1

	e1, err := New(settings)
	require.NoError(t, err)

	srv := testutil.NewMockServerT(t,
		testutil.WithFileSize(4096),
		testutil.WithRangeSupport(true),
	)
	defer srv.Server.Close()

	// Fill the one active slot with a slow task so the second stays queued.
	blockSrv := testutil.NewMockServerT(t,
		testutil.WithFileSize(4*1024*1024),
		testutil.WithByteLatency(50*time.Microsecond),
		testutil.WithRangeSupport(true),
	)
	defer blockSrv.Server.Close()

	_, err = e1.AddTask(context.Background(), blockSrv.Server.URL+"/slow.bin", filepath.Join(t.TempDir(), "slow.bin"), AddTaskOptions{})
	require.NoError(t, err)

	queuedID, err := e1.AddTask(context.Background(), srv.Server.URL+"/fast.bin", filepath.Join(t.TempDir(), "fast.bin"), AddTaskOptions{})
	require.NoError(t, err)

	d, err := e1.GetTask(context.Background(), queuedID)
	require.NoError(t, err)
	require.Equal(t, string(storage.StatusQueued), d.Status)

	// Simulate a restart: a new Engine over the same store must pick the
	// still-queued task back up into its in-memory scheduler.
	e1.sched.Shutdown()
	require.NoError(t, e1.store.Close())

	e2, err := New(settings)
	require.NoError(t, err)
	defer e2.Shutdown()

	e2.EnqueueQueued()
	waitForStatus(t, e2, queuedID, storage.StatusCompleted, 5*time.Second)
}
