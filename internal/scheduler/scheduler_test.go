package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/muhammad1505/idm-open/internal/storage"
)

func blockingDispatcher(started chan string) (Dispatcher, chan struct{}) {
	release := make(chan struct{})
	return func(ctx context.Context, task *storage.Task) {
		started <- task.ID
		select {
		case <-release:
		case <-ctx.Done():
		}
	}, release
}

func TestAdmitAllRespectsMaxActive(t *testing.T) {
	started := make(chan string, 10)
	dispatch, release := blockingDispatcher(started)
	defer close(release)

	s := New(context.Background(), 2, dispatch)
	for i := 0; i < 5; i++ {
		s.Enqueue(&storage.Task{ID: string(rune('a' + i)), Priority: 0, CreatedAt: int64(i)})
	}

	admitted := s.AdmitAll()
	require.Equal(t, 2, admitted)

	<-started
	<-started
	require.Equal(t, 2, s.ActiveCount())
	require.Equal(t, 3, s.PendingCount())
}

func TestAdmissionOrdersByPriorityThenCreatedAt(t *testing.T) {
	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 10)

	dispatch := func(ctx context.Context, task *storage.Task) {
		mu.Lock()
		order = append(order, task.ID)
		mu.Unlock()
		done <- struct{}{}
	}

	s := New(context.Background(), 1, dispatch)
	// Lower priority, enqueued first.
	s.Enqueue(&storage.Task{ID: "low", Priority: 0, CreatedAt: 1})
	// Higher priority, enqueued after: should still run first.
	s.Enqueue(&storage.Task{ID: "high", Priority: 5, CreatedAt: 2})
	// Same priority as "low" above but created later: should run after it.
	s.Enqueue(&storage.Task{ID: "low2", Priority: 0, CreatedAt: 3})

	// Admit the first; each finished task frees the slot and release admits
	// the next pending one on its own.
	_, ok := s.AdmitOne()
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"high", "low", "low2"}, order)
}

func TestRequeuePutsResumedTaskAtHeadOfBand(t *testing.T) {
	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 10)

	dispatch := func(ctx context.Context, task *storage.Task) {
		mu.Lock()
		order = append(order, task.ID)
		mu.Unlock()
		done <- struct{}{}
	}

	s := New(context.Background(), 1, dispatch)
	s.Enqueue(&storage.Task{ID: "first", Priority: 0, CreatedAt: 1})
	s.Enqueue(&storage.Task{ID: "second", Priority: 0, CreatedAt: 2})
	// A resumed task with an old created_at should still cut to the head.
	s.Requeue(&storage.Task{ID: "resumed", Priority: 0, CreatedAt: 0})

	// Admit the first; release admits each following one as a slot frees.
	_, ok := s.AdmitOne()
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"resumed", "first", "second"}, order)
}

func TestSignalCancelsActiveWorkerAndFreesSlot(t *testing.T) {
	entered := make(chan string, 10)
	canceled := make(chan struct{}, 10)

	dispatch := func(ctx context.Context, task *storage.Task) {
		entered <- task.ID
		<-ctx.Done()
		canceled <- struct{}{}
	}

	s := New(context.Background(), 1, dispatch)
	s.Enqueue(&storage.Task{ID: "t1", Priority: 0, CreatedAt: 1})
	s.Enqueue(&storage.Task{ID: "t2", Priority: 0, CreatedAt: 2})

	require.Equal(t, 1, s.AdmitAll())
	id := <-entered
	require.Equal(t, "t1", id)

	require.True(t, s.Signal("t1"))
	<-canceled

	// Freeing t1's slot should have pulled t2 in automatically via release.
	id2 := <-entered
	require.Equal(t, "t2", id2)
	require.True(t, s.Signal("t2"))
	<-canceled

	require.False(t, s.Signal("nonexistent"))
}

func TestShutdownWaitsForActiveWorkers(t *testing.T) {
	entered := make(chan struct{})
	finished := make(chan struct{})

	dispatch := func(ctx context.Context, task *storage.Task) {
		close(entered)
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		close(finished)
	}

	s := New(context.Background(), 1, dispatch)
	s.Enqueue(&storage.Task{ID: "t1", Priority: 0, CreatedAt: 1})
	require.Equal(t, 1, s.AdmitAll())
	<-entered

	s.Shutdown()

	select {
	case <-finished:
	default:
		t.Fatal("Shutdown returned before the active worker finished")
	}
	require.Equal(t, 0, s.ActiveCount())
	require.Equal(t, 0, s.PendingCount())
}
