// Package scheduler implements the admission policy of spec §4.9: a global
// cap on active tasks, a priority queue over queued tasks ordered by
// (priority desc, created_at asc), and per-task cancellation tokens for
// pause/cancel signals that never block on worker acknowledgment. Grounded
// on kmkrofficial-project-tachyon's internal/core/queue.go heap-backed
// DownloadQueue, generalized from a blocking Pop() to a non-blocking
// admission loop the engine facade drives on every slot-free/enqueue_queued/
// resume/add_task event.
package scheduler

import (
	"container/heap"
	"context"
	"sync"

	"github.com/muhammad1505/idm-open/internal/storage"
)

// Dispatcher runs one task's worker to completion (or until ctx is
// canceled). The scheduler calls it in its own goroutine and reclaims the
// task's slot when it returns, regardless of outcome.
type Dispatcher func(ctx context.Context, task *storage.Task)

// Scheduler admits queued tasks up to MaxActive concurrently and tracks a
// cancellation token for each currently active one.
type Scheduler struct {
	baseCtx   context.Context
	maxActive int
	dispatch  Dispatcher

	mu      sync.Mutex
	pending priorityQueue
	active  map[string]context.CancelFunc
	headSeq int64 // decrements below any real created_at for resume-to-head-of-band

	wg sync.WaitGroup // one Add per dispatched task, for Shutdown to drain on
}

// New builds a Scheduler with the given admission cap and worker dispatcher.
// maxActive <= 0 falls back to 3, the spec's default. baseCtx is the parent
// every admitted task's cancellation token derives from; it should outlive
// the scheduler itself (cancel it only via Shutdown, not independently).
func New(baseCtx context.Context, maxActive int, dispatch Dispatcher) *Scheduler {
	if maxActive <= 0 {
		maxActive = 3
	}
	s := &Scheduler{
		baseCtx:   baseCtx,
		maxActive: maxActive,
		dispatch:  dispatch,
		active:    make(map[string]context.CancelFunc),
	}
	heap.Init(&s.pending)
	return s
}

// Enqueue adds a newly created or retried task to the tail of its priority
// band, ranked by its created_at.
func (s *Scheduler) Enqueue(task *storage.Task) {
	s.mu.Lock()
	heap.Push(&s.pending, &item{task: task, rank: task.CreatedAt})
	s.mu.Unlock()
}

// Requeue re-enters a resumed task at the head of its priority band (spec
// §4.9 fairness rule), ahead of tasks that have been waiting in the same
// band since before it was paused.
func (s *Scheduler) Requeue(task *storage.Task) {
	s.mu.Lock()
	s.headSeq--
	heap.Push(&s.pending, &item{task: task, rank: s.headSeq})
	s.mu.Unlock()
}

// RemoveQueued drops a still-queued (not yet admitted) task from the
// pending heap, for cancel/remove before it ever ran. Reports whether it
// was found pending.
func (s *Scheduler) RemoveQueued(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.removeTask(taskID)
}

// ActiveCount returns the number of tasks currently dispatched.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// PendingCount returns the number of tasks waiting for a slot.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// AdmitAll admits queued tasks until MaxActive is reached or the queue
// drains, per enqueue_queued. Returns the number admitted.
func (s *Scheduler) AdmitAll() int {
	count := 0
	for {
		if _, ok := s.admitOne(); !ok {
			return count
		}
		count++
	}
}

// AdmitOne admits at most one queued task, per start_next. Returns the
// admitted task's id and true, or ("", false) if nothing was admitted.
func (s *Scheduler) AdmitOne() (string, bool) {
	return s.admitOne()
}

// admitOne pops the highest-ranked pending task if a slot is free and
// dispatches it, returning its id. Returns ("", false) if no slot was free
// or nothing was pending.
func (s *Scheduler) admitOne() (string, bool) {
	s.mu.Lock()
	if len(s.active) >= s.maxActive || s.pending.Len() == 0 {
		s.mu.Unlock()
		return "", false
	}
	it := heap.Pop(&s.pending).(*item)
	task := it.task

	taskCtx, cancel := context.WithCancel(s.baseCtx)
	s.active[task.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(taskCtx, task)
	return task.ID, true
}

func (s *Scheduler) run(ctx context.Context, task *storage.Task) {
	defer s.wg.Done()
	defer s.release(task.ID)
	s.dispatch(ctx, task)
}

// release frees task's slot and immediately tries to admit its replacement,
// per "admission runs whenever a slot frees".
func (s *Scheduler) release(taskID string) {
	s.mu.Lock()
	delete(s.active, taskID)
	s.mu.Unlock()
	s.admitOne()
}

// Signal delivers a cancellation signal to an active task's worker without
// waiting for it to acknowledge, per spec §4.9. Used by both pause and
// cancel: the worker itself decides (by observing ctx.Err()) whether that
// means persisting a paused state or an aborted one. Reports whether the
// task was actually active.
func (s *Scheduler) Signal(taskID string) bool {
	s.mu.Lock()
	cancel, ok := s.active[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Shutdown signals every active worker, drops anything still pending so it
// can't be newly admitted, and blocks until every dispatched worker has
// actually returned. Idempotent.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.pending = priorityQueue{}
	heap.Init(&s.pending)
	cancels := make([]context.CancelFunc, 0, len(s.active))
	for _, cancel := range s.active {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.wg.Wait()
}
