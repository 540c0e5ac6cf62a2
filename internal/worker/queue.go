package worker

import (
	"sync"

	"github.com/muhammad1505/idm-open/internal/storage"
)

// segQueue is a blocking work queue of pending segments shared by a task's
// fetcher goroutines, generalized from the teacher's map+slice DownloadQueue
// (internal/downloader/queue.go) into a condition-variable-backed queue of
// storage.Segment. outstanding tracks segments not yet finally resolved
// (done or permanently failed); the queue closes itself once it reaches
// zero so idle fetchers return instead of blocking forever.
type segQueue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	items       []storage.Segment
	closed      bool
	outstanding int
}

func newSegQueue(segs []storage.Segment) *segQueue {
	q := &segQueue{
		items:       append([]storage.Segment(nil), segs...),
		outstanding: len(segs),
	}
	q.cond = sync.NewCond(&q.mu)
	if q.outstanding == 0 {
		q.closed = true
	}
	return q
}

// push adds a segment to the queue without changing the outstanding count;
// callers that introduce new work (a split's children) must adjust
// outstanding themselves via addOutstanding first.
func (q *segQueue) push(seg storage.Segment) {
	q.mu.Lock()
	q.items = append(q.items, seg)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// addOutstanding adjusts the outstanding counter by delta, closing the
// queue once it reaches zero.
func (q *segQueue) addOutstanding(delta int) {
	q.mu.Lock()
	q.outstanding += delta
	if q.outstanding <= 0 {
		q.closed = true
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

// resolve marks one segment as finally handled (success or permanent
// failure), decrementing outstanding and closing the queue if that was the
// last one.
func (q *segQueue) resolve() { q.addOutstanding(-1) }

// pending reports how many segments are sitting in the queue waiting for a
// fetcher, used by the balancer to decide whether stealing would actually
// help (no point handing an idle worker more work if the queue isn't empty).
func (q *segQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pop blocks until a segment is available or the queue is closed and
// drained, matching the teacher's TaskQueue.Pop/Push blocking idiom.
func (q *segQueue) pop() (storage.Segment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return storage.Segment{}, false
		}
		q.cond.Wait()
	}
	seg := q.items[0]
	q.items = q.items[1:]
	return seg, true
}
