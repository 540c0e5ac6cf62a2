package scheduler

import (
	"container/heap"

	"github.com/muhammad1505/idm-open/internal/storage"
)

// item wraps a queued task with the rank it is ordered by, adapted from
// project-tachyon's heap.Interface Item/PriorityQueue pair
// (internal/core/queue.go) to the engine's (priority desc, rank asc)
// ordering, where rank is normally the task's created_at but can be
// overridden so a resumed task re-enters at the head of its priority band.
type item struct {
	task  *storage.Task
	rank  int64
	index int
}

type priorityQueue []*item

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].task.Priority != pq[j].task.Priority {
		return pq[i].task.Priority > pq[j].task.Priority
	}
	return pq[i].rank < pq[j].rank
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	n := len(*pq)
	it := x.(*item)
	it.index = n
	*pq = append(*pq, it)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*pq = old[:n-1]
	return it
}

// removeTask drops the entry for taskID from the heap, if present, and
// reports whether it found one. Used when a queued (not yet active) task is
// canceled or removed before the scheduler ever admits it.
func (pq *priorityQueue) removeTask(taskID string) bool {
	for i, it := range *pq {
		if it.task.ID == taskID {
			heap.Remove(pq, i)
			return true
		}
	}
	return false
}
