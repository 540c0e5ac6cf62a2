package worker

import (
	"context"
	"sync"
	"time"

	"github.com/muhammad1505/idm-open/internal/logging"
	"github.com/muhammad1505/idm-open/internal/segmenter"
	"github.com/muhammad1505/idm-open/internal/storage"
)

// balanceInterval is how often the balancer and health-monitor goroutines
// look for idle capacity or a stalled fetch, matching the teacher's
// hardcoded ConcurrentDownloader.Download ticker (other_examples/66b23d78...).
const balanceInterval = 500 * time.Millisecond

// activeFetch tracks one in-flight segment fetch: a shrinkable claimed
// range the balancer can steal from, and a windowed speed estimate the
// health monitor uses to spot a stalled or chronically slow fetch.
// Grounded on the teacher's ActiveTask (other_examples/1f84f15a...).
type activeFetch struct {
	segIndex int
	cancel   context.CancelFunc

	mu           sync.Mutex
	cur          int64
	stopAt       int64
	lastActivity time.Time
	windowStart  time.Time
	windowBytes  int64
	speed        float64 // EMA, bytes/sec
	slowSince    time.Time
}

func (af *activeFetch) snapshot() (cur, stop int64) {
	af.mu.Lock()
	defer af.mu.Unlock()
	return af.cur, af.stopAt
}

func (af *activeFetch) remaining() int64 {
	cur, stop := af.snapshot()
	return stop - cur + 1
}

func (af *activeFetch) shrinkTo(newStop int64) {
	af.mu.Lock()
	af.stopAt = newStop
	af.mu.Unlock()
}

// recordProgress folds n freshly-written bytes into the live offset and a
// 2-second sliding-window speed EMA, matching the teacher's
// WindowStart/WindowBytes/Speed bookkeeping.
func (af *activeFetch) recordProgress(alpha float64, n int, now time.Time) {
	af.mu.Lock()
	defer af.mu.Unlock()
	af.cur += int64(n)
	af.lastActivity = now
	af.windowBytes += int64(n)

	elapsed := now.Sub(af.windowStart)
	if elapsed >= 2*time.Second {
		instant := float64(af.windowBytes) / elapsed.Seconds()
		if af.speed == 0 {
			af.speed = instant
		} else {
			af.speed = alpha*instant + (1-alpha)*af.speed
		}
		af.windowStart = now
		af.windowBytes = 0
	}
}

func (af *activeFetch) idleFor(now time.Time) time.Duration {
	af.mu.Lock()
	defer af.mu.Unlock()
	return now.Sub(af.lastActivity)
}

func (af *activeFetch) speedSnapshot() float64 {
	af.mu.Lock()
	defer af.mu.Unlock()
	return af.speed
}

// markSlow records whether this fetch is currently below the slow-worker
// threshold and returns the time since which it has continuously been so
// (the zero Time if it isn't slow right now), letting checkHealth apply the
// grace period before acting.
func (af *activeFetch) markSlow(slow bool, now time.Time) time.Time {
	af.mu.Lock()
	defer af.mu.Unlock()
	if !slow {
		af.slowSince = time.Time{}
		return time.Time{}
	}
	if af.slowSince.IsZero() {
		af.slowSince = now
	}
	return af.slowSince
}

func (r *Runner) registerActive(segIndex int, start, stopAt int64, cancel context.CancelFunc) *activeFetch {
	now := time.Now()
	af := &activeFetch{
		segIndex:     segIndex,
		cancel:       cancel,
		cur:          start,
		stopAt:       stopAt,
		lastActivity: now,
		windowStart:  now,
	}
	r.activeMu.Lock()
	r.active[segIndex] = af
	r.activeMu.Unlock()
	return af
}

func (r *Runner) deregisterActive(segIndex int) {
	r.activeMu.Lock()
	delete(r.active, segIndex)
	r.activeMu.Unlock()
}

// balanceLoop periodically hands an idle worker's capacity a stolen tail
// from the busiest in-flight fetch, per the worker-domain expansion's
// balancer goroutine.
func (r *Runner) balanceLoop(ctx context.Context, queue *segQueue) {
	ticker := time.NewTicker(balanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tryBalance(ctx, queue)
		}
	}
}

// tryBalance steals the back half of the busiest active fetch's remaining
// range into a new pending segment, but only when the queue is already
// empty (no idle worker would otherwise have anything to do) and the
// remainder is large enough for the split to be worth the extra request.
func (r *Runner) tryBalance(ctx context.Context, queue *segQueue) {
	if queue.pending() > 0 {
		return
	}

	r.activeMu.Lock()
	var best *activeFetch
	var bestRemaining int64
	for _, af := range r.active {
		if rem := af.remaining(); best == nil || rem > bestRemaining {
			best, bestRemaining = af, rem
		}
	}
	r.activeMu.Unlock()
	if best == nil {
		return
	}

	minSteal := r.deps.Cfg.MinChunkSize
	if minSteal <= 0 {
		minSteal = 2 * segmenter.MiB
	}
	if bestRemaining < 2*minSteal {
		return
	}

	cur, stop := best.snapshot()
	newStop := cur + (stop-cur+1)/2

	r.progMu.Lock()
	parentSeg, ok := r.segs[best.segIndex]
	r.progMu.Unlock()
	if !ok {
		return
	}

	nextIndex := r.nextSegmentIndex()
	parent, child, ok := segmenter.StealTail(parentSeg, cur, newStop, nextIndex)
	if !ok {
		return
	}

	best.shrinkTo(newStop)
	r.addSegments(parent, []storage.Segment{child})
	r.persistLayout(ctx)
	queue.addOutstanding(1)
	queue.push(child)
	logging.Debug("balancer stole tail of segment %d into segment %d (%d bytes)", best.segIndex, child.SegmentIndex, child.Len())
}

// healthLoop cancels a fetch that has gone idle past StallTimeout, or that
// has run chronically below SlowWorkerThreshold of the task's average speed
// for longer than SlowWorkerGracePeriod, per the teacher's
// checkWorkerHealth. A canceled attempt surfaces as a retryable Network
// error and re-enters the normal retry/split path.
func (r *Runner) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(balanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkHealth()
		}
	}
}

func (r *Runner) checkHealth() {
	stallTimeout := r.deps.Cfg.StallTimeout
	if stallTimeout <= 0 {
		stallTimeout = 30 * time.Second
	}
	threshold := r.deps.Cfg.SlowWorkerThreshold
	if threshold <= 0 {
		threshold = 0.3
	}
	grace := r.deps.Cfg.SlowWorkerGracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}

	r.activeMu.Lock()
	snapshot := make([]*activeFetch, 0, len(r.active))
	for _, af := range r.active {
		snapshot = append(snapshot, af)
	}
	r.activeMu.Unlock()
	if len(snapshot) == 0 {
		return
	}

	now := time.Now()
	var total float64
	for _, af := range snapshot {
		total += af.speedSnapshot()
	}
	avg := total / float64(len(snapshot))

	for _, af := range snapshot {
		if af.idleFor(now) > stallTimeout {
			logging.Debug("health monitor: segment %d stalled for %s, canceling attempt", af.segIndex, af.idleFor(now))
			af.cancel()
			continue
		}
		if len(snapshot) < 2 || avg <= 0 {
			continue
		}
		speed := af.speedSnapshot()
		slow := speed > 0 && speed < avg*threshold
		since := af.markSlow(slow, now)
		if slow && now.Sub(since) > grace {
			logging.Debug("health monitor: segment %d running at %.0f B/s (avg %.0f), canceling attempt", af.segIndex, speed, avg)
			af.cancel()
		}
	}
}
