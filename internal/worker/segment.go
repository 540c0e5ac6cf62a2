package worker

import (
	"context"
	"io"
	"time"

	"github.com/muhammad1505/idm-open/internal/idmerrors"
	"github.com/muhammad1505/idm-open/internal/logging"
	"github.com/muhammad1505/idm-open/internal/netclient"
	"github.com/muhammad1505/idm-open/internal/segmenter"
	"github.com/muhammad1505/idm-open/internal/storage"
)

// fetchLoop pulls segments off queue until it closes, fetching each one and
// resolving it (success, split into children re-pushed onto queue, or
// permanent failure) before moving on. Mirrors the teacher's worker() loop
// shape (pop, attempt with retries, push remainder back on failure).
func (r *Runner) fetchLoop(ctx context.Context, queue *segQueue) error {
	for {
		seg, ok := queue.pop()
		if !ok {
			return nil
		}

		err := r.fetchSegment(ctx, &seg)
		if err == nil {
			r.setSegment(seg)
			queue.resolve()
			continue
		}
		if ctx.Err() != nil {
			r.setSegment(seg)
			queue.resolve()
			return ctx.Err()
		}
		if kind, _ := idmerrors.KindOf(err); kind == idmerrors.KindMirrorMismatch || kind == idmerrors.KindChecksumMismatch || kind == idmerrors.KindHTTPStatus {
			r.setSegment(seg)
			queue.resolve()
			return err
		}

		// Transport-error exhaustion with no mirror left to try: split the
		// unfinished tail into two children per spec §4.4, bounded by
		// SplitMaxDepth so a chronically bad link doesn't split forever.
		depth := r.incSplitDepth(seg.SegmentIndex)
		maxDepth := r.deps.Cfg.SplitMaxDepth
		if maxDepth <= 0 {
			maxDepth = 3
		}
		if depth > maxDepth {
			r.setSegment(seg)
			queue.resolve()
			return err
		}

		nextIndex := r.nextSegmentIndex()
		parent, children := segmenter.SplitFailing(seg, nextIndex)
		if len(children) == 0 {
			r.setSegment(seg)
			queue.resolve()
			return err
		}

		logging.Debug("segment %d exhausted retries, splitting into %d and %d", seg.SegmentIndex, children[0].SegmentIndex, children[1].SegmentIndex)

		// Children inherit the parent's depth: a chronic-failure split
		// lineage must be bounded across generations, not reset to zero for
		// every new segment_index SplitFailing hands out.
		r.seedSplitDepth(depth, children[0].SegmentIndex, children[1].SegmentIndex)

		r.addSegments(parent, children)
		// Split children are new segment_index values CommitProgress's plain
		// UPDATE can't create; persist the whole current layout so the
		// periodic commit loop has rows to update from here on.
		r.persistLayout(ctx)
		// Each child is new outstanding work; this segment's own slot is
		// accounted for by the resolve() call below, so add the full count.
		queue.addOutstanding(len(children))
		for _, c := range children {
			queue.push(c)
		}
		queue.resolve()
	}
}

func (r *Runner) nextSegmentIndex() int {
	r.progMu.Lock()
	defer r.progMu.Unlock()
	max := -1
	for idx := range r.segs {
		if idx > max {
			max = idx
		}
	}
	return max + 1
}

func (r *Runner) incSplitDepth(segIndex int) int {
	r.splitMu.Lock()
	defer r.splitMu.Unlock()
	r.splitDepth[segIndex]++
	return r.splitDepth[segIndex]
}

// seedSplitDepth carries a split's depth forward onto its children's own
// counters, so SplitMaxDepth bounds a failure lineage across generations of
// segment_index values instead of resetting every time SplitFailing hands
// out fresh ones.
func (r *Runner) seedSplitDepth(depth int, childIndices ...int) {
	r.splitMu.Lock()
	defer r.splitMu.Unlock()
	for _, idx := range childIndices {
		r.splitDepth[idx] = depth
	}
}

func (r *Runner) setSegment(seg storage.Segment) {
	r.progMu.Lock()
	if _, existed := r.segs[seg.SegmentIndex]; !existed {
		r.segOrd = append(r.segOrd, seg.SegmentIndex)
	}
	r.segs[seg.SegmentIndex] = seg
	r.progMu.Unlock()
}

// addSegments replaces a split parent's entry (shrunk, marked done if it
// retained any bytes, dropped otherwise) and registers its two children.
func (r *Runner) addSegments(parent storage.Segment, children []storage.Segment) {
	r.progMu.Lock()
	if parent.Len() > 0 {
		r.segs[parent.SegmentIndex] = parent
	} else if _, existed := r.segs[parent.SegmentIndex]; existed {
		delete(r.segs, parent.SegmentIndex)
		r.segOrd = removeIndex(r.segOrd, parent.SegmentIndex)
	}
	for _, c := range children {
		if _, existed := r.segs[c.SegmentIndex]; !existed {
			r.segOrd = append(r.segOrd, c.SegmentIndex)
		}
		r.segs[c.SegmentIndex] = c
	}
	r.progMu.Unlock()
}

// persistLayout rewrites the task's full segment table from the in-memory
// snapshot. Used after a split introduces new segment_index rows that the
// targeted UPDATE in CommitProgress can't create on its own.
func (r *Runner) persistLayout(ctx context.Context) {
	r.progMu.Lock()
	segs := make([]storage.Segment, 0, len(r.segOrd))
	for _, idx := range r.segOrd {
		segs = append(segs, r.segs[idx])
	}
	r.progMu.Unlock()

	if err := r.deps.Store.InsertSegments(ctx, r.task.ID, segs); err != nil {
		logging.Warn("persisting split layout for task %s: %v", r.task.ID, err)
	}
}

func (r *Runner) segmentCount() int {
	r.progMu.Lock()
	defer r.progMu.Unlock()
	return len(r.segs)
}

func removeIndex(ord []int, idx int) []int {
	out := ord[:0]
	for _, v := range ord {
		if v != idx {
			out = append(out, v)
		}
	}
	return out
}

// fetchSegment retries seg against the current mirror up to
// MaxAttemptsPerSegment times; on exhaustion it advances to the next mirror
// (skipping backoff, per switch_429_test.go's contract) if one remains,
// otherwise it returns the last error for the caller to decide between a
// split and a permanent failure.
func (r *Runner) fetchSegment(ctx context.Context, seg *storage.Segment) error {
	maxAttempts := r.deps.Cfg.MaxAttemptsPerSegment
	if maxAttempts <= 0 {
		maxAttempts = 6
	}

	var lastErr error
	skipBackoff := false

	for {
		direct, err := r.resolveCurrent(ctx)
		if err != nil {
			return err
		}

		for attempt := 0; attempt < maxAttempts; attempt++ {
			if attempt > 0 && !skipBackoff {
				delay := netclient.Backoff(attempt, r.deps.Cfg.RetryBaseDelay, r.deps.Cfg.RetryMaxDelay)
				if err := sleepCtx(ctx, delay); err != nil {
					return err
				}
			}
			skipBackoff = false

			err := r.fetchSegmentOnce(ctx, direct, seg)
			if err == nil {
				seg.Status = storage.SegmentDone
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if kind, _ := idmerrors.KindOf(err); kind == idmerrors.KindChecksumMismatch || kind == idmerrors.KindMirrorMismatch || kind == idmerrors.KindInvalidInput || kind == idmerrors.KindHTTPStatus {
				return err
			}
			if retryAfter, ok := netclient.IsRetryableStatus(err); ok && retryAfter > 0 {
				if err := sleepCtx(ctx, retryAfter); err != nil {
					return err
				}
			}
			lastErr = err
		}

		if !r.chain.HasNext() {
			seg.Status = storage.SegmentFailed
			return lastErr
		}
		r.chain.Advance()
		skipBackoff = true
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// fetchSegmentOnce issues a single range-fetch attempt for seg's unfinished
// tail and streams the response into the working file at the matching
// offset, honoring the throttle and updating seg.DownloadedBytes as bytes
// land.
//
// The attempt runs under its own cancelable context so two independent
// watchdogs can cut it short without touching the task's own ctx: an
// idle-read timer (reset on every successful read, firing per spec §4.3's
// idle-read timeout) and the health monitor's stall/slow-speed check
// (internal/worker/balance.go). Either surfaces as a retryable Network
// error, not a cancellation, so the normal retry/split path picks it up.
// The balancer (also balance.go) can also shrink the segment's claimed tail
// mid-flight; the read loop honors that live bound instead of the original
// seg.RangeEnd.
func (r *Runner) fetchSegmentOnce(ctx context.Context, directURL string, seg *storage.Segment) error {
	start := seg.RangeStart + seg.DownloadedBytes
	if start > seg.RangeEnd {
		return nil
	}

	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	af := r.registerActive(seg.SegmentIndex, start, seg.RangeEnd, cancelAttempt)
	defer r.deregisterActive(seg.SegmentIndex)

	stalled := func(err error) error {
		if ctx.Err() == nil && attemptCtx.Err() != nil {
			return idmerrors.Network("segment fetch canceled by idle-read timeout or health monitor", attemptCtx.Err())
		}
		return err
	}

	result, err := r.deps.Client.RangeFetch(attemptCtx, directURL, start, seg.RangeEnd, r.opts, r.segmentCount() <= 1)
	if err != nil {
		return stalled(err)
	}
	defer result.Body.Close()

	bufSize := r.deps.Cfg.WorkerBufferSize
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	buf := make([]byte, bufSize)

	idleTimeout := r.deps.Cfg.IdleReadTimeout
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Second
	}
	idleTimer := time.AfterFunc(idleTimeout, cancelAttempt)
	defer idleTimer.Stop()

	alpha := r.deps.Cfg.SpeedEmaAlpha
	if alpha <= 0 {
		alpha = 0.3
	}

	offset := start
	for {
		if _, stop := af.snapshot(); offset > stop {
			break
		}
		n, readErr := result.Body.Read(buf)
		if n > 0 {
			idleTimer.Reset(idleTimeout)
			if err := r.deps.Global.WaitAll(attemptCtx, n, r.shadow); err != nil {
				return stalled(err)
			}
			if _, werr := r.file.WriteAt(buf[:n], offset); werr != nil {
				return idmerrors.Storage("writing segment bytes", werr)
			}
			offset += int64(n)
			seg.DownloadedBytes = offset - seg.RangeStart
			af.recordProgress(alpha, n, time.Now())
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return stalled(idmerrors.Network("reading segment body", readErr))
		}
	}

	// The balancer may have shrunk our tail mid-fetch; reflect the live
	// bound so the caller marks exactly what this attempt actually covers.
	if _, stop := af.snapshot(); stop < seg.RangeEnd {
		seg.RangeEnd = stop
	}
	return nil
}
