// Package throttle implements the token-bucket rate limiter shared by all
// active transfers, per spec §4.5. Grounded on
// kmkrofficial-project-tachyon's internal/core/bandwidth.go
// (BandwidthManager: golang.org/x/time/rate, an atomic enabled flag for a
// zero-overhead fast path when unlimited, SetLimit(bytesPerSec)).
package throttle

import (
	"context"

	"golang.org/x/time/rate"
)

const minBucketCapacity = 64 * 1024 // 64 KiB

// Bucket is a single token bucket. A task worker consults the process-global
// Bucket and, if the task has its own speed cap, a per-task shadow Bucket —
// both must admit a chunk's bytes before it is written.
type Bucket struct {
	limiter   *rate.Limiter
	unlimited bool
}

// NewBucket builds a token bucket refilling at bytesPerSec bytes per second.
// bytesPerSec <= 0 means unlimited: Wait returns immediately without
// touching the underlying limiter, per spec §4.5 "with 0 refill, the token
// request returns immediately".
func NewBucket(bytesPerSec int) *Bucket {
	if bytesPerSec <= 0 {
		return &Bucket{unlimited: true}
	}
	capacity := bytesPerSec * 2
	if capacity < minBucketCapacity {
		capacity = minBucketCapacity
	}
	return &Bucket{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), capacity)}
}

// SetLimit reconfigures a live bucket's refill rate and capacity.
// bytesPerSec <= 0 disables limiting.
func (b *Bucket) SetLimit(bytesPerSec int) {
	if bytesPerSec <= 0 {
		b.unlimited = true
		return
	}
	capacity := bytesPerSec * 2
	if capacity < minBucketCapacity {
		capacity = minBucketCapacity
	}
	b.unlimited = false
	if b.limiter == nil {
		b.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), capacity)
		return
	}
	b.limiter.SetLimit(rate.Limit(bytesPerSec))
	b.limiter.SetBurst(capacity)
}

// Wait blocks until n bytes may be written, sleeping for the minimum time
// needed to accrue them. The wait is cancel-observable: ctx cancellation
// wakes it immediately, per spec §5 "throttle waits (immediate wake and
// bail)".
func (b *Bucket) Wait(ctx context.Context, n int) error {
	if b.unlimited || b.limiter == nil {
		return nil
	}
	return b.limiter.WaitN(ctx, n)
}

// Throttle is the process-global rate limiter; per-task shadow Buckets are
// created independently by the worker and waited on alongside it.
type Throttle struct {
	Global *Bucket
}

// New builds the process-global Throttle from the configured
// bytes-per-second refill rate (0 = unlimited).
func New(globalBytesPerSec int) *Throttle {
	return &Throttle{Global: NewBucket(globalBytesPerSec)}
}

// WaitAll waits on the global bucket and, if shadow is non-nil, the task's
// own shadow bucket too — both must admit n bytes.
func (t *Throttle) WaitAll(ctx context.Context, n int, shadow *Bucket) error {
	if err := t.Global.Wait(ctx, n); err != nil {
		return err
	}
	if shadow != nil {
		return shadow.Wait(ctx, n)
	}
	return nil
}
