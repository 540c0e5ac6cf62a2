package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnlimitedReturnsImmediately(t *testing.T) {
	b := NewBucket(0)
	start := time.Now()
	require.NoError(t, b.Wait(context.Background(), 10*1024*1024))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimitedBucketThrottles(t *testing.T) {
	b := NewBucket(1024) // 1 KiB/s, capacity clamped to 64 KiB min
	ctx := context.Background()

	require.NoError(t, b.Wait(ctx, 1024))

	start := time.Now()
	require.NoError(t, b.Wait(ctx, 64*1024))
	require.Greater(t, time.Since(start), 10*time.Millisecond)
}

func TestWaitCancelObservable(t *testing.T) {
	b := NewBucket(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Wait(ctx, 1024*1024)
	require.Error(t, err)
}

func TestWaitAllConsultsBothBuckets(t *testing.T) {
	th := New(0)
	shadow := NewBucket(0)
	require.NoError(t, th.WaitAll(context.Background(), 100, shadow))

	// A limited shadow bucket is consulted even when the global one is
	// unlimited: with ctx already canceled, its wait reports the cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, th.WaitAll(ctx, 100, NewBucket(1)))
}
