package segmenter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/muhammad1505/idm-open/internal/storage"
)

func TestSegmentCountThresholds(t *testing.T) {
	require.Equal(t, 1, SegmentCount(0, 8, true))
	require.Equal(t, 1, SegmentCount(10*MiB, 8, true))
	require.Equal(t, 4, SegmentCount(100*MiB, 8, true))
	require.Equal(t, 8, SegmentCount(500*MiB, 8, true))
	require.Equal(t, 16, SegmentCount(3*GiB, 16, true))
	require.Equal(t, 1, SegmentCount(500*MiB, 8, false))
	require.Equal(t, 4, SegmentCount(500*MiB, 4, true)) // bounded by max_connections
}

func TestLayoutPartitionsWithoutGaps(t *testing.T) {
	segs := Layout("t1", 1000, 4)
	require.Len(t, segs, 4)

	var total int64
	for i, seg := range segs {
		require.Equal(t, i, seg.SegmentIndex)
		total += seg.Len()
		if i > 0 {
			require.Equal(t, segs[i-1].RangeEnd+1, seg.RangeStart)
		}
	}
	require.Equal(t, int64(1000), total)
	require.Equal(t, int64(999), segs[len(segs)-1].RangeEnd)
}

func TestLayoutSingleSegment(t *testing.T) {
	segs := Layout("t1", 500, 1)
	require.Len(t, segs, 1)
	require.Equal(t, int64(0), segs[0].RangeStart)
	require.Equal(t, int64(499), segs[0].RangeEnd)
}

func TestSplitFailingPreservesCompletedBytes(t *testing.T) {
	seg := storage.Segment{TaskID: "t1", SegmentIndex: 0, RangeStart: 0, RangeEnd: 999, DownloadedBytes: 400, Status: storage.SegmentFailed}

	parent, children := SplitFailing(seg, 1)
	require.Len(t, children, 2)
	require.Equal(t, int64(399), parent.RangeEnd)
	require.Equal(t, storage.SegmentDone, parent.Status)

	require.Equal(t, int64(400), children[0].RangeStart)
	require.Equal(t, children[1].RangeStart, children[0].RangeEnd+1)
	require.Equal(t, int64(999), children[1].RangeEnd)
	require.Equal(t, 1, children[0].SegmentIndex)
	require.Equal(t, 2, children[1].SegmentIndex)
}

func TestSplitFailingTooSmallToSplit(t *testing.T) {
	seg := storage.Segment{TaskID: "t1", SegmentIndex: 0, RangeStart: 0, RangeEnd: 999, DownloadedBytes: 999, Status: storage.SegmentFailed}
	_, children := SplitFailing(seg, 1)
	require.Nil(t, children)
}
