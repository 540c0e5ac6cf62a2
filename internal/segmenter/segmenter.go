// Package segmenter computes a task's segment layout from its probed size
// and splits a chronically failing segment into child segments, per spec
// §4.4. Grounded on the teacher's getInitialConnections/calculateChunkSize/
// createTasks trio in internal/downloader/concurrent.go, adapted from a
// connection-count heuristic to the spec's literal size-threshold table.
package segmenter

import "github.com/muhammad1505/idm-open/internal/storage"

const (
	MiB = 1 << 20
	GiB = 1 << 30
)

// SegmentCount returns how many segments a resource of the given size
// should be split into, per the table in spec §4.4. maxConnections bounds
// the result; a non-positive maxConnections defaults to 8.
func SegmentCount(totalBytes int64, maxConnections int, rangeSupported bool) int {
	if maxConnections <= 0 {
		maxConnections = 8
	}
	if totalBytes == 0 || !rangeSupported {
		return 1
	}

	var recommended int
	switch {
	case totalBytes < 20*MiB:
		recommended = 1
	case totalBytes < 200*MiB:
		recommended = 4
	case totalBytes < 2*GiB:
		recommended = 8
	default:
		recommended = 16
	}

	if recommended > maxConnections {
		return maxConnections
	}
	return recommended
}

// Layout partitions [0, totalBytes) into count nearly equal segments, the
// last absorbing any remainder, per spec §4.4.
func Layout(taskID string, totalBytes int64, count int) []storage.Segment {
	if count < 1 {
		count = 1
	}
	if totalBytes <= 0 {
		return []storage.Segment{{TaskID: taskID, SegmentIndex: 0, RangeStart: 0, RangeEnd: -1, Status: storage.SegmentPending}}
	}

	segSize := totalBytes / int64(count)
	if segSize == 0 {
		segSize = 1
		count = int(totalBytes)
	}

	segs := make([]storage.Segment, 0, count)
	start := int64(0)
	for i := 0; i < count; i++ {
		end := start + segSize - 1
		if i == count-1 || end >= totalBytes-1 {
			end = totalBytes - 1
		}
		segs = append(segs, storage.Segment{
			TaskID:       taskID,
			SegmentIndex: i,
			RangeStart:   start,
			RangeEnd:     end,
			Status:       storage.SegmentPending,
		})
		start = end + 1
		if start >= totalBytes {
			break
		}
	}
	return segs
}

// SplitFailing splits a chronically failing segment's unfinished tail into
// two new pending child segments, stealing the unfinished tail from the
// failing segment and preserving its already-completed bytes, per spec
// §4.4. The parent segment shrinks to cover only the bytes it already
// completed and is marked done; nextIndex and nextIndex+1 are the
// segment_index values assigned to the two children. Returns a nil children
// slice if the segment has no unfinished tail left to split (it's
// effectively done already).
func SplitFailing(seg storage.Segment, nextIndex int) (parent storage.Segment, children []storage.Segment) {
	remainingStart := seg.RangeStart + seg.DownloadedBytes
	if remainingStart > seg.RangeEnd {
		return seg, nil
	}

	remaining := seg.RangeEnd - remainingStart + 1
	if remaining < 2 {
		// Too small to usefully split into two; leave it as a single pending retry.
		parent = seg
		parent.Status = storage.SegmentPending
		return parent, nil
	}

	mid := remainingStart + remaining/2

	parent = seg
	parent.RangeEnd = remainingStart - 1
	parent.Status = storage.SegmentDone
	// If nothing was downloaded yet, parent.Len() is <= 0: the caller drops it
	// entirely and keeps only the two children.

	children = []storage.Segment{
		{
			TaskID:       seg.TaskID,
			SegmentIndex: nextIndex,
			RangeStart:   remainingStart,
			RangeEnd:     mid - 1,
			DownloadedBytes: 0,
			Status:       storage.SegmentPending,
		},
		{
			TaskID:       seg.TaskID,
			SegmentIndex: nextIndex + 1,
			RangeStart:   mid,
			RangeEnd:     seg.RangeEnd,
			DownloadedBytes: 0,
			Status:       storage.SegmentPending,
		},
	}
	return parent, children
}

// StealTail shrinks an in-flight segment's claimed range down to newStop,
// handing the freed tail [newStop+1, seg.RangeEnd] to a new pending child
// segment an idle worker can pick up. Unlike SplitFailing, seg is not
// failing: it is still being actively fetched, so the shrunk parent stays
// SegmentActive rather than SegmentDone. curOffset is the byte offset the
// in-flight fetch has already written up to; ok is false if newStop doesn't
// leave both sides a useful amount of work.
func StealTail(seg storage.Segment, curOffset, newStop int64, nextIndex int) (parent storage.Segment, child storage.Segment, ok bool) {
	if newStop < curOffset || newStop >= seg.RangeEnd {
		return seg, storage.Segment{}, false
	}

	parent = seg
	parent.RangeEnd = newStop
	parent.Status = storage.SegmentActive

	child = storage.Segment{
		TaskID:          seg.TaskID,
		SegmentIndex:    nextIndex,
		RangeStart:      newStop + 1,
		RangeEnd:        seg.RangeEnd,
		DownloadedBytes: 0,
		Status:          storage.SegmentPending,
	}
	return parent, child, true
}
