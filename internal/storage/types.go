package storage

// Status is one of the task lifecycle states named in the state machine.
// Values are exactly the lowercased state names so they round-trip directly
// into the status column.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// SegmentStatus is one of a segment's lifecycle states.
type SegmentStatus string

const (
	SegmentPending SegmentStatus = "pending"
	SegmentActive  SegmentStatus = "active"
	SegmentDone    SegmentStatus = "done"
	SegmentFailed  SegmentStatus = "failed"
)

// EventKind is one of the append-only audit record kinds.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventResolved  EventKind = "resolved"
	EventProbed    EventKind = "probed"
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventPaused    EventKind = "paused"
	EventResumed   EventKind = "resumed"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCanceled  EventKind = "canceled"
)

// Task is the persisted row for tasks(id, url, dest_path, status, ...).
//
// AuthPass is stored and returned in plain text. The source this spec was
// distilled from did the same; flagged rather than silently fixed, see
// DESIGN.md.
type Task struct {
	ID               string
	URL              string
	DestPath         string
	Status           Status
	Priority         int
	TotalBytes       int64
	DownloadedBytes  int64
	CreatedAt        int64
	UpdatedAt        int64
	Error            string
	ChecksumType     string
	ChecksumHex      string
	ProxyURL         string
	AuthUser         string
	AuthPass         string
	SpeedCapBPS      int // per-task throttle cap in bytes/sec; 0 = unlimited
}

// Segment is the persisted row for segments(...), owned by exactly one task.
type Segment struct {
	ID              int64
	TaskID          string
	SegmentIndex    int
	RangeStart      int64
	RangeEnd        int64
	DownloadedBytes int64
	Status          SegmentStatus
}

// Len returns the segment's byte length (inclusive range).
func (s Segment) Len() int64 { return s.RangeEnd - s.RangeStart + 1 }

// Header is a request header applied to every request the net client issues
// for a task.
type Header struct {
	ID     int64
	TaskID string
	Name   string
	Value  string
}

// Cookie is a cookie applied to every request the net client issues for a
// task, scoped by domain and path.
type Cookie struct {
	ID     int64
	TaskID string
	Name   string
	Value  string
	Domain string
	Path   string
}

// Mirror is an alternative URL for a task. Lower rank is tried first; the
// primary URL is rank 0 implicitly and is not itself stored as a Mirror row.
type Mirror struct {
	ID     int64
	TaskID string
	URL    string
	Rank   int
}

// Event is an append-only audit record. The core never reads events back;
// they exist for external observation only.
type Event struct {
	ID        int64
	TaskID    string
	Kind      EventKind
	Payload   string
	CreatedAt int64
}
