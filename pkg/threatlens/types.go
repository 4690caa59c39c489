// Package threatlens holds the shared data model for the ThreatLens
// real-time detection core: log entries, log sources, fan-out subscribers
// and events. It has no dependency on any of the four components so that
// they, and external collaborators (HTTP handlers, persistence, the
// analyzer, the notifier), can all share one vocabulary.
package threatlens

import "time"

// Priority orders LogEntry processing. Lower numeric value means higher
// priority.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh      Priority = 2
	PriorityMedium    Priority = 3
	PriorityLow       Priority = 4
	PriorityBulk      Priority = 5
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	case PriorityBulk:
		return "BULK"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether p is one of the five defined priority levels.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityBulk
}

// Status is the lifecycle state of a LogEntry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// DefaultMaxRetries is applied to entries that don't set MaxRetries.
const DefaultMaxRetries = 3

// LogEntry is one logical line read from a monitored source.
type LogEntry struct {
	EntryID    string
	Content    string
	SourcePath string
	SourceName string
	Timestamp  time.Time
	Priority   Priority
	FileOffset int64

	Status     Status
	RetryCount int
	MaxRetries int
	ErrorCount int
	LastError  string

	CreatedAt             time.Time
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
}

// NewLogEntry builds a LogEntry with its EntryID derived from source,
// timestamp and offset, as required by spec §3.
func NewLogEntry(sourceName, sourcePath, content string, ts time.Time, priority Priority, offset int64) *LogEntry {
	ts = ts.UTC()
	return &LogEntry{
		EntryID:    BuildEntryID(sourceName, ts, offset),
		Content:    content,
		SourcePath: sourcePath,
		SourceName: sourceName,
		Timestamp:  ts,
		Priority:   priority,
		FileOffset: offset,
		Status:     StatusPending,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  time.Now().UTC(),
	}
}

// BuildEntryID formats the stable {sourceName}_{timestamp}_{fileOffset}
// identity described in spec §3.
func BuildEntryID(sourceName string, ts time.Time, offset int64) string {
	return sourceName + "_" + ts.UTC().Format("20060102T150405.000000000") + "_" + itoa(offset)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// CanRetry reports whether the entry is eligible for another attempt.
func (e *LogEntry) CanRetry() bool {
	return e.Status == StatusFailed && e.RetryCount < e.MaxRetries
}

// ProcessingTime returns the duration between processing start and
// completion, if both are set.
func (e *LogEntry) ProcessingTime() (time.Duration, bool) {
	if e.ProcessingStartedAt == nil || e.ProcessingCompletedAt == nil {
		return 0, false
	}
	return e.ProcessingCompletedAt.Sub(*e.ProcessingStartedAt), true
}

// SourceKind distinguishes a single monitored file from a monitored
// directory of files.
type SourceKind string

const (
	SourceKindFile      SourceKind = "FILE"
	SourceKindDirectory SourceKind = "DIRECTORY"
)

// SourceStatus is the runtime status of a LogSource as observed by the
// Tailing Engine.
type SourceStatus string

const (
	SourceInactive SourceStatus = "INACTIVE"
	SourceActive   SourceStatus = "ACTIVE"
	SourceError    SourceStatus = "ERROR"
)

// LogSource configures one monitored target. The runtime fields are
// mutated only by the Tailing Engine (spec §3 ownership rule); anything
// else should treat a LogSource it's handed as a read-only snapshot.
type LogSource struct {
	Name            string
	Path            string
	Kind            SourceKind
	Enabled         bool
	Recursive       bool
	FilePattern     string
	PollingInterval time.Duration
	BatchHint       int
	Priority        Priority
	Description     string
	Tags            []string

	// Runtime fields, single-writer: the Tailing Engine's per-source task.
	Status          SourceStatus
	LastMonitoredAt time.Time
	KnownSize       int64
	LastOffset      int64
	LastError       string
}

// Snapshot returns a copy safe for concurrent reads by callers that are
// not the Tailing Engine's owning goroutine.
func (s *LogSource) Snapshot() LogSource {
	cp := *s
	cp.Tags = append([]string(nil), s.Tags...)
	return cp
}

// Subscriber is a live fan-out destination.
type Subscriber struct {
	ID            string
	Filter        Filter
	ConnectedAt   time.Time
	LastPingAt    time.Time
	DroppedCount  int64
	PrincipalID   string
}

// Filter selects which EventUpdates a Subscriber receives. Filters must
// not mutate shared state when evaluated (spec §4.3).
type Filter struct {
	SubscribedTypes  map[string]struct{}
	MinPriority      int
	MaxPriority      int
	SourceAllowList  map[string]struct{}
}

// NewFilter builds a Filter that accepts any event (spec default: "empty
// set of types = all").
func NewFilter() Filter {
	return Filter{MinPriority: 0, MaxPriority: 10}
}

// Matches reports whether ev passes f. A zero-value Filter (no types, no
// allow-list, MinPriority==MaxPriority==0) matches everything except when
// MaxPriority is explicitly narrowed below MinPriority is impossible by
// construction via NewFilter, so callers should build filters with
// NewFilter and then restrict them.
func (f Filter) Matches(ev EventUpdate) bool {
	if len(f.SubscribedTypes) > 0 {
		if _, ok := f.SubscribedTypes[ev.EventType]; !ok {
			return false
		}
	}
	if f.MaxPriority > 0 || f.MinPriority > 0 {
		if ev.Priority < f.MinPriority || ev.Priority > f.MaxPriority {
			return false
		}
	}
	if len(f.SourceAllowList) > 0 {
		src, _ := ev.Payload["source_name"].(string)
		if _, ok := f.SourceAllowList[src]; !ok {
			return false
		}
	}
	return true
}

// EventUpdate is the fan-out payload.
type EventUpdate struct {
	EventType          string
	Priority           int
	Timestamp          time.Time
	Payload            map[string]interface{}
	TargetSubscriberID string
}
