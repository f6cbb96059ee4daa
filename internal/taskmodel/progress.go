package taskmodel

import "time"

// ProgressUpdate is an immutable snapshot published to the progress bus.
// SubTaskID is empty for an aggregated task-level update.
type ProgressUpdate struct {
	TaskID    string
	SubTaskID string

	Status   Status
	Progress float64 // 0..100, or -1 for unknown

	DownloadedBytes int64
	TotalBytes      int64 // 0 means unknown
	DownloadSpeed   float64
	ETASeconds      float64 // -1 means unknown

	Message      string
	ErrorMessage string

	Timestamp time.Time
}

// IsAggregate reports whether this update represents the whole Task
// rather than a single SubTask.
func (p ProgressUpdate) IsAggregate() bool {
	return p.SubTaskID == ""
}

// IsStatusTransition reports whether this update should always be
// delivered regardless of the bus's throttling guard, per §4.9: status
// transitions and terminal updates bypass the rate limit.
func (p ProgressUpdate) IsStatusTransition(previous Status) bool {
	return p.Status != previous || p.Status.IsTerminal()
}

// PlaylistDescriptor is produced by the Resolver: one entry per selected
// track.
type PlaylistDescriptor struct {
	URL      string
	Kind     SubTaskKind
	Language string // empty for VIDEO
	Verified bool
}
