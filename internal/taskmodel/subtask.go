package taskmodel

import "time"

// SubTaskKind distinguishes the three track shapes. Spec's tagged-variant
// note (Video{resolution,bitrate} | Audio{language} | Subtitle{language})
// is expressed here as a kind tag plus a Capability method set, rather
// than as a Go sum type, since Go has no closed union; the fields that
// don't apply to a kind are simply left zero.
type SubTaskKind string

const (
	KindVideo    SubTaskKind = "VIDEO"
	KindAudio    SubTaskKind = "AUDIO"
	KindSubtitle SubTaskKind = "SUBTITLE"
)

// SubTask is one downloadable track belonging to a Task. Parent linkage
// is by opaque TaskID, never a pointer, so ownership stays unidirectional:
// Task owns SubTasks, SubTasks only know their parent's id.
type SubTask struct {
	ID     string
	TaskID string

	Kind       SubTaskKind
	Language   string // empty for VIDEO
	Codec      string
	Resolution int // height in pixels, VIDEO only, 0 if unknown
	Bitrate    int64

	PlaylistURL  string
	TempFilePath string

	Status          Status
	Progress        float64
	DownloadedBytes int64
	TotalBytes      int64 // 0 means unknown
	DownloadSpeed   float64
	ETASeconds      float64 // -1 means unknown
	ErrorMessage    string
	RetryCount      int

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// DisplayName returns a human label for progress envelopes and logs.
func (s *SubTask) DisplayName() string {
	switch s.Kind {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio." + s.Language
	case KindSubtitle:
		return "subtitle." + s.Language
	default:
		return string(s.Kind)
	}
}

// OutputExtension is the temp-file suffix per the on-disk layout (§6):
// video.ts, audio.<lang>.ts, sub.<lang>.vtt.
func (s *SubTask) OutputExtension() string {
	if s.Kind == KindSubtitle {
		return "vtt"
	}
	return "ts"
}

// TotalBytesKnown reports whether a weight is available for byte-weighted
// progress aggregation.
func (s *SubTask) TotalBytesKnown() bool {
	return s.TotalBytes > 0
}

// IsTerminal reports whether the SubTask's status is terminal.
func (s *SubTask) IsTerminal() bool {
	return s.Status.IsTerminal()
}
