// Package apperrors defines the error taxonomy shared across the download
// orchestration core. Each kind is a small struct implementing error
// (with Unwrap on the kinds that wrap a cause), except Cancelled, which is
// a sentinel value; all are returned as values rather than panicking.
package apperrors

import "fmt"

// ConfigError reports invalid or missing configuration. Fatal at startup.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TransportError reports a network or TLS failure observed on the final
// retry attempt of the Retryable Fetcher.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PlaylistExtractionError reports a missing or unparseable manifest.
type PlaylistExtractionError struct {
	EmbedURL    string
	CatalogueID string
	Err         error
}

func (e *PlaylistExtractionError) Error() string {
	if e.CatalogueID != "" {
		return fmt.Sprintf("playlist extraction failed for catalogue id %s (%s): %v", e.CatalogueID, e.EmbedURL, e.Err)
	}
	return fmt.Sprintf("playlist extraction failed (%s): %v", e.EmbedURL, e.Err)
}

func (e *PlaylistExtractionError) Unwrap() error { return e.Err }

// TrackDownloadError reports a failed segment fetch or write.
type TrackDownloadError struct {
	Kind        string
	Language    string
	PlaylistURL string
	Err         error
}

func (e *TrackDownloadError) Error() string {
	if e.Language != "" {
		return fmt.Sprintf("track download failed: %s(%s) %s: %v", e.Kind, e.Language, e.PlaylistURL, e.Err)
	}
	return fmt.Sprintf("track download failed: %s %s: %v", e.Kind, e.PlaylistURL, e.Err)
}

func (e *TrackDownloadError) Unwrap() error { return e.Err }

// MergeError reports a non-zero muxer exit.
type MergeError struct {
	Inputs   []string
	Output   string
	ExitCode int
	Stderr   string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("mux failed: exit code %d: %s", e.ExitCode, e.Stderr)
}

// Cancelled marks a cooperative cancellation outcome. It is a sentinel
// value, not a constructor, since no extra context is carried.
var Cancelled = fmt.Errorf("cancelled")

// NotFound reports content or a requested language that is unavailable.
type NotFound struct {
	What string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("not found: %s", e.What)
}

// IllegalTransition is a programmer error: the caller asked the state
// machine to move an entity across an edge that isn't in the transition
// table.
type IllegalTransition struct {
	TaskID string
	From   string
	To     string
}

func (e *IllegalTransition) Error() string {
	return fmt.Sprintf("illegal transition for task %s: %s -> %s", e.TaskID, e.From, e.To)
}
