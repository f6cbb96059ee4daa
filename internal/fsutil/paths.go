// Package fsutil provides the on-disk path conventions (§6), filename
// sanitisation, and the temp-directory/atomic-rename helpers every
// component uses instead of touching os directly.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/stormino/vixsrc-downloader/internal/taskmodel"
)

// MoviePath returns "<moviesPath>/<SanitizedTitle>.<Year>.mp4".
func MoviePath(moviesPath, title string, year int) string {
	name := fmt.Sprintf("%s.%d.mp4", SanitizeFilename(title), year)
	return filepath.Join(moviesPath, name)
}

// TVEpisodePath returns
// "<tvShowsPath>/<SanitizedTitle>/Season %02d/<SanitizedTitle> - S%02dE%02d[ - <SanitizedEpisode>].mp4".
func TVEpisodePath(tvShowsPath, title string, season, episode int, episodeName string) string {
	st := SanitizeFilename(title)
	dir := filepath.Join(tvShowsPath, st, fmt.Sprintf("Season %02d", season))
	base := fmt.Sprintf("%s - S%02dE%02d", st, season, episode)
	if episodeName != "" {
		base += " - " + SanitizeFilename(episodeName)
	}
	return filepath.Join(dir, base+".mp4")
}

// TaskTempDir returns "<tempPath>/<taskId>".
func TaskTempDir(tempPath, taskID string) string {
	return filepath.Join(tempPath, taskID)
}

// SubTaskTempFile returns the scratch filename for a track within its
// task's temp directory: video.ts, audio.<lang>.ts, sub.<lang>.vtt.
func SubTaskTempFile(tempDir string, kind taskmodel.SubTaskKind, language, ext string) string {
	switch kind {
	case taskmodel.KindVideo:
		return filepath.Join(tempDir, "video."+ext)
	case taskmodel.KindAudio:
		return filepath.Join(tempDir, fmt.Sprintf("audio.%s.%s", language, ext))
	case taskmodel.KindSubtitle:
		return filepath.Join(tempDir, fmt.Sprintf("sub.%s.%s", language, ext))
	default:
		return filepath.Join(tempDir, "track."+ext)
	}
}

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// RemoveTempDir deletes a task's scratch directory; called on every exit
// path once muxing is done, or on cancellation.
func RemoveTempDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

// AtomicRename moves src to dst, creating dst's parent directory first.
// Both paths are expected to share a filesystem root (temp dir and final
// output dir are configured under the same volume) so os.Rename is a
// true atomic rename rather than a copy.
func AtomicRename(src, dst string) error {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rename %s to %s: %w", src, dst, err)
	}
	return nil
}

// EnsureUniqueFilename appends " (N)" before the extension until path
// does not already exist on disk.
func EnsureUniqueFilename(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
