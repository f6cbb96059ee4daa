// Package muxer implements the Muxer Supervisor (§4.6): invokes the
// external muxer binary with a deterministic argv, consumes stderr
// line-by-line through the Progress Parser, enforces a wall-clock
// timeout with graceful-then-kill termination, and returns an
// exit-status-tagged DownloadResult. Grounded on the teacher's
// worker.downloadWithFFmpeg / monitorFFmpegProgress exec.CommandContext
// + bufio.Scanner-over-stderr pattern, adapted from ffmpeg's
// "-progress pipe:1" machine-readable stream to its default stderr
// format (see internal/progressparser), and from the teacher's
// yt-dlp/ffmpeg/mpv fallback ladder down to the single-tool contract
// §4.6 specifies (stream-copy muxing only, no fallback tooling).
package muxer

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/stormino/vixsrc-downloader/internal/progressparser"
	"github.com/stormino/vixsrc-downloader/internal/taskmodel"
)

// Input is one elementary stream to mux.
type Input struct {
	Path     string
	Kind     taskmodel.SubTaskKind
	Language string
}

// Config controls the child-process lifecycle.
type Config struct {
	Binary    string // default "ffmpeg"
	Timeout   time.Duration
	KillGrace time.Duration
}

// ProgressFunc receives parsed progress samples during muxing.
type ProgressFunc func(progressparser.Update)

// Supervisor runs muxer invocations.
type Supervisor struct {
	cfg Config
}

// New builds a Supervisor.
func New(cfg Config) *Supervisor {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Hour
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 10 * time.Second
	}
	return &Supervisor{cfg: cfg}
}

// BuildArgs constructs the argv deterministically per §4.6: -y first;
// one -i per input in fixed order (video first, audios, then subtitles);
// explicit stream mapping 0:v:0, i:a:0 per audio, j:s:0 per subtitle;
// codec copy for video/audio, a container-compatible subtitle codec;
// per-stream language metadata for inputs that carry a language (no
// title metadata is written); default dispositions on the first audio
// and first subtitle; -movflags +faststart; outputPath last.
func BuildArgs(video Input, audios, subtitles []Input, outputPath string) []string {
	args := []string{"-y"}

	args = append(args, "-i", video.Path)
	for _, a := range audios {
		args = append(args, "-i", a.Path)
	}
	for _, s := range subtitles {
		args = append(args, "-i", s.Path)
	}

	args = append(args, "-map", "0:v:0")
	for i := range audios {
		args = append(args, "-map", fmt.Sprintf("%d:a:0", i+1))
	}
	for j := range subtitles {
		args = append(args, "-map", fmt.Sprintf("%d:s:0", j+1+len(audios)))
	}

	args = append(args, "-c:v", "copy", "-c:a", "copy")
	if len(subtitles) > 0 {
		args = append(args, "-c:s", "mov_text")
	}

	for i, a := range audios {
		if a.Language != "" {
			args = append(args, fmt.Sprintf("-metadata:s:a:%d", i), "language="+a.Language)
		}
		if i == 0 {
			args = append(args, fmt.Sprintf("-disposition:a:%d", i), "default")
		}
	}
	for j, s := range subtitles {
		if s.Language != "" {
			args = append(args, fmt.Sprintf("-metadata:s:s:%d", j), "language="+s.Language)
		}
		if j == 0 {
			args = append(args, fmt.Sprintf("-disposition:s:%d", j), "default")
		}
	}

	args = append(args, "-movflags", "+faststart")
	args = append(args, outputPath)
	return args
}

// Mux spawns the muxer, streams progress through onProgress, and returns
// the tagged result. ctx cancellation is the supervisor's cancellation
// hook: the child receives SIGTERM, then SIGKILL after KillGrace.
func (m *Supervisor) Mux(ctx context.Context, video Input, audios, subtitles []Input, outputPath string, onProgress ProgressFunc) taskmodel.DownloadResult {
	timeoutCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	args := BuildArgs(video, audios, subtitles, outputPath)
	cmd := exec.CommandContext(timeoutCtx, m.cfg.Binary, args...)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = m.cfg.KillGrace

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return taskmodel.DownloadResult{Kind: taskmodel.ResultFailed, Message: "failed to open stderr pipe", Cause: err}
	}

	if err := cmd.Start(); err != nil {
		return taskmodel.DownloadResult{Kind: taskmodel.ResultFailed, Message: "failed to start muxer", Cause: err}
	}

	parser := progressparser.New()
	var tail ringBuffer
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail.Append(line)
		if update, ok := parser.Feed(line); ok && onProgress != nil {
			onProgress(update)
		}
	}

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return taskmodel.DownloadResult{Kind: taskmodel.ResultCancel, Message: "cancelled"}
	}
	if timeoutCtx.Err() != nil && waitErr != nil {
		return taskmodel.DownloadResult{Kind: taskmodel.ResultFailed, Message: "muxer timed out", Cause: timeoutCtx.Err()}
	}

	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if ok := asExitError(waitErr, &exitErr); ok {
			exitCode = exitErr.ExitCode()
		}
		return taskmodel.DownloadResult{
			Kind:    taskmodel.ResultFailed,
			Message: "exit code " + strconv.Itoa(exitCode),
			Cause:   waitErr,
		}.WithMetadata("stderrTail", tail.String())
	}

	return taskmodel.DownloadResult{Kind: taskmodel.ResultSuccess}
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// ringBuffer keeps the last 128KB of stderr, per §4.6's "FAILED with
// exit code and last-128-KB of stderr" requirement.
type ringBuffer struct {
	lines []string
	size  int
}

const maxTailBytes = 128 * 1024

func (r *ringBuffer) Append(line string) {
	r.lines = append(r.lines, line)
	r.size += len(line) + 1
	for r.size > maxTailBytes && len(r.lines) > 0 {
		r.size -= len(r.lines[0]) + 1
		r.lines = r.lines[1:]
	}
}

func (r *ringBuffer) String() string {
	out := ""
	for _, l := range r.lines {
		out += l + "\n"
	}
	return out
}
