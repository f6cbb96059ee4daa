// Package orchestrator implements the Track Orchestrator (§4.5): given a
// resolved Task, spawns one goroutine per SubTask, supervises them to
// completion, aggregates their results per §4.5's policy, and on
// success hands the collected temp files to the Muxer Supervisor before
// atomically renaming its output into place. Grounded on the teacher's
// manager.processTask/worker split, with the native-downloader/
// yt-dlp/mpv fallback ladder replaced by the spec's single
// Resolver -> Segment Downloader -> Muxer Supervisor pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stormino/vixsrc-downloader/internal/fsutil"
	"github.com/stormino/vixsrc-downloader/internal/muxer"
	"github.com/stormino/vixsrc-downloader/internal/progressbus"
	"github.com/stormino/vixsrc-downloader/internal/progressparser"
	"github.com/stormino/vixsrc-downloader/internal/segment"
	"github.com/stormino/vixsrc-downloader/internal/taskmodel"
)

// Orchestrator runs one Task end to end.
type Orchestrator struct {
	segmentDownloader *segment.Downloader
	muxSupervisor     *muxer.Supervisor
	bus               *progressbus.Bus
	logger            *slog.Logger
}

// New builds an Orchestrator sharing the process-wide downloader, muxer
// supervisor, and progress bus.
func New(segmentDownloader *segment.Downloader, muxSupervisor *muxer.Supervisor, bus *progressbus.Bus, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{segmentDownloader: segmentDownloader, muxSupervisor: muxSupervisor, bus: bus, logger: logger}
}

// subTaskOutcome pairs a SubTask with its terminal DownloadResult.
type subTaskOutcome struct {
	subTask *SubTaskHandle
	result  taskmodel.DownloadResult
}

// SubTaskHandle is a thin wrapper the orchestrator uses to mutate a
// SubTask's observable fields; it exists so the orchestrator never needs
// a pointer back to the owning Task beyond what's passed in explicitly,
// per the spec's "store parent linkage as an opaque id" design note.
type SubTaskHandle struct {
	*taskmodel.SubTask
}

// Run downloads every SubTask's track, aggregates the outcome per §4.5,
// muxes on success, and renames the result into outputPath. The task's
// own Status field is not mutated here — the caller (scheduler worker)
// owns that single-writer responsibility; Run reports what happened via
// the returned DownloadResult so the caller can drive the state machine.
// onMergeStart, if non-nil, is invoked once aggregation succeeds and
// muxing is about to begin, so the caller can transition the task into
// MERGING before the (potentially long) mux call blocks.
func (o *Orchestrator) Run(ctx context.Context, task *taskmodel.Task, onMergeStart func()) taskmodel.DownloadResult {
	if err := fsutil.EnsureDir(task.TempDir); err != nil {
		return taskmodel.DownloadResult{Kind: taskmodel.ResultFailed, Message: "failed to create temp directory", Cause: err}
	}
	defer fsutil.RemoveTempDir(task.TempDir)

	outcomes := o.downloadAllSubTasks(ctx, task)

	result := o.aggregate(task, outcomes)
	if result.Kind != taskmodel.ResultSuccess {
		return result
	}

	if onMergeStart != nil {
		onMergeStart()
	}

	muxResult := o.muxAndRename(ctx, task)
	if muxResult.Kind != taskmodel.ResultSuccess {
		return muxResult
	}

	for k, v := range result.Metadata {
		muxResult = muxResult.WithMetadata(k, v)
	}
	return muxResult
}

func (o *Orchestrator) downloadAllSubTasks(ctx context.Context, task *taskmodel.Task) []subTaskOutcome {
	outcomes := make([]subTaskOutcome, len(task.SubTasks))
	done := make(chan int, len(task.SubTasks))

	for i, st := range task.SubTasks {
		i, st := i, st
		go func() {
			handle := &SubTaskHandle{st}
			result := o.downloadOne(ctx, task, handle)
			outcomes[i] = subTaskOutcome{subTask: handle, result: result}
			done <- i
		}()
	}
	for range task.SubTasks {
		<-done
	}
	return outcomes
}

func (o *Orchestrator) downloadOne(ctx context.Context, task *taskmodel.Task, st *SubTaskHandle) taskmodel.DownloadResult {
	st.Status = taskmodel.StatusDownloading
	result := o.segmentDownloader.DownloadTrack(ctx, st.PlaylistURL, st.TempFilePath, func(downloaded, total int64, speed, eta, pct float64) {
		st.DownloadedBytes = downloaded
		st.TotalBytes = total
		st.DownloadSpeed = speed
		st.ETASeconds = eta
		st.Progress = pct
		if o.bus != nil {
			o.bus.Publish(taskmodel.ProgressUpdate{
				TaskID: task.ID, SubTaskID: st.ID, Status: st.Status,
				Progress: pct, DownloadedBytes: downloaded, TotalBytes: total,
				DownloadSpeed: speed, ETASeconds: eta,
			})
		}
	})

	switch result.Kind {
	case taskmodel.ResultSuccess:
		st.Status = taskmodel.StatusCompleted
	case taskmodel.ResultNotFound:
		st.Status = taskmodel.StatusNotFound
	case taskmodel.ResultCancel:
		st.Status = taskmodel.StatusCancelled
	default:
		st.Status = taskmodel.StatusFailed
		st.ErrorMessage = result.Message
	}
	return result
}

// aggregate implements §4.5's policy exactly.
func (o *Orchestrator) aggregate(task *taskmodel.Task, outcomes []subTaskOutcome) taskmodel.DownloadResult {
	var missingLanguages, missingSubtitles []string
	audioSucceeded := 0

	for _, oc := range outcomes {
		st := oc.subTask
		switch st.Kind {
		case taskmodel.KindVideo:
			if oc.result.Kind != taskmodel.ResultSuccess {
				return taskmodel.DownloadResult{Kind: taskmodel.ResultFailed, Message: "video track failed", Cause: oc.result.Cause}
			}
		case taskmodel.KindAudio:
			if oc.result.Kind == taskmodel.ResultSuccess {
				audioSucceeded++
			} else {
				missingLanguages = append(missingLanguages, st.Language)
			}
		case taskmodel.KindSubtitle:
			if oc.result.Kind != taskmodel.ResultSuccess {
				missingSubtitles = append(missingSubtitles, st.Language)
			}
		}
	}

	requestedAudio := 0
	for _, oc := range outcomes {
		if oc.subTask.Kind == taskmodel.KindAudio {
			requestedAudio++
		}
	}
	if requestedAudio > 0 && audioSucceeded == 0 {
		return taskmodel.DownloadResult{Kind: taskmodel.ResultFailed, Message: "no audio track available"}
	}

	result := taskmodel.DownloadResult{Kind: taskmodel.ResultSuccess}
	if len(missingLanguages) > 0 {
		result = result.WithMetadata("missingLanguages", missingLanguages)
	}
	if len(missingSubtitles) > 0 {
		result = result.WithMetadata("missingSubtitles", missingSubtitles)
	}
	return result
}

func (o *Orchestrator) muxAndRename(ctx context.Context, task *taskmodel.Task) taskmodel.DownloadResult {
	var video muxer.Input
	var audios, subtitles []muxer.Input

	for _, st := range task.SubTasks {
		if !st.IsTerminal() || st.Status != taskmodel.StatusCompleted {
			continue
		}
		input := muxer.Input{Path: st.TempFilePath, Kind: st.Kind, Language: st.Language}
		switch st.Kind {
		case taskmodel.KindVideo:
			video = input
		case taskmodel.KindAudio:
			audios = append(audios, input)
		case taskmodel.KindSubtitle:
			subtitles = append(subtitles, input)
		}
	}

	muxOutputPath := task.TempDir + "/mux_output.mp4"
	result := o.muxSupervisor.Mux(ctx, video, audios, subtitles, muxOutputPath, func(update progressparser.Update) {
		if o.bus != nil {
			o.bus.Publish(taskmodel.ProgressUpdate{
				TaskID: task.ID, Status: taskmodel.StatusMerging,
				Progress: update.Progress, DownloadedBytes: update.DownloadedBytes,
			})
		}
	})
	if result.Kind != taskmodel.ResultSuccess {
		return result
	}

	if err := fsutil.AtomicRename(muxOutputPath, task.OutputPath); err != nil {
		return taskmodel.DownloadResult{Kind: taskmodel.ResultFailed, Message: fmt.Sprintf("failed to finalize output: %v", err), Cause: err}
	}
	return taskmodel.DownloadResult{Kind: taskmodel.ResultSuccess}
}
