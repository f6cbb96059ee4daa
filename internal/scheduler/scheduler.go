// Package scheduler implements the Download Queue / Scheduler (§4.10):
// a global bounded pool of worker slots, an in-memory taskId -> Task
// index, enqueue/cancel/get/list operations, and a dispatcher loop that
// hands queued tasks to the Track Orchestrator. Grounded on the
// teacher's internal/downloader/manager.go Manager/worker split, with
// the gorm/sqlite persistence layer dropped (task history beyond
// process lifetime is an explicit non-goal — the in-memory index *is*
// the store) and the yt-dlp/ffmpeg/mpv fallback chain replaced by a
// single call into the Orchestrator.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stormino/vixsrc-downloader/internal/apperrors"
	"github.com/stormino/vixsrc-downloader/internal/fsutil"
	"github.com/stormino/vixsrc-downloader/internal/orchestrator"
	"github.com/stormino/vixsrc-downloader/internal/progressbus"
	"github.com/stormino/vixsrc-downloader/internal/resolver"
	"github.com/stormino/vixsrc-downloader/internal/statemachine"
	"github.com/stormino/vixsrc-downloader/internal/taskmodel"
)

// Config mirrors the download.* keys relevant to scheduling.
type Config struct {
	MoviesPath        string
	TVShowsPath       string
	TempPath          string
	ParallelDownloads int
	DefaultQuality    taskmodel.Quality
	DefaultLanguage   string
}

// EnqueueRequest is the public-facing enqueue input.
type EnqueueRequest struct {
	Kind        taskmodel.Kind
	CatalogueID string
	Season      int
	Episode     int
	Languages   []string
	Quality     taskmodel.Quality
	Priority    int
	RequestedBy string
}

type entry struct {
	task   *taskmodel.Task
	cancel context.CancelFunc
}

// Scheduler owns the in-memory task index and the dispatcher loop.
type Scheduler struct {
	cfg      Config
	resolver *resolver.Resolver
	orch     *orchestrator.Orchestrator
	bus      *progressbus.Bus
	logger   *slog.Logger

	mu     sync.RWMutex
	index  map[string]*entry
	queue  chan string
	sem    chan struct{}
	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New builds a Scheduler. Start must be called to run the dispatcher.
func New(cfg Config, res *resolver.Resolver, orch *orchestrator.Orchestrator, bus *progressbus.Bus, logger *slog.Logger) *Scheduler {
	if cfg.ParallelDownloads <= 0 {
		cfg.ParallelDownloads = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		resolver: res,
		orch:     orch,
		bus:      bus,
		logger:   logger,
		index:    make(map[string]*entry),
		queue:    make(chan string, 1024),
		sem:      make(chan struct{}, cfg.ParallelDownloads),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the dispatcher loop, which pulls the earliest-queued,
// highest-priority task, waits for a semaphore slot, transitions
// QUEUED->EXTRACTING, and hands it to a worker goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.dispatch()
}

// Stop signals the dispatcher to exit and waits for in-flight workers.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case taskID := <-s.queue:
			s.mu.RLock()
			e, ok := s.index[taskID]
			s.mu.RUnlock()
			if !ok {
				continue
			}

			select {
			case s.sem <- struct{}{}:
			case <-s.stopCh:
				return
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer func() { <-s.sem }()
				s.runTask(e)
			}()
		}
	}
}

// Enqueue creates the task, stores it in the in-memory index, and
// returns its id immediately, per §4.10.
func (s *Scheduler) Enqueue(req EnqueueRequest) (string, error) {
	quality := req.Quality
	if quality == "" {
		quality = s.cfg.DefaultQuality
	}
	languages := req.Languages
	if len(languages) == 0 && s.cfg.DefaultLanguage != "" {
		languages = []string{s.cfg.DefaultLanguage}
	}

	task := &taskmodel.Task{
		ID:          uuid.NewString(),
		Kind:        req.Kind,
		CatalogueID: req.CatalogueID,
		Season:      req.Season,
		Episode:     req.Episode,
		Languages:   languages,
		Quality:     quality,
		Status:      taskmodel.StatusQueued,
		Priority:    req.Priority,
		RequestedBy: req.RequestedBy,
		CreatedAt:   time.Now(),
	}
	task.TempDir = fsutil.TaskTempDir(s.cfg.TempPath, task.ID)

	s.mu.Lock()
	s.index[task.ID] = &entry{task: task}
	s.mu.Unlock()

	s.enqueueOrdered(task.ID)
	return task.ID, nil
}

// enqueueOrdered pushes taskID onto the dispatch queue. The queue itself
// is FIFO per §4.10; priority banding (supplemented feature) is applied
// by re-sorting the pending entries each time a task with a non-zero
// priority is enqueued, rather than by a priority
// queue data structure, to keep the dispatcher's core loop identical to
// the spec's plain earliest-queued-first description.
func (s *Scheduler) enqueueOrdered(taskID string) {
	s.mu.RLock()
	newTask := s.index[taskID].task
	s.mu.RUnlock()

	if newTask.Priority == 0 {
		s.queue <- taskID
		return
	}

	// Drain, reorder by priority (desc) then by creation time, and
	// refill. Only ever touches entries already pending dispatch.
	pending := []string{taskID}
drain:
	for {
		select {
		case id := <-s.queue:
			pending = append(pending, id)
		default:
			break drain
		}
	}
	s.mu.RLock()
	sort.SliceStable(pending, func(i, j int) bool {
		ti, tj := s.index[pending[i]].task, s.index[pending[j]].task
		if ti.Priority != tj.Priority {
			return ti.Priority > tj.Priority
		}
		return ti.CreatedAt.Before(tj.CreatedAt)
	})
	s.mu.RUnlock()
	for _, id := range pending {
		s.queue <- id
	}
}

func (s *Scheduler) runTask(e *entry) {
	task := e.task
	if task.Status.IsTerminal() {
		return // cancelled (or otherwise finished) before the dispatcher reached it
	}
	ctx := s.contextFor(e)

	s.setStatus(task, taskmodel.StatusExtracting)
	res, err := s.resolver.Resolve(ctx, resolver.Request{
		CatalogueID: task.CatalogueID,
		Kind:        task.Kind,
		Season:      task.Season,
		Episode:     task.Episode,
		Languages:   task.Languages,
		Quality:     task.Quality,
	})
	if err != nil {
		if _, ok := err.(*apperrors.NotFound); ok {
			s.finish(task, taskmodel.StatusNotFound, err.Error(), nil)
			return
		}
		s.finish(task, taskmodel.StatusFailed, err.Error(), nil)
		return
	}

	s.buildSubTasks(task, res)
	if len(task.SubTasks) == 0 {
		s.finish(task, taskmodel.StatusFailed, "no tracks resolved", mergeMissing(nil, res.MissingAudio, res.MissingSubtitle))
		return
	}

	task.OutputPath = s.outputPathFor(task)

	s.setStatus(task, taskmodel.StatusDownloading)
	result := s.orch.Run(ctx, task, func() { s.setStatus(task, taskmodel.StatusMerging) })

	metadata := mergeMissing(result.Metadata, res.MissingAudio, res.MissingSubtitle)

	switch result.Kind {
	case taskmodel.ResultSuccess:
		s.finish(task, taskmodel.StatusCompleted, "", metadata)
	case taskmodel.ResultCancel:
		s.finish(task, taskmodel.StatusCancelled, "cancelled", metadata)
	case taskmodel.ResultNotFound:
		s.finish(task, taskmodel.StatusNotFound, result.Message, metadata)
	default:
		s.finish(task, taskmodel.StatusFailed, result.Message, metadata)
	}
}

// mergeMissing folds the resolver-level misses (languages/subtitles never
// found in the manifest) into the orchestrator-level misses (sub-tasks
// that were created but failed to download), so metadata.missingLanguages
// and metadata.missingSubtitles reflect both causes per §4.3/§4.5.
func mergeMissing(orchMeta map[string]any, missingAudio, missingSubtitle []string) map[string]any {
	out := make(map[string]any, len(orchMeta))
	for k, v := range orchMeta {
		out[k] = v
	}
	if langs := mergeStrings(asStringSlice(out["missingLanguages"]), missingAudio); len(langs) > 0 {
		out["missingLanguages"] = langs
	}
	if subs := mergeStrings(asStringSlice(out["missingSubtitles"]), missingSubtitle); len(subs) > 0 {
		out["missingSubtitles"] = subs
	}
	return out
}

func asStringSlice(v any) []string {
	s, _ := v.([]string)
	return s
}

func mergeStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (s *Scheduler) buildSubTasks(task *taskmodel.Task, res *resolver.Result) {
	for _, d := range res.Descriptors {
		st := &taskmodel.SubTask{
			ID:          uuid.NewString(),
			TaskID:      task.ID,
			Kind:        d.Kind,
			Language:    d.Language,
			PlaylistURL: d.URL,
			Status:      taskmodel.StatusQueued,
			ETASeconds:  -1,
			CreatedAt:   time.Now(),
		}
		st.TempFilePath = fsutil.SubTaskTempFile(task.TempDir, st.Kind, st.Language, st.OutputExtension())
		task.SubTasks = append(task.SubTasks, st)
	}
}

func (s *Scheduler) outputPathFor(task *taskmodel.Task) string {
	if task.Kind == taskmodel.KindTV {
		return fsutil.TVEpisodePath(s.cfg.TVShowsPath, task.Title, task.Season, task.Episode, task.EpisodeName)
	}
	return fsutil.MoviePath(s.cfg.MoviesPath, task.Title, task.Year)
}

func (s *Scheduler) setStatus(task *taskmodel.Task, to taskmodel.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := statemachine.TransitionOrThrow(task.ID, task.Status, to)
	if err != nil {
		s.logger.Error("illegal scheduler transition", "err", err)
		return
	}
	task.Status = next
	if s.bus != nil {
		s.bus.Publish(taskmodel.ProgressUpdate{TaskID: task.ID, Status: task.Status, Progress: task.Progress, Timestamp: time.Now()})
	}
}

func (s *Scheduler) finish(task *taskmodel.Task, to taskmodel.Status, message string, metadata map[string]any) {
	s.mu.Lock()
	next, err := statemachine.TransitionOrThrow(task.ID, task.Status, to)
	if err != nil {
		s.logger.Error("illegal scheduler transition", "err", err)
		s.mu.Unlock()
		return
	}
	task.Status = next
	task.ErrorMessage = message
	task.Metadata = metadata
	task.CompletedAt = time.Now()
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(taskmodel.ProgressUpdate{
			TaskID: task.ID, Status: task.Status, Progress: task.Progress,
			ErrorMessage: message, Timestamp: time.Now(),
		})
	}
}

func (s *Scheduler) contextFor(e *entry) context.Context {
	// Enqueue creates no context, so e.cancel is nil until here; create a
	// cancellable context owned by this run and store its cancel func so
	// Cancel(taskId) can stop an in-flight run.
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	e.cancel = cancel
	s.mu.Unlock()
	return ctx
}

// Cancel transitions the task toward CANCELLED if its current state
// allows, and fires the cancellation hook the Orchestrator and its
// SubTasks observe.
func (s *Scheduler) Cancel(taskID string) error {
	s.mu.Lock()
	e, ok := s.index[taskID]
	s.mu.Unlock()
	if !ok {
		return &apperrors.NotFound{What: "task " + taskID}
	}

	s.mu.Lock()
	next, err := statemachine.TransitionOrThrow(taskID, e.task.Status, taskmodel.StatusCancelled)
	if err == nil {
		e.task.Status = next
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

// Get returns the task stored in the index, or a NotFound error if
// unknown. The result is the live indexed task, not a copy: later status
// and progress changes show through it.
func (s *Scheduler) Get(taskID string) (*taskmodel.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[taskID]
	if !ok {
		return nil, &apperrors.NotFound{What: "task " + taskID}
	}
	return e.task, nil
}

// List returns every known task ordered by creation time. The entries
// are the live indexed tasks, not copies.
func (s *Scheduler) List() []*taskmodel.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*taskmodel.Task, 0, len(s.index))
	for _, e := range s.index {
		out = append(out, e.task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
