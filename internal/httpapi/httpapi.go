// Package httpapi is the thin public REST/WebSocket surface spec.md
// treats as an external collaborator: it adapts the scheduler's
// Enqueue/Cancel/Get/List and the progress bus to HTTP, so the core is
// exercised end to end without the core depending on this package.
// Grounded on the rest of the pack's use of gorilla/mux for routing and
// gorilla/websocket for streaming (noisefs, tachyon).
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stormino/vixsrc-downloader/internal/apperrors"
	"github.com/stormino/vixsrc-downloader/internal/progressbus"
	"github.com/stormino/vixsrc-downloader/internal/progressmath"
	"github.com/stormino/vixsrc-downloader/internal/scheduler"
	"github.com/stormino/vixsrc-downloader/internal/taskmodel"
)

// progressEnvelope wraps a ProgressUpdate with the human-readable
// fields the wire envelope (§8) exposes alongside the raw numbers.
type progressEnvelope struct {
	taskmodel.ProgressUpdate
	HumanSpeed      string `json:"humanSpeed"`
	HumanDownloaded string `json:"humanDownloaded"`
	HumanETA        string `json:"humanEta"`
}

func toEnvelope(update taskmodel.ProgressUpdate) progressEnvelope {
	return progressEnvelope{
		ProgressUpdate:  update,
		HumanSpeed:      progressmath.FormatSpeed(update.DownloadSpeed),
		HumanDownloaded: progressmath.FormatBytes(update.DownloadedBytes),
		HumanETA:        progressmath.FormatETA(update.ETASeconds),
	}
}

// Server wires the scheduler and progress bus to an HTTP router.
type Server struct {
	scheduler *scheduler.Scheduler
	bus       *progressbus.Bus
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// New builds a Server. Call Handler to get the http.Handler to mount.
func New(sched *scheduler.Scheduler, bus *progressbus.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		scheduler: sched,
		bus:       bus,
		logger:    logger,
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Handler builds the mux router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/tasks", s.createTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks", s.listTasks).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}", s.getTask).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}", s.cancelTask).Methods(http.MethodDelete)
	r.HandleFunc("/tasks/{id}/progress", s.streamProgress)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type createTaskRequest struct {
	Kind        string   `json:"kind"`
	CatalogueID string   `json:"catalogueId"`
	Season      int      `json:"season,omitempty"`
	Episode     int      `json:"episode,omitempty"`
	Languages   []string `json:"languages,omitempty"`
	Quality     string   `json:"quality,omitempty"`
	Priority    int      `json:"priority,omitempty"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := s.scheduler.Enqueue(scheduler.EnqueueRequest{
		Kind:        taskmodel.Kind(req.Kind),
		CatalogueID: req.CatalogueID,
		Season:      req.Season,
		Episode:     req.Episode,
		Languages:   req.Languages,
		Quality:     taskmodel.Quality(req.Quality),
		Priority:    req.Priority,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": id})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.List())
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.scheduler.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.scheduler.Cancel(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamProgress upgrades to a WebSocket and forwards every progress
// update for the requested task until the connection closes.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	unsub := s.bus.Subscribe(func(update taskmodel.ProgressUpdate) {
		if update.TaskID != id {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(toEnvelope(update)); err != nil {
			return
		}
	})
	defer unsub()

	// Block until the client disconnects; reads are discarded, this
	// socket is send-only from the server's perspective.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var notFound *apperrors.NotFound
	if ok := asNotFound(err, &notFound); ok {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func asNotFound(err error, target **apperrors.NotFound) bool {
	nf, ok := err.(*apperrors.NotFound)
	if ok {
		*target = nf
	}
	return ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
