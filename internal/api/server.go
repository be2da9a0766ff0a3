// Package api exposes the task registry and detection log over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/roach88/motionguard/internal/capture"
	"github.com/roach88/motionguard/internal/store"
	"github.com/roach88/motionguard/internal/task"
)

// maxDetectionsLimit caps GET /detections?limit=.
const maxDetectionsLimit = 500

// Server serves the detection API.
type Server struct {
	tasks     *task.Registry
	run       task.RunFunc
	journal   *store.Journal
	mirror    store.Mirror
	artifacts *capture.ArtifactStore
}

// NewServer returns a server that starts run for every detection request.
// mirror may be nil; detections are then read from the journal.
func NewServer(tasks *task.Registry, run task.RunFunc, journal *store.Journal, mirror store.Mirror, artifacts *capture.ArtifactStore) *Server {
	return &Server{
		tasks:     tasks,
		run:       run,
		journal:   journal,
		mirror:    mirror,
		artifacts: artifacts,
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /start-detection", s.handleStartDetection)
	mux.HandleFunc("GET /tasks", s.handleTasks)
	mux.HandleFunc("GET /task-status/{id}", s.handleTaskStatus)
	mux.HandleFunc("GET /task-results/{id}", s.handleTaskResults)
	mux.HandleFunc("GET /task-logs/{id}", s.handleTaskLogs)
	mux.HandleFunc("GET /detections", s.handleDetections)
	mux.HandleFunc("GET /detections/latest-alert", s.handleLatestAlert)
	mux.HandleFunc("GET /detections/latest-capture", s.handleLatestCapture)
	return withLogging(mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Intruder Detection API is running."))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartDetection(w http.ResponseWriter, _ *http.Request) {
	id, err := s.tasks.Submit(s.run)
	if err != nil {
		slog.Error("start detection failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, StartResponse{TaskID: id, Status: "Task started."})
}

func (s *Server) handleTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, TasksResponse{Tasks: s.tasks.List()})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Status(r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: t.Status, Message: t.Message, Result: t.Result})
}

func (s *Server) handleTaskResults(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Result(r.PathValue("id"))
	if errors.Is(err, task.ErrFailed) {
		writeError(w, http.StatusInternalServerError, t.Message)
		return
	}
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{
		Status:          t.Status,
		Message:         t.Message,
		DetectionResult: t.Result,
	})
}

func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.tasks.Logs(r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if logs == nil {
		logs = []string{}
	}
	writeJSON(w, http.StatusOK, LogsResponse{Logs: logs})
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxDetectionsLimit)
	}

	if s.mirror != nil {
		records, err := s.mirror.Recent(r.Context(), limit)
		if err == nil {
			writeJSON(w, http.StatusOK, DetectionsResponse{Source: s.mirror.Name(), Detections: toDetections(records)})
			return
		}
		slog.Warn("mirror read failed, falling back to journal", "mirror", s.mirror.Name(), "error", err)
	}

	records, err := s.journal.Tail(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Journal order is oldest first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	writeJSON(w, http.StatusOK, DetectionsResponse{Source: "journal", Detections: toDetections(records)})
}

func (s *Server) handleLatestAlert(w http.ResponseWriter, _ *http.Request) {
	rec, err := s.journal.LatestAlert()
	if errors.Is(err, store.ErrNoRecords) {
		writeError(w, http.StatusNotFound, "no alerts recorded")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toDetection(rec))
}

func (s *Server) handleLatestCapture(w http.ResponseWriter, _ *http.Request) {
	a, err := s.artifacts.Latest()
	if errors.Is(err, capture.ErrNoArtifacts) {
		writeError(w, http.StatusNotFound, "no captured images")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CaptureResponse{ImagePath: a.Path, ModifiedAt: a.ModTime, Size: a.Size})
}

// writeTaskError maps registry errors: unknown ids are 404 and unfinished
// tasks 409.
func writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, task.ErrStillRunning):
		writeError(w, http.StatusConflict, "Task not completed yet.")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusRecorder captures the response code for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
