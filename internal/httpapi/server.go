// Package httpapi exposes job triggers and the durable progress records over HTTP
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/takak2166/notionsnap/internal/jobs"
	"github.com/takak2166/notionsnap/internal/logger"
	"github.com/takak2166/notionsnap/internal/models"
	"github.com/takak2166/notionsnap/internal/store"
)

// maxBody caps trigger payloads
const maxBody = 1 << 20

// Enqueuer publishes raw triggers
type Enqueuer interface {
	EnqueueJSON(ctx context.Context, kind models.JobKind, body []byte) (string, error)
}

// Records reads the durable job records
type Records interface {
	GetRestore(ctx context.Context, restoreID string) (models.RestoreJob, error)
	GetDiff(ctx context.Context, jobID string) (models.DiffResult, error)
	GetSnapshotRun(ctx context.Context, runID string) (models.SnapshotRun, error)
	ListSnapshots(ctx context.Context, userID string) ([]models.Snapshot, error)
}

// Server routes API requests
type Server struct {
	enqueuer Enqueuer
	records  Records
	metrics  http.Handler
}

// New creates a Server. A nil metrics handler leaves /metrics unrouted.
func New(enqueuer Enqueuer, records Records, metrics http.Handler) *Server {
	return &Server{enqueuer: enqueuer, records: records, metrics: metrics}
}

// Router builds the chi router
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs/{kind}", s.handleEnqueue)
		r.Get("/snapshot-runs/{id}", s.handleSnapshotRun)
		r.Get("/snapshots/{userID}", s.handleSnapshots)
		r.Get("/diffs/{id}", s.handleDiff)
		r.Get("/restores/{id}", s.handleRestore)
	})
	return r
}

// ListenAndServe serves until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", map[string]interface{}{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	kind := models.JobKind(chi.URLParam(r, "kind"))
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.enqueuer.EnqueueJSON(r.Context(), kind, body)
	if errors.Is(err, jobs.ErrInvalidPayload) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		logger.Error("Failed to enqueue job", err, map[string]interface{}{"kind": kind})
		writeError(w, http.StatusInternalServerError, errors.New("failed to enqueue job"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "kind": string(kind)})
}

func (s *Server) handleSnapshotRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.records.GetSnapshotRun(r.Context(), chi.URLParam(r, "id"))
	respond(w, run, err)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.records.ListSnapshots(r.Context(), chi.URLParam(r, "userID"))
	if snaps == nil && err == nil {
		snaps = []models.Snapshot{}
	}
	respond(w, snaps, err)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	res, err := s.records.GetDiff(r.Context(), chi.URLParam(r, "id"))
	respond(w, res, err)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	job, err := s.records.GetRestore(r.Context(), chi.URLParam(r, "id"))
	respond(w, job, err)
}

func respond(w http.ResponseWriter, v interface{}, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		logger.Error("Failed to read record", err, nil)
		writeError(w, http.StatusInternalServerError, errors.New("failed to read record"))
	default:
		writeJSON(w, http.StatusOK, v)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to write response", err, nil)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("HTTP request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		})
	})
}
