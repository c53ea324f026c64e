// Package api exposes the read-only HTTP interface over run snapshots.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ahenriksson/bowatch/internal/listing"
	"github.com/ahenriksson/bowatch/internal/metrics"
	"github.com/ahenriksson/bowatch/internal/snapshot"
)

// Server serves the most recent snapshot and its change events.
type Server struct {
	router      chi.Router
	store       listing.SnapshotStore
	snapshotDir string
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store listing.SnapshotStore, snapshotDir string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:       store,
		snapshotDir: snapshotDir,
		logger:      logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/snapshot", s.getSnapshot)
	r.Get("/snapshot/changes", s.getChanges)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getChanges(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"runId":   snap.Meta.RunID,
		"changes": snap.Changes,
	})
}

// latest loads the newest snapshot on disk, writing the error response
// itself when none is available.
func (s *Server) latest(w http.ResponseWriter) (*listing.Snapshot, bool) {
	path, err := snapshot.Latest(s.snapshotDir, "")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return nil, false
	}
	if path == "" {
		s.writeError(w, http.StatusNotFound, "no snapshot available")
		return nil, false
	}
	snap, err := s.store.Load(path)
	if err != nil {
		s.logger.Error("snapshot load failed", zap.String("path", path), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return nil, false
	}
	return snap, true
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
