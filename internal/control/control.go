// Package control implements the orchestrator's HTTP control surface:
// start/stop/status/force-sync/logs, gated by the bearer-auth guard in
// internal/auth.
package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/corvidwave/foreman/internal/auth"
	"github.com/corvidwave/foreman/internal/manager"
	"github.com/corvidwave/foreman/internal/planner"
	"github.com/corvidwave/foreman/internal/worker"
)

// Server exposes the orchestrator's control surface operations over HTTP.
// It does not own the Planner/Manager's construction, only their lifecycle
// once built: start/stop begin or cancel their run loops.
type Server struct {
	planner        *planner.Planner
	mgr            *manager.Manager
	authHandler    *auth.Handler
	retireInterval time.Duration
	logPath        string
	logger         *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a control Server. retireInterval drives the Manager's idle
// worker reaper for as long as the
// orchestrator is running.
func New(p *planner.Planner, mgr *manager.Manager, authHandler *auth.Handler, retireInterval time.Duration, logPath string, logger *slog.Logger) *Server {
	return &Server{
		planner:        p,
		mgr:            mgr,
		authHandler:    authHandler,
		retireInterval: retireInterval,
		logPath:        logPath,
		logger:         logger,
	}
}

// Routes builds the chi router: /auth/* is open, everything else requires a
// valid bearer token.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestUUID)
	r.Use(middleware.Recoverer)

	s.authHandler.Mount(r)

	r.Group(func(protected chi.Router) {
		protected.Use(s.authHandler.Middleware)
		protected.Get("/status", s.handleStatus)
		protected.Post("/start", s.handleStart)
		protected.Post("/stop", s.handleStop)
		protected.Post("/force-sync", s.handleForceSync)
		protected.Get("/logs", s.handleGetLogs)
		protected.Get("/logs/stream", s.handleLogStream)
	})

	return r
}

// requestUUID stamps every request with a uuid-based id, independent of
// chi's own short request-id counter, so responses can be correlated
// across daemon restarts.
func requestUUID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

// statusResponse is the JSON body for GET /status.
type statusResponse struct {
	Running bool              `json:"running"`
	Pool    manager.Summary   `json:"pool"`
	Workers []worker.Progress `json:"workers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, statusResponse{
		Running: running,
		Pool:    s.mgr.GetPoolSummary(),
		Workers: s.mgr.GetAllWorkers(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		writeJSON(w, http.StatusOK, map[string]string{"message": "already running"})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	done := s.done
	go func() {
		defer close(done)
		var g errgroup.Group
		g.Go(func() error { s.planner.Run(ctx); return nil })
		g.Go(func() error { s.mgr.Run(ctx, s.retireInterval); return nil })
		g.Wait()
	}()

	s.logger.Info("orchestrator started")
	writeJSON(w, http.StatusOK, map[string]string{"message": "started"})
}

// shutdownWindow bounds how long handleStop waits for the run loops to
// observe cancellation before returning anyway.
const shutdownWindow = 15 * time.Second

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "already stopped"})
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-time.After(shutdownWindow):
		s.logger.Warn("shutdown window elapsed before run loops exited")
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("orchestrator stopped")
	writeJSON(w, http.StatusOK, map[string]string{"message": "stopped"})
}

func (s *Server) handleForceSync(w http.ResponseWriter, r *http.Request) {
	if err := s.planner.ForceSync(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "tick completed"})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
