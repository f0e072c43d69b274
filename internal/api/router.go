// Package api is the daemon's control surface: a small chi server for
// triggering executions, killing stuck runs, and inspecting this host's
// schedule and run journal.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wphospital/sprucepy/internal/journal"
	"github.com/wphospital/sprucepy/internal/metrics"
	"github.com/wphospital/sprucepy/internal/runner"
	"github.com/wphospital/sprucepy/internal/scheduler"
)

// TaskExecutor triggers a task execution through the coordination service.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, taskID string) error
}

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	scheduler  *scheduler.Scheduler
	killer     *runner.Killer
	journal    *journal.Journal
	executor   TaskExecutor
	logger     *slog.Logger
	authToken  string
}

// NewServer constructs the HTTP API server.
func NewServer(addr, authToken string, sched *scheduler.Scheduler, killer *runner.Killer, jrnl *journal.Journal, executor TaskExecutor, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		scheduler: sched,
		killer:    killer,
		journal:   jrnl,
		executor:  executor,
		logger:    logger,
		authToken: authToken,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Post("/tasks/{taskID}/execute", s.handleExecute)
		r.Post("/kill", s.handleKill)
		r.Get("/runs", s.handleListRuns)
		r.Post("/schedule/preview", s.handleSchedulePreview)
		r.Get("/schedule/{taskID}", s.handleCurrentSchedule)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
