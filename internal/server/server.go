// File: internal/server/server.go
// Description: HTTP boundary of the focus-group service. Submissions run in
// the background on a server-owned context so that a shutdown lets every
// running session finish its current page and still report.

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
	"github.com/xkilldash9x/focusgroup/internal/orchestrator"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	requestTimeout         = 30 * time.Second
	maxRequestBody         = 1 << 20
)

// Runner submits and executes focus-group tasks.
type Runner interface {
	Submit(req schemas.FocusGroupRequest) (string, error)
	Run(ctx context.Context, taskID string, req schemas.FocusGroupRequest) *orchestrator.Result
}

// StatusSource looks up task snapshots.
type StatusSource interface {
	Get(id string) (schemas.TaskStatus, bool)
}

// Server hosts the focus-group API.
type Server struct {
	cfg    config.ServerConfig
	runner Runner
	status StatusSource
	logger *zap.Logger

	runCtx     context.Context
	cancelRuns context.CancelFunc
	runs       sync.WaitGroup

	mu         sync.Mutex
	closing    bool
	httpServer *http.Server
}

// New creates a Server. The runner and status source are required.
func New(cfg config.ServerConfig, runner Runner, status StatusSource, logger *zap.Logger) (*Server, error) {
	if runner == nil || status == nil {
		return nil, errors.New("server requires a runner and a status source")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		runner:     runner,
		status:     status,
		logger:     logger.Named("server"),
		runCtx:     runCtx,
		cancelRuns: cancel,
	}, nil
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", s.handleHealth)
	r.Post("/analyze/focus-group", s.handleAnalyze)
	r.Post("/analyze/single", s.handleAnalyzeSingle)
	r.Get("/status/{taskID}", s.handleStatus)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondWithError(w, http.StatusNotFound, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondWithError(w, http.StatusMethodNotAllowed, fmt.Sprintf("%s is not allowed here", r.Method))
	})
	return r
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. Background runs are cancelled and awaited within the
// shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("Focus group API listening", zap.String("address", ln.Addr().String()))
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		s.cancelRuns()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("focus group API stopped: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down focus group API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := s.Shutdown(shutdownCtx)
	<-serveErr
	return err
}

// Shutdown stops accepting requests, cancels running focus groups and waits
// for them to write their partial reports.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	srv := s.httpServer
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	s.cancelRuns()
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("focus groups still running: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// start runs a submitted task in the background. A task accepted while the
// server began closing runs inline on the cancelled context so that it still
// reaches a terminal state.
func (s *Server) start(taskID string, req schemas.FocusGroupRequest) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.run(taskID, req)
		return
	}
	s.runs.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.runs.Done()
		s.run(taskID, req)
	}()
}

func (s *Server) run(taskID string, req schemas.FocusGroupRequest) {
	res := s.runner.Run(s.runCtx, taskID, req)
	if res != nil && res.Failed() {
		s.logger.Warn("Focus group failed", zap.String("task_id", taskID), zap.String("error", res.Error.Message))
		return
	}
	s.logger.Info("Focus group finished", zap.String("task_id", taskID))
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("Request served",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}
