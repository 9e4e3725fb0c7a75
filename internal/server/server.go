//go:generate mockgen -source=$GOFILE -package=$GOPACKAGE -destination=./mock/$GOFILE

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	jobsmodel "github.com/grabwell/grabwell/internal/model/jobs"
	"github.com/grabwell/grabwell/internal/pkg/hub"
	"github.com/grabwell/grabwell/internal/pkg/logger"
	svcpkg "github.com/grabwell/grabwell/internal/pkg/svc"
)

const defaultShutdownTimeout = 10 * time.Second

// JobsService provides job related operations.
type JobsService interface {
	SubmitJob(ctx context.Context, req *jobsmodel.SubmitJobRequest) (string, error)
	GetJob(ctx context.Context, jobID string) (*jobsmodel.JobSnapshot, error)
	ListJobs(ctx context.Context, limit int) ([]*jobsmodel.JobSnapshot, error)
	CancelJob(ctx context.Context, jobID string) error
	SendInput(ctx context.Context, jobID, line string) error
	StreamEvents(ctx context.Context, jobID string, from uint64) (*hub.Subscription, error)
}

// Config represents the configuration of the HTTP server.
type Config struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	RequestBodyLimit  int64
}

// Server implements the HTTP server.
type Server struct {
	logger           *zap.Logger
	tp               trace.Tracer
	jobs             JobsService
	httpServer       *http.Server
	requestBodyLimit int64
}

// New creates a new HTTP server.
//
// The write timeout is intentionally left unset: the events endpoint holds
// its response open for the lifetime of a job.
func New(ctx context.Context, cfg *Config, jobs JobsService) *Server {
	srv := &Server{
		logger: logger.FromContext(ctx),
		tp:     otel.Tracer(svcpkg.Name()),
		jobs:   jobs,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		requestBodyLimit: cfg.RequestBodyLimit,
	}

	router := http.NewServeMux()
	srv.registerRoutes(router)
	srv.httpServer.Handler = srv.withOtelMiddleware(router)
	return srv
}

// registerRoutes registers the HTTP routes.
func (s *Server) registerRoutes(router *http.ServeMux) {
	router.HandleFunc(
		"GET /healthz",
		s.handleHealthz,
	)
	router.HandleFunc(
		"POST /jobs",
		s.withRequestBodyLimit(s.handleSubmitJob),
	)
	router.HandleFunc(
		"GET /jobs",
		s.handleListJobs,
	)
	router.HandleFunc(
		"GET /jobs/{job_id}",
		s.handleGetJob,
	)
	router.HandleFunc(
		"POST /jobs/{job_id}/cancel",
		s.handleCancelJob,
	)
	router.HandleFunc(
		"POST /jobs/{job_id}/input",
		s.withRequestBodyLimit(s.handleSendInput),
	)
	router.HandleFunc(
		"GET /jobs/{job_id}/events",
		s.handleStreamJobEvents,
	)
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until ctx is canceled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.logger.Info("http server started", zap.String("addr", s.httpServer.Addr))

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown failed", zap.Error(err))
		return err
	}

	s.logger.Info("http server gracefully stopped")
	return nil
}
