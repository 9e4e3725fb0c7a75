//go:generate mockgen -source=$GOFILE -package=$GOPACKAGE -destination=./mock/$GOFILE

package jobs

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	jobsmodel "github.com/grabwell/grabwell/internal/model/jobs"
	"github.com/grabwell/grabwell/internal/pkg/hub"
	"github.com/grabwell/grabwell/internal/pkg/svc"
)

// Repository provides job orchestration operations.
type Repository interface {
	SubmitJob(ctx context.Context, req *jobsmodel.SubmitJobRequest) (string, error)
	GetJob(ctx context.Context, jobID string) (*jobsmodel.JobSnapshot, error)
	ListJobs(ctx context.Context, limit int) ([]*jobsmodel.JobSnapshot, error)
	CancelJob(ctx context.Context, jobID string) error
	SendInput(ctx context.Context, jobID, line string) error
	SubscribeEvents(ctx context.Context, jobID string, from uint64) (*hub.Subscription, error)
}

// Service provides job related operations.
type Service struct {
	validator *validator.Validate
	tp        trace.Tracer
	repo      Repository
}

// New creates a new jobs service.
func New(validator *validator.Validate, repo Repository) *Service {
	return &Service{
		validator: validator,
		tp:        otel.Tracer(svc.Name()),
		repo:      repo,
	}
}

// SubmitJobRequest holds the request parameters for submitting a new job.
type SubmitJobRequest struct {
	Target         string `validate:"required,url,max=2048"`
	Format         string `validate:"omitempty,max=64"`
	OutputTemplate string `validate:"omitempty,max=256"`
	Priority       int    `validate:"omitempty,min=0,max=9"`
}

// SubmitJob validates and enqueues a new download job.
func (s *Service) SubmitJob(ctx context.Context, req *jobsmodel.SubmitJobRequest) (jobID string, err error) {
	ctx, span := s.tp.Start(ctx, "Service.SubmitJob")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	// Validate the request
	err = s.validator.Struct(&SubmitJobRequest{
		Target:         req.Target,
		Format:         req.Format,
		OutputTemplate: req.OutputTemplate,
		Priority:       req.Priority,
	})
	if err != nil {
		err = status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
		return "", err
	}

	jobID, err = s.repo.SubmitJob(ctx, req)
	if err != nil {
		return "", err
	}

	return jobID, nil
}

// GetJobRequest holds the request parameters for getting a job.
type GetJobRequest struct {
	ID string `validate:"required,uuid"`
}

// GetJob returns the current snapshot of a job.
func (s *Service) GetJob(ctx context.Context, jobID string) (snapshot *jobsmodel.JobSnapshot, err error) {
	ctx, span := s.tp.Start(ctx, "Service.GetJob")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	// Validate the request
	if err = s.validator.Struct(&GetJobRequest{ID: jobID}); err != nil {
		err = status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
		return nil, err
	}

	snapshot, err = s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

// ListJobsRequest holds the request parameters for listing jobs.
type ListJobsRequest struct {
	Limit int `validate:"omitempty,min=1,max=500"`
}

// ListJobs returns snapshots of all known jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, limit int) (snapshots []*jobsmodel.JobSnapshot, err error) {
	ctx, span := s.tp.Start(ctx, "Service.ListJobs")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	// Validate the request
	if err = s.validator.Struct(&ListJobsRequest{Limit: limit}); err != nil {
		err = status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
		return nil, err
	}

	snapshots, err = s.repo.ListJobs(ctx, limit)
	if err != nil {
		return nil, err
	}

	return snapshots, nil
}

// CancelJobRequest holds the request parameters for canceling a job.
type CancelJobRequest struct {
	ID string `validate:"required,uuid"`
}

// CancelJob cancels a queued or running job.
func (s *Service) CancelJob(ctx context.Context, jobID string) (err error) {
	ctx, span := s.tp.Start(ctx, "Service.CancelJob")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	// Validate the request
	if err = s.validator.Struct(&CancelJobRequest{ID: jobID}); err != nil {
		err = status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
		return err
	}

	return s.repo.CancelJob(ctx, jobID)
}

// SendInputRequest holds the request parameters for forwarding input to a
// running job.
type SendInputRequest struct {
	ID   string `validate:"required,uuid"`
	Line string `validate:"required,max=1024"`
}

// SendInput forwards one raw line to a running job's process.
func (s *Service) SendInput(ctx context.Context, jobID, line string) (err error) {
	ctx, span := s.tp.Start(ctx, "Service.SendInput")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	// Validate the request
	if err = s.validator.Struct(&SendInputRequest{ID: jobID, Line: line}); err != nil {
		err = status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
		return err
	}

	return s.repo.SendInput(ctx, jobID, line)
}

// StreamEventsRequest holds the request parameters for streaming job
// events.
type StreamEventsRequest struct {
	ID string `validate:"required,uuid"`
}

// StreamEvents opens a subscription on the job's event stream starting at
// the given sequence number.
func (s *Service) StreamEvents(ctx context.Context, jobID string, from uint64) (sub *hub.Subscription, err error) {
	ctx, span := s.tp.Start(ctx, "Service.StreamEvents")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	// Validate the request
	if err = s.validator.Struct(&StreamEventsRequest{ID: jobID}); err != nil {
		err = status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
		return nil, err
	}

	return s.repo.SubscribeEvents(ctx, jobID, from)
}
