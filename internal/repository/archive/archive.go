package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	jobsmodel "github.com/grabwell/grabwell/internal/model/jobs"
	"github.com/grabwell/grabwell/internal/pkg/postgres"
	svcpkg "github.com/grabwell/grabwell/internal/pkg/svc"
)

const (
	retryAttempts = 3
	retryBackoff  = 100 * time.Millisecond
)

// Repository provides the archived jobs repository. Terminal job records
// are written here before the in-memory registry evicts them, so finished
// jobs stay queryable past the retention window.
type Repository struct {
	tp trace.Tracer
	pg *postgres.Postgres
	re *retrier.Retrier
}

// New creates a new archive repository.
func New(pg *postgres.Postgres) *Repository {
	return &Repository{
		tp: otel.Tracer(svcpkg.Name()),
		pg: pg,
		re: retrier.New(retrier.ExponentialBackoff(retryAttempts, retryBackoff), nil),
	}
}

// InitSchema creates the archive table and its retention index when they
// do not exist yet. Anything beyond this single table stays out of
// process.
func (r *Repository) InitSchema(ctx context.Context) (err error) {
	ctx, span := r.tp.Start(ctx, "Repository.InitSchema")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	// One statement per Exec, since the extended query protocol rejects
	// multi-statement strings.
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				target TEXT NOT NULL,
				status TEXT NOT NULL,
				ended_at TIMESTAMPTZ NOT NULL,
				snapshot JSONB NOT NULL
			)
		`, postgres.TableArchivedJobs),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s_ended_at_idx ON %s (ended_at)
		`, postgres.TableArchivedJobs, postgres.TableArchivedJobs),
	}

	for _, query := range statements {
		if _, err = r.pg.Exec(ctx, query); err != nil {
			return status.Errorf(codes.Internal, "failed to initialize archive schema: %v", err)
		}
	}

	return nil
}

// ArchiveJob persists the terminal snapshot of a job. Archiving the same
// job twice is a no-op.
func (r *Repository) ArchiveJob(ctx context.Context, snapshot *jobsmodel.JobSnapshot) (err error) {
	ctx, span := r.tp.Start(ctx, "Repository.ArchiveJob")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	if !snapshot.Status.IsTerminal() {
		return status.Errorf(codes.FailedPrecondition, "job %s is not terminal", snapshot.ID)
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to encode snapshot: %v", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, target, status, ended_at, snapshot)
		VALUES ($1, $2, $3, $4, $5)
	`, postgres.TableArchivedJobs)

	err = r.re.RunCtx(ctx, func(ctx context.Context) error {
		_, execErr := r.pg.Exec(ctx, query, snapshot.ID, snapshot.Request.Target, snapshot.Status.ToString(), snapshot.EndedAt, payload)
		if execErr != nil && r.pg.IsUniqueViolation(execErr) {
			// Already archived.
			return nil
		}
		return execErr
	})
	if err != nil {
		return status.Errorf(codes.Internal, "failed to archive job: %v", err)
	}

	return nil
}

// GetArchivedJob returns the archived snapshot of a job.
func (r *Repository) GetArchivedJob(ctx context.Context, jobID string) (snapshot *jobsmodel.JobSnapshot, err error) {
	ctx, span := r.tp.Start(ctx, "Repository.GetArchivedJob")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	query := fmt.Sprintf(`
		SELECT snapshot
		FROM %s
		WHERE id = $1
	`, postgres.TableArchivedJobs)

	var payload []byte
	if err = r.pg.QueryRow(ctx, query, jobID).Scan(&payload); err != nil {
		if r.pg.IsNoRows(err) {
			return nil, status.Errorf(codes.NotFound, "job %s not found", jobID)
		}
		return nil, status.Errorf(codes.Internal, "failed to read archived job: %v", err)
	}

	snapshot = &jobsmodel.JobSnapshot{}
	if err = json.Unmarshal(payload, snapshot); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to decode snapshot: %v", err)
	}

	return snapshot, nil
}

// ListArchivedJobs returns the most recently finished archived snapshots.
func (r *Repository) ListArchivedJobs(ctx context.Context, limit int) (snapshots []*jobsmodel.JobSnapshot, err error) {
	ctx, span := r.tp.Start(ctx, "Repository.ListArchivedJobs")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	query := fmt.Sprintf(`
		SELECT snapshot
		FROM %s
		ORDER BY ended_at DESC
		LIMIT $1
	`, postgres.TableArchivedJobs)

	rows, err := r.pg.Query(ctx, query, limit)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to list archived jobs: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err = rows.Scan(&payload); err != nil {
			return nil, status.Errorf(codes.Internal, "failed to scan archived job: %v", err)
		}

		snapshot := &jobsmodel.JobSnapshot{}
		if err = json.Unmarshal(payload, snapshot); err != nil {
			return nil, status.Errorf(codes.Internal, "failed to decode snapshot: %v", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err = rows.Err(); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to list archived jobs: %v", err)
	}

	return snapshots, nil
}

// DeleteExpired removes archived snapshots that finished before the cutoff
// and returns how many were removed.
func (r *Repository) DeleteExpired(ctx context.Context, cutoff time.Time) (deleted int64, err error) {
	ctx, span := r.tp.Start(ctx, "Repository.DeleteExpired")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE ended_at < $1
	`, postgres.TableArchivedJobs)

	tag, err := r.pg.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, status.Errorf(codes.Internal, "failed to delete expired jobs: %v", err)
	}

	return tag.RowsAffected(), nil
}
