package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	jobsmodel "github.com/grabwell/grabwell/internal/model/jobs"
	"github.com/grabwell/grabwell/internal/pkg/hub"
	"github.com/grabwell/grabwell/internal/pkg/logger"
	"github.com/grabwell/grabwell/internal/pkg/parser"
	"github.com/grabwell/grabwell/internal/pkg/redis"
	"github.com/grabwell/grabwell/internal/pkg/runner"
	svcpkg "github.com/grabwell/grabwell/internal/pkg/svc"
	"github.com/grabwell/grabwell/internal/pkg/utils"
)

const (
	defaultWorkers          = 2
	defaultQueueCapacity    = 64
	defaultRetentionPeriod  = time.Hour
	defaultJanitorInterval  = time.Minute
	defaultArchiveRetention = 30 * 24 * time.Hour

	// cancelAckTimeout bounds how long a cancel request waits for the
	// process to actually go away before returning.
	cancelAckTimeout = time.Second

	// mirrorTimeout bounds the best-effort event mirror publish.
	mirrorTimeout = time.Second

	archiveTimeout = 10 * time.Second
)

// Config represents the jobs repository constants configuration.
type Config struct {
	// Workers is the number of jobs executed concurrently.
	Workers int
	// QueueCapacity bounds how many jobs may wait for a worker.
	QueueCapacity int
	// RetentionPeriod is how long terminal records stay in memory.
	RetentionPeriod time.Duration
	// JanitorInterval is how often expired records are evicted.
	JanitorInterval time.Duration
	// ArchiveRetentionPeriod is how long archived snapshots are kept.
	ArchiveRetentionPeriod time.Duration
}

// CommandBuilder builds tool invocations from validated submissions.
type CommandBuilder interface {
	BuildCommand(req *jobsmodel.SubmitJobRequest) (*runner.Command, error)
	Redact(line string) string
}

// Archiver persists terminal job snapshots beyond the retention window.
type Archiver interface {
	ArchiveJob(ctx context.Context, snapshot *jobsmodel.JobSnapshot) error
	GetArchivedJob(ctx context.Context, jobID string) (*jobsmodel.JobSnapshot, error)
	ListArchivedJobs(ctx context.Context, limit int) ([]*jobsmodel.JobSnapshot, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// record is the mutable state of one job. Its mutex guards every mutable
// field; the ID, request and command are set once at submission.
type record struct {
	mu sync.Mutex

	id  string
	req *jobsmodel.SubmitJobRequest
	cmd *runner.Command
	seq uint64

	status      jobsmodel.JobStatus
	progress    jobsmodel.Progress
	exit        *jobsmodel.ExitInfo
	destination string
	createdAt   time.Time
	startedAt   time.Time
	endedAt     time.Time

	proc      *runner.Process
	cancelRun context.CancelFunc

	// done is closed when the record reaches a terminal status.
	done chan struct{}
}

// Repository provides the jobs repository: the in-memory registry, the
// bounded scheduling queue and the worker pool that supervises tool
// executions.
type Repository struct {
	tp  trace.Tracer
	cfg *Config

	runner  *runner.Runner
	builder CommandBuilder
	hub     *hub.Hub
	rdb     *redis.Store
	archive Archiver

	mu      sync.RWMutex
	records map[string]*record
	order   []string

	qmu     sync.Mutex
	queue   []*record
	nextSeq uint64
	queued  atomic.Int64

	// tokens carries one wakeup per enqueued job. Workers block here.
	tokens chan struct{}
}

// New creates a new jobs repository. The redis store and the archiver are
// optional and may be nil.
func New(cfg *Config, r *runner.Runner, builder CommandBuilder, h *hub.Hub, rdb *redis.Store, archive Archiver) *Repository {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = defaultRetentionPeriod
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = defaultJanitorInterval
	}
	if cfg.ArchiveRetentionPeriod <= 0 {
		cfg.ArchiveRetentionPeriod = defaultArchiveRetention
	}

	return &Repository{
		tp:      otel.Tracer(svcpkg.Name()),
		cfg:     cfg,
		runner:  r,
		builder: builder,
		hub:     h,
		rdb:     rdb,
		archive: archive,
		records: make(map[string]*record),
		tokens:  make(chan struct{}, cfg.QueueCapacity),
	}
}

// Run starts the worker pool and the retention janitor and blocks until
// ctx is canceled. Jobs still running at shutdown are terminated by their
// own execution contexts; Run waits for them to reach a terminal state.
func (r *Repository) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for range r.cfg.Workers {
		g.Go(func() error {
			r.worker(gctx)
			return nil
		})
	}
	g.Go(func() error {
		r.janitor(gctx)
		return nil
	})

	err := g.Wait()
	r.drain()
	return err
}

// drain waits for every running job to reach a terminal state. The
// execution contexts are already canceled, so this is bounded by the
// runner's grace period.
func (r *Repository) drain() {
	r.mu.RLock()
	var pending []*record
	for _, rec := range r.records {
		rec.mu.Lock()
		if rec.status == jobsmodel.JobStatusRunning {
			pending = append(pending, rec)
		}
		rec.mu.Unlock()
	}
	r.mu.RUnlock()

	for _, rec := range pending {
		utils.WaitDone(rec.done)
	}
}

// SubmitJob validates the submission against the tool, enqueues the job
// and returns its ID. It fails with ResourceExhausted when the queue is
// full.
func (r *Repository) SubmitJob(ctx context.Context, req *jobsmodel.SubmitJobRequest) (jobID string, err error) {
	ctx, span := r.tp.Start(ctx, "Repository.SubmitJob")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	cmd, err := r.builder.BuildCommand(req)
	if err != nil {
		return "", err
	}

	// Reserve a queue slot up front. The reservation keeps the queued count
	// at or below capacity even under concurrent submissions, which in turn
	// guarantees a dropped wakeup token below is covered by a pending one.
	for {
		n := r.queued.Load()
		if n >= int64(r.cfg.QueueCapacity) {
			return "", status.Error(codes.ResourceExhausted, "job queue is full")
		}
		if r.queued.CompareAndSwap(n, n+1) {
			break
		}
	}

	rec := &record{
		id:        uuid.NewString(),
		req:       req,
		cmd:       cmd,
		status:    jobsmodel.JobStatusQueued,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}

	r.hub.Register(rec.id)

	r.mu.Lock()
	r.records[rec.id] = rec
	r.order = append(r.order, rec.id)
	r.mu.Unlock()

	r.qmu.Lock()
	r.nextSeq++
	rec.seq = r.nextSeq
	r.queue = append(r.queue, rec)
	r.qmu.Unlock()

	r.publish(ctx, rec.id, jobsmodel.JobEvent{
		Kind:  jobsmodel.EventKindState,
		State: &jobsmodel.StateEvent{Status: jobsmodel.JobStatusQueued},
	})

	select {
	case r.tokens <- struct{}{}:
	default:
		// The token channel matches queue capacity, so a dropped token
		// means another token is already pending for this slot.
	}

	return rec.id, nil
}

// GetJob returns a snapshot of the job, falling back to the archive for
// records already evicted from memory.
func (r *Repository) GetJob(ctx context.Context, jobID string) (snapshot *jobsmodel.JobSnapshot, err error) {
	ctx, span := r.tp.Start(ctx, "Repository.GetJob")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	r.mu.RLock()
	rec, ok := r.records[jobID]
	r.mu.RUnlock()
	if ok {
		return r.snapshot(rec), nil
	}

	if r.archive != nil {
		return r.archive.GetArchivedJob(ctx, jobID)
	}

	return nil, status.Errorf(codes.NotFound, "job %s not found", jobID)
}

// ListJobs returns snapshots of all known jobs, newest first. Archived
// jobs no longer in memory are appended when an archive is configured.
func (r *Repository) ListJobs(ctx context.Context, limit int) (snapshots []*jobsmodel.JobSnapshot, err error) {
	ctx, span := r.tp.Start(ctx, "Repository.ListJobs")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	r.mu.RLock()
	live := make(map[string]struct{}, len(r.records))
	for i := len(r.order) - 1; i >= 0; i-- {
		rec, ok := r.records[r.order[i]]
		if !ok {
			continue
		}
		live[rec.id] = struct{}{}
		snapshots = append(snapshots, r.snapshot(rec))
	}
	r.mu.RUnlock()

	if r.archive != nil && (limit <= 0 || len(snapshots) < limit) {
		archiveLimit := defaultQueueCapacity
		if limit > 0 {
			archiveLimit = limit - len(snapshots)
		}
		archived, archiveErr := r.archive.ListArchivedJobs(ctx, archiveLimit)
		if archiveErr != nil {
			logger.FromContext(ctx).Warn("failed to list archived jobs", zap.Error(archiveErr))
		}
		for _, archivedSnapshot := range archived {
			if _, ok := live[archivedSnapshot.ID]; ok {
				continue
			}
			snapshots = append(snapshots, archivedSnapshot)
		}
	}

	if limit > 0 && len(snapshots) > limit {
		snapshots = snapshots[:limit]
	}
	return snapshots, nil
}

// CancelJob cancels a queued or running job. Canceling a queued job
// guarantees its process is never spawned; canceling a running job
// terminates the process. Terminal jobs cannot be canceled.
func (r *Repository) CancelJob(ctx context.Context, jobID string) (err error) {
	ctx, span := r.tp.Start(ctx, "Repository.CancelJob")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	r.mu.RLock()
	rec, ok := r.records[jobID]
	r.mu.RUnlock()
	if !ok {
		return status.Errorf(codes.NotFound, "job %s not found", jobID)
	}

	rec.mu.Lock()
	switch {
	case rec.status.IsTerminal():
		rec.mu.Unlock()
		return status.Errorf(codes.FailedPrecondition, "job %s is already %s", jobID, rec.status.ToString())
	case rec.status == jobsmodel.JobStatusQueued:
		err = r.transitionLocked(ctx, rec, jobsmodel.JobStatusCanceled, &jobsmodel.ExitInfo{
			ErrorClass: jobsmodel.ErrorClassCanceled,
			Summary:    "canceled before execution",
		})
		rec.mu.Unlock()
		return err
	default:
		cancelRun := rec.cancelRun
		rec.mu.Unlock()
		if cancelRun != nil {
			cancelRun()
		}
	}

	// Give the process a moment to die so an immediate follow-up read
	// observes the terminal state; past this, cancellation completes
	// asynchronously.
	utils.WaitDoneTimeout(rec.done, cancelAckTimeout)

	return nil
}

// SendInput forwards one raw line to the stdin of a running job's process.
func (r *Repository) SendInput(ctx context.Context, jobID, line string) (err error) {
	_, span := r.tp.Start(ctx, "Repository.SendInput")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	r.mu.RLock()
	rec, ok := r.records[jobID]
	r.mu.RUnlock()
	if !ok {
		return status.Errorf(codes.NotFound, "job %s not found", jobID)
	}

	rec.mu.Lock()
	proc := rec.proc
	running := rec.status == jobsmodel.JobStatusRunning
	rec.mu.Unlock()

	if !running || proc == nil {
		return status.Errorf(codes.FailedPrecondition, "job %s is not running", jobID)
	}

	return proc.Input(line)
}

// SubscribeEvents opens a subscription on the job's event stream starting
// at the given sequence number.
func (r *Repository) SubscribeEvents(ctx context.Context, jobID string, from uint64) (sub *hub.Subscription, err error) {
	_, span := r.tp.Start(ctx, "Repository.SubscribeEvents")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	return r.hub.Subscribe(jobID, from)
}

// worker pops runnable jobs and executes them one at a time.
func (r *Repository) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.tokens:
		}

		rec := r.pop()
		if rec == nil {
			continue
		}
		r.execute(ctx, rec)
	}
}

// pop removes and returns the best runnable queued record: highest
// priority first, submission order within a priority. Records canceled
// while queued are discarded along the way.
func (r *Repository) pop() *record {
	r.qmu.Lock()
	defer r.qmu.Unlock()

	for len(r.queue) > 0 {
		best := 0
		for i, rec := range r.queue[1:] {
			if rec.req.Priority > r.queue[best].req.Priority ||
				(rec.req.Priority == r.queue[best].req.Priority && rec.seq < r.queue[best].seq) {
				best = i + 1
			}
		}

		rec := r.queue[best]
		r.queue = append(r.queue[:best], r.queue[best+1:]...)

		rec.mu.Lock()
		terminal := rec.status.IsTerminal()
		rec.mu.Unlock()
		if !terminal {
			return rec
		}
	}
	return nil
}

// execute supervises one job from spawn to terminal state.
func (r *Repository) execute(ctx context.Context, rec *record) {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	rec.mu.Lock()
	if rec.status != jobsmodel.JobStatusQueued {
		// Canceled between pop and start.
		rec.mu.Unlock()
		return
	}
	if err := r.transitionLocked(ctx, rec, jobsmodel.JobStatusRunning, nil); err != nil {
		rec.mu.Unlock()
		return
	}
	rec.cancelRun = cancelRun
	rec.mu.Unlock()

	p := parser.New()
	var parseMu sync.Mutex
	onLine := func(stream jobsmodel.LogStream, line string) {
		line = r.builder.Redact(line)

		parseMu.Lock()
		defer parseMu.Unlock()

		progress, logLine := p.ParseLine(stream, line)
		event := jobsmodel.JobEvent{Kind: jobsmodel.EventKindLog, Log: logLine}
		if progress != nil {
			rec.mu.Lock()
			rec.progress = jobsmodel.Progress{
				Stage:         progress.Stage,
				Percent:       progress.Percent,
				Indeterminate: progress.Indeterminate,
				Message:       progress.Message,
			}
			rec.mu.Unlock()

			event = jobsmodel.JobEvent{Kind: jobsmodel.EventKindProgress, Progress: progress}
		}
		r.publish(ctx, rec.id, event)
	}

	proc, err := r.runner.Start(runCtx, rec.cmd, onLine)
	if err != nil {
		logger.FromContext(ctx).Error("failed to spawn tool process",
			zap.String("job_id", rec.id),
			zap.Error(err),
		)

		rec.mu.Lock()
		//nolint:errcheck // The transition failure is logged inside.
		r.transitionLocked(ctx, rec, jobsmodel.JobStatusFailed, &jobsmodel.ExitInfo{
			ExitCode:   -1,
			ErrorClass: jobsmodel.ErrorClassSpawnFailed,
			Summary:    status.Convert(err).Message(),
		})
		rec.mu.Unlock()
		return
	}

	rec.mu.Lock()
	rec.proc = proc
	rec.mu.Unlock()

	outcome := proc.Wait()

	rec.mu.Lock()
	if rec.status == jobsmodel.JobStatusRunning {
		// Partial output is left in place on failure, so the destination is
		// recorded for every run that actually spawned.
		rec.destination = rec.cmd.Dir
		//nolint:errcheck // The transition failure is logged inside.
		r.transitionLocked(ctx, rec, outcome.Status, &outcome.ExitInfo)
	}
	rec.mu.Unlock()
}

// transitionLocked applies a state change to a record whose mutex is held
// by the caller. Illegal transitions are rejected, logged and reported as
// internal errors; the record is left untouched.
func (r *Repository) transitionLocked(ctx context.Context, rec *record, to jobsmodel.JobStatus, exit *jobsmodel.ExitInfo) error {
	from := rec.status
	if !jobsmodel.IsValidTransition(from, to) {
		err := status.Errorf(codes.Internal, "illegal transition %s -> %s for job %s", from.ToString(), to.ToString(), rec.id)
		logger.FromContext(ctx).Error("rejected job state transition",
			zap.String("job_id", rec.id),
			zap.String("from", from.ToString()),
			zap.String("to", to.ToString()),
		)
		return err
	}

	if from == jobsmodel.JobStatusQueued {
		r.queued.Add(-1)
	}

	rec.status = to
	now := time.Now()
	switch {
	case to == jobsmodel.JobStatusRunning:
		rec.startedAt = now
	case to.IsTerminal():
		rec.endedAt = now
		rec.exit = exit
		close(rec.done)
	}

	event := jobsmodel.JobEvent{
		Kind:     jobsmodel.EventKindState,
		Terminal: to.IsTerminal(),
		State:    &jobsmodel.StateEvent{Status: to},
	}
	if exit != nil {
		event.State.ErrorClass = exit.ErrorClass
		event.State.Summary = exit.Summary
	}
	r.publish(ctx, rec.id, event)

	if to.IsTerminal() && r.archive != nil {
		snapshot := r.snapshotLocked(rec)
		go func() {
			archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
			defer cancel()
			if err := r.archive.ArchiveJob(archiveCtx, snapshot); err != nil {
				logger.FromContext(ctx).Warn("failed to archive job",
					zap.String("job_id", snapshot.ID),
					zap.Error(err),
				)
			}
		}()
	}

	return nil
}

// publish appends an event to the job's stream and mirrors it to redis
// when a store is configured. The mirror is best effort and never blocks
// the hot path.
func (r *Repository) publish(ctx context.Context, jobID string, event jobsmodel.JobEvent) {
	stamped, err := r.hub.Publish(jobID, event)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to publish job event",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		return
	}

	if r.rdb == nil {
		return
	}

	// The hub-stamped event goes out verbatim, so the mirror and the
	// retained log agree on sequence number and timestamp.
	payload, err := json.Marshal(stamped)
	if err != nil {
		return
	}

	go func() {
		mirrorCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
		defer cancel()
		if err := r.rdb.Publish(mirrorCtx, redis.GetJobEventsChannel(jobID), payload); err != nil {
			logger.FromContext(ctx).Warn("failed to mirror job event",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
		}
	}()
}

// janitor evicts terminal records past the retention period and prunes
// the archive on its own, longer window.
func (r *Repository) janitor(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r.evictExpired(ctx, time.Now().Add(-r.cfg.RetentionPeriod))

		if r.archive != nil {
			cutoff := time.Now().Add(-r.cfg.ArchiveRetentionPeriod)
			if _, err := r.archive.DeleteExpired(ctx, cutoff); err != nil {
				logger.FromContext(ctx).Warn("failed to prune archive", zap.Error(err))
			}
		}
	}
}

// evictExpired drops terminal records that finished before the cutoff,
// along with their event buffers.
func (r *Repository) evictExpired(ctx context.Context, cutoff time.Time) {
	r.mu.Lock()
	var evicted []string
	kept := r.order[:0]
	for _, id := range r.order {
		rec, ok := r.records[id]
		if !ok {
			continue
		}

		rec.mu.Lock()
		expired := rec.status.IsTerminal() && rec.endedAt.Before(cutoff)
		rec.mu.Unlock()

		if expired {
			delete(r.records, id)
			evicted = append(evicted, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	r.mu.Unlock()

	for _, id := range evicted {
		r.hub.Remove(id)
	}
	if len(evicted) > 0 {
		logger.FromContext(ctx).Info("evicted expired job records", zap.Int("count", len(evicted)))
	}
}

// snapshot returns a point-in-time copy of a record.
func (r *Repository) snapshot(rec *record) *jobsmodel.JobSnapshot {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return r.snapshotLocked(rec)
}

// snapshotLocked builds a snapshot of a record whose mutex is held.
func (r *Repository) snapshotLocked(rec *record) *jobsmodel.JobSnapshot {
	snapshot := &jobsmodel.JobSnapshot{
		ID:          rec.id,
		Request:     *rec.req,
		Status:      rec.status,
		Progress:    rec.progress,
		ExitInfo:    rec.exit,
		Destination: rec.destination,
		CreatedAt:   jobsmodel.FormatTime(rec.createdAt),
		StartedAt:   jobsmodel.FormatTime(rec.startedAt),
		EndedAt:     jobsmodel.FormatTime(rec.endedAt),
	}

	if first, next, err := r.hub.SeqRange(rec.id); err == nil {
		snapshot.FirstSeq = first
		if next > 0 {
			snapshot.LastSeq = next - 1
		}
	}

	return snapshot
}
