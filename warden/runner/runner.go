// Package runner drives ingest jobs. A single background worker consumes
// job ids from an in-process FIFO queue, streams the matching adapter's
// records through the reconciliation engine, checkpoints progress every 250
// records, and isolates failures so one bad job never stops the queue.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/WardenScan/go-api/warden"
	"github.com/WardenScan/go-api/warden/artifact"
	"github.com/WardenScan/go-api/warden/events"
	"github.com/WardenScan/go-api/warden/ingest"
	"github.com/WardenScan/go-api/warden/postgres/models"
	"github.com/WardenScan/go-api/warden/reconcile"
	"github.com/WardenScan/go-api/warden/store"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// checkpointEvery is the record interval between durable progress writes.
	checkpointEvery = 250
	// maxRunningProgress caps progress while a job is still running so a UI
	// never sees 100 before the terminal write.
	maxRunningProgress = 95
)

// ErrMissingSourceFile reports a job whose referenced scan file cannot be
// located. It fails the job.
var ErrMissingSourceFile = errors.New("source file not found")

// Options tunes a Runner. The zero value is usable for tests.
type Options struct {
	// DataDir is the root under which upload paths and artifacts resolve.
	DataDir string
	// StatusCache, when non-nil, receives a live job-status projection at
	// every checkpoint and state transition.
	StatusCache store.KVStore
	// EventSink, when non-nil, receives a copy of every recorded event,
	// e.g. for publishing onto a broker.
	EventSink func(models.Event)
	// StaleAfter is how long a job may sit in running without an update
	// before the sweep fails it. Defaults to one hour.
	StaleAfter time.Duration
	// SweepSchedule is the cron expression for the periodic stale sweep.
	// Defaults to "@every 10m".
	SweepSchedule string
}

// Runner is the process-wide ingest worker. Construct one at process entry,
// Start it, and hand the same instance to whatever enqueues jobs.
type Runner struct {
	db   *gorm.DB
	rec  *reconcile.Reconciler
	opts Options

	mu      sync.Mutex
	queue   []uuid.UUID
	started bool

	wake   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
	cron   *cron.Cron
}

// New builds a Runner writing through db.
func New(db *gorm.DB, opts Options) *Runner {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = time.Hour
	}
	if opts.SweepSchedule == "" {
		opts.SweepSchedule = "@every 10m"
	}
	return &Runner{
		db:   db,
		rec:  reconcile.New(db),
		opts: opts,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start sweeps jobs abandoned by a previous worker, schedules the periodic
// sweep, and launches the worker goroutine. Start may be called once.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("runner already started")
	}
	r.started = true
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if n, err := r.SweepStale(); err != nil {
		slog.Warn("Stale job sweep failed at startup", "error", err)
	} else if n > 0 {
		slog.Info("Failed jobs abandoned by a previous worker", "count", n)
	}

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.opts.SweepSchedule, func() {
		if _, err := r.SweepStale(); err != nil {
			slog.Warn("Stale job sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("register stale sweep schedule %q: %w", r.opts.SweepSchedule, err)
	}
	r.cron.Start()

	go r.loop(runCtx)
	slog.Info("Ingest runner started", "stale_after", r.opts.StaleAfter)
	return nil
}

// Stop signals the worker to stop accepting work and cancels the in-flight
// job's current wait. An interrupted job stays in whatever state it last
// checkpointed; the stale sweep on a later Start picks it up.
func (r *Runner) Stop() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return
	}
	r.cancel()
	r.cron.Stop()
	<-r.done
	slog.Info("Ingest runner stopped")
}

// Submit validates a job's source type and enqueues it. An unknown source
// type fails the job immediately, before it ever enters the queue.
func (r *Runner) Submit(jobID uuid.UUID) error {
	var job models.IngestJob
	if err := r.db.First(&job, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if !ingest.KnownSource(job.SourceType) {
		err := fmt.Errorf("%w: %q", ingest.ErrUnknownSourceType, job.SourceType)
		r.failJob(job.ID, err)
		return err
	}
	r.recordEvent(events.JobEvent(job, models.EventJobQueued, "ingest job queued"))
	r.Enqueue(job.ID)
	return nil
}

// Enqueue pushes a job id onto the FIFO queue. Safe to call from any
// goroutine; jobs are processed strictly in enqueue order.
func (r *Runner) Enqueue(jobID uuid.UUID) {
	r.mu.Lock()
	r.queue = append(r.queue, jobID)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// SweepStale fails every job stuck in running whose row has not been
// touched within the staleness threshold. Such jobs were interrupted by a
// process restart and would otherwise stay running forever.
func (r *Runner) SweepStale() (int, error) {
	cutoff := time.Now().UTC().Add(-r.opts.StaleAfter)
	var stuck []models.IngestJob
	err := r.db.Where("status = ? AND updated_at < ?", models.JobRunning, cutoff).Find(&stuck).Error
	if err != nil {
		return 0, fmt.Errorf("scan for stale running jobs: %w", err)
	}
	for _, job := range stuck {
		slog.Warn("Failing stale running job", "job_id", job.ID, "updated_at", job.UpdatedAt)
		r.failJob(job.ID, errors.New("interrupted: abandoned by a previous worker"))
	}
	return len(stuck), nil
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	for {
		jobID, ok := r.next(ctx)
		if !ok {
			return
		}
		r.process(ctx, jobID)
	}
}

// next blocks until a job id is available or ctx is cancelled.
func (r *Runner) next(ctx context.Context) (uuid.UUID, bool) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			jobID := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return jobID, true
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return uuid.Nil, false
		case <-r.wake:
		}
	}
}

// process runs one job and converts any failure, panics included, into a
// failed job instead of a dead worker.
func (r *Runner) process(ctx context.Context, jobID uuid.UUID) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Ingest job panicked", "job_id", jobID, "panic", p)
			r.failJob(jobID, fmt.Errorf("panic: %v", p))
		}
	}()

	if err := r.runJob(ctx, jobID); err != nil {
		if ctx.Err() != nil {
			// cooperative stop: leave the job in its checkpointed state
			slog.Warn("Ingest job interrupted by shutdown", "job_id", jobID)
			return
		}
		slog.Error("Ingest job failed", "job_id", jobID, "error", err)
		r.failJob(jobID, err)
	}
}

func (r *Runner) runJob(ctx context.Context, jobID uuid.UUID) error {
	var job models.IngestJob
	if err := r.db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Warn("Dequeued job no longer exists", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	parse, err := ingest.ForSource(job.SourceType)
	if err != nil {
		return err
	}

	started := time.Now().UTC()
	if err := r.updateJob(job.ID, map[string]any{
		"status":     models.JobRunning,
		"progress":   1,
		"started_at": started,
	}); err != nil {
		return err
	}
	job.Status = models.JobRunning
	job.StartedAt = &started
	r.recordEvent(events.JobEvent(job, models.EventJobStarted, "ingest started: "+job.OriginalFilename))
	r.publishStatus(store.JobStatus{
		JobID:     job.ID.String(),
		Status:    models.JobRunning,
		Progress:  1,
		StartedAt: &started,
	})

	src, err := r.openSource(job)
	if err != nil {
		return err
	}
	defer src.Close()

	counters := map[string]int{"hosts": 0, "services": 0, "findings": 0, "occurrences": 0}
	processed := 0
	emit := func(rec warden.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.rec.Apply(job.ProjectID, rec); err != nil {
			return err
		}
		counters[counterKey(rec.Kind())]++
		processed++
		if processed%checkpointEvery == 0 {
			return r.checkpoint(job, processed, counters)
		}
		return nil
	}
	if err := parse(src, emit); err != nil {
		return err
	}

	finished := time.Now().UTC()
	if err := r.updateJob(job.ID, map[string]any{
		"status":      models.JobSucceeded,
		"progress":    100,
		"stats":       datatypes.NewJSONType(counters),
		"finished_at": finished,
	}); err != nil {
		return err
	}
	r.recordEvent(events.JobEvent(job, models.EventJobSucceeded,
		fmt.Sprintf("ingest succeeded: %d records", processed)))
	r.publishStatus(store.JobStatus{
		JobID:      job.ID.String(),
		Status:     models.JobSucceeded,
		Progress:   100,
		Stats:      counters,
		StartedAt:  &started,
		FinishedAt: &finished,
	})
	slog.Info("Ingest job succeeded", "job_id", job.ID,
		"hosts", counters["hosts"], "services", counters["services"],
		"findings", counters["findings"], "occurrences", counters["occurrences"])
	return nil
}

// openSource resolves the job's scan file: the stored artifact when the job
// references one, otherwise the raw upload path under the data directory.
func (r *Runner) openSource(job models.IngestJob) (io.ReadCloser, error) {
	if job.ArtifactID != nil {
		var art models.Artifact
		if err := r.db.First(&art, "id = ?", *job.ArtifactID).Error; err == nil {
			rc, err := artifact.Open(r.opts.DataDir, art)
			if err == nil {
				return rc, nil
			}
			slog.Warn("Artifact unreadable, falling back to upload path", "job_id", job.ID, "error", err)
		}
	}
	if job.UploadPath == "" {
		return nil, fmt.Errorf("%w: job has no artifact and no upload path", ErrMissingSourceFile)
	}
	path := filepath.Join(r.opts.DataDir, job.UploadPath)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingSourceFile, path)
		}
		return nil, fmt.Errorf("open source file: %w", err)
	}
	return f, nil
}

func (r *Runner) checkpoint(job models.IngestJob, processed int, counters map[string]int) error {
	progress := 1 + processed/checkpointEvery
	if progress > maxRunningProgress {
		progress = maxRunningProgress
	}
	stats := make(map[string]int, len(counters))
	for k, v := range counters {
		stats[k] = v
	}
	if err := r.updateJob(job.ID, map[string]any{
		"status":   models.JobRunning,
		"progress": progress,
		"stats":    datatypes.NewJSONType(stats),
	}); err != nil {
		return fmt.Errorf("checkpoint job: %w", err)
	}
	r.publishStatus(store.JobStatus{
		JobID:     job.ID.String(),
		Status:    models.JobRunning,
		Progress:  progress,
		Stats:     stats,
		StartedAt: job.StartedAt,
	})
	slog.Debug("Checkpointed ingest job", "job_id", job.ID, "processed", processed, "progress", progress)
	return nil
}

func (r *Runner) failJob(jobID uuid.UUID, cause error) {
	finished := time.Now().UTC()
	if err := r.updateJob(jobID, map[string]any{
		"status":      models.JobFailed,
		"progress":    100,
		"error":       cause.Error(),
		"finished_at": finished,
	}); err != nil {
		slog.Error("Failed to mark job as failed", "job_id", jobID, "error", err)
		return
	}
	var job models.IngestJob
	if err := r.db.First(&job, "id = ?", jobID).Error; err == nil {
		r.recordEvent(events.JobEvent(job, models.EventJobFailed, cause.Error()))
	}
	r.publishStatus(store.JobStatus{
		JobID:      jobID.String(),
		Status:     models.JobFailed,
		Progress:   100,
		Error:      cause.Error(),
		FinishedAt: &finished,
	})
}

func (r *Runner) updateJob(jobID uuid.UUID, values map[string]any) error {
	err := r.db.Model(&models.IngestJob{}).Where("id = ?", jobID).Updates(values).Error
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	return nil
}

func (r *Runner) recordEvent(ev models.Event) {
	if err := events.Record(r.db, ev); err != nil {
		slog.Warn("Failed to record event", "event_type", ev.EventType, "error", err)
	}
	if r.opts.EventSink != nil {
		r.opts.EventSink(ev)
	}
}

// publishStatus pushes the job-status projection into the cache. Best
// effort: a cache miss never affects the job.
func (r *Runner) publishStatus(st store.JobStatus) {
	if r.opts.StatusCache == nil {
		return
	}
	st.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(st)
	if err != nil {
		slog.Warn("Failed to marshal job status", "job_id", st.JobID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.opts.StatusCache.SetValueWithTTL(ctx, store.JobStatusKey(st.JobID), string(body), store.JobStatusTTLSeconds); err != nil {
		slog.Warn("Failed to publish job status", "job_id", st.JobID, "error", err)
	}
}

func counterKey(kind warden.RecordKind) string {
	switch kind {
	case warden.KindHost:
		return "hosts"
	case warden.KindService:
		return "services"
	case warden.KindFinding:
		return "findings"
	case warden.KindOccurrence:
		return "occurrences"
	default:
		return string(kind)
	}
}
