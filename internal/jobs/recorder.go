package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrTerminal is returned when a finished job is written to again.
var ErrTerminal = errors.New("job already finished")

// Recorder is the single writer of one job's record. It keeps progress
// non-decreasing, never returns a job to PENDING, and freezes the record once
// it is terminal. Terminal records get the configured retention TTL.
type Recorder struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	job Job
}

// NewRecorder binds a recorder to job in store. ttl is applied to the record
// when it reaches a terminal state; zero keeps it indefinitely.
func NewRecorder(store Store, job Job, ttl time.Duration) *Recorder {
	if job.State == "" {
		job.State = StatePending
	}
	return &Recorder{
		store:  store,
		ttl:    ttl,
		logger: slog.Default().With("job_id", job.ID),
		now:    time.Now,
		job:    job,
	}
}

// Snapshot returns the last state written by this recorder.
func (r *Recorder) Snapshot() Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job
}

// Start moves the job to PROGRESS at 0%.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job.State.Terminal() {
		return ErrTerminal
	}
	if r.job.CreatedAt.IsZero() {
		r.job.CreatedAt = r.now().UTC()
	}
	r.job.State = StateProgress
	r.job.Message = "Starting analysis"
	return r.write(ctx)
}

// Report records a progress update. Failures to persist are logged and
// swallowed so a flaky store never aborts the pipeline.
func (r *Recorder) Report(ctx context.Context, progress float64, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.job.State.Terminal() {
		r.logger.Debug("progress after terminal state ignored", "progress", progress)
		return
	}
	progress = min(max(progress, 0), 100)
	if progress > r.job.Progress {
		r.job.Progress = progress
	}
	r.job.State = StateProgress
	r.job.Message = message
	if err := r.write(ctx); err != nil {
		r.logger.Warn("could not record progress", "progress", progress, "error", err)
	}
}

// Succeed stores the encoded result and marks the job SUCCESS.
func (r *Recorder) Succeed(ctx context.Context, result json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job.State.Terminal() {
		return ErrTerminal
	}
	r.job.State = StateSuccess
	r.job.Progress = 100
	r.job.Message = MessageCompleted
	r.job.Result = result
	r.job.Error = ""
	return r.finish(ctx)
}

// Fail marks the job FAILURE with cause as its error text.
func (r *Recorder) Fail(ctx context.Context, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job.State.Terminal() {
		return ErrTerminal
	}
	r.job.State = StateFailure
	r.job.Message = MessageFailed
	r.job.Result = nil
	r.job.Error = "unknown error"
	if cause != nil {
		r.job.Error = cause.Error()
	}
	return r.finish(ctx)
}

func (r *Recorder) finish(ctx context.Context) error {
	if err := r.write(ctx); err != nil {
		return err
	}
	if r.ttl > 0 {
		if err := r.store.Expire(ctx, r.job.ID, r.ttl); err != nil {
			return fmt.Errorf("setting retention: %w", err)
		}
	}
	return nil
}

func (r *Recorder) write(ctx context.Context) error {
	r.job.UpdatedAt = r.now().UTC()
	if err := r.store.Set(ctx, r.job); err != nil {
		return fmt.Errorf("writing job %s: %w", r.job.ID, err)
	}
	return nil
}
