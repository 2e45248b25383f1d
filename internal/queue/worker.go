package queue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

// Source yields tasks. Dequeue returns (nil, nil) when nothing is waiting.
type Source interface {
	Dequeue(ctx context.Context) (*Task, error)
}

// HandlerFunc runs one task to a terminal state. Recording that state is the
// handler's job; a returned error is only logged.
type HandlerFunc func(ctx context.Context, t Task) error

// Worker drains a Source with a fixed number of polling loops.
type Worker struct {
	source      Source
	handle      HandlerFunc
	poll        time.Duration
	concurrency int
	timeLimit   time.Duration
	softLimit   time.Duration
	logger      *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithPollInterval sets how long an idle loop sleeps before polling again.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithConcurrency sets the number of tasks run in parallel.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithTimeLimits sets the per-task hard limit, after which the task context
// is cancelled, and the soft limit, after which a warning is logged.
func WithTimeLimits(hard, soft time.Duration) Option {
	return func(w *Worker) {
		w.timeLimit = hard
		w.softLimit = soft
	}
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorker creates a Worker. Defaults: one loop, 500ms poll interval, no
// time limits.
func NewWorker(source Source, handle HandlerFunc, opts ...Option) *Worker {
	w := &Worker{
		source:      source,
		handle:      handle,
		poll:        500 * time.Millisecond,
		concurrency: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range w.concurrency {
		g.Go(func() error {
			w.loop(ctx, i)
			return nil
		})
	}
	w.logger.Info("worker pool started", "concurrency", w.concurrency)
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, slot int) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "slot", slot, "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and runs a single task. It reports whether a task was taken.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.source.Dequeue(ctx)
	var de *DecodeError
	if errors.As(err, &de) {
		// The payload is gone from the queue; drop its file too.
		if de.Path != "" {
			if rmErr := os.Remove(de.Path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				w.logger.Warn("could not remove file of undecodable task", "path", de.Path, "error", rmErr)
			}
		}
		return true, err
	}
	if err != nil {
		return false, fmt.Errorf("claiming task: %w", err)
	}
	if task == nil {
		return false, nil
	}

	logger := w.logger.With("job_id", task.ID)
	logger.Info("task claimed", "filename", task.Filename)

	taskCtx := ctx
	if w.timeLimit > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, w.timeLimit)
		defer cancel()
	}
	if w.softLimit > 0 {
		soft := time.AfterFunc(w.softLimit, func() {
			logger.Warn("task exceeded soft time limit", "soft_limit", w.softLimit)
		})
		defer soft.Stop()
	}

	start := time.Now()
	if err := w.handle(taskCtx, *task); err != nil {
		logger.Warn("task failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return true, nil
	}
	logger.Info("task finished", "duration_ms", time.Since(start).Milliseconds())
	return true, nil
}
