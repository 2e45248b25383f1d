// Package dispatch accepts submissions and runs or queues them, then answers
// status and result queries for the jobs it created.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/facre/internal/jobs"
	"github.com/kalambet/facre/internal/pipeline"
	"github.com/kalambet/facre/internal/queue"
	"github.com/kalambet/facre/internal/storage"
	"github.com/kalambet/facre/internal/wire"
)

var (
	ErrInvalidFileType = errors.New("invalid file type: only .msg files are accepted")
	ErrMissingFile     = errors.New("no file provided")
	ErrNoArchive       = errors.New("analysis archive not configured")
)

// Runner executes the analysis of one transient file.
type Runner interface {
	Run(ctx context.Context, path string, progress pipeline.Reporter) (*pipeline.Result, error)
}

// Enqueuer hands a task to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) (string, error)
}

// Archiver keeps terminal jobs beyond the result TTL.
type Archiver interface {
	SaveAnalysis(a storage.Analysis) error
	GetAnalysis(id string) (storage.Analysis, error)
	ListAnalyses(limit, offset int) ([]storage.Analysis, error)
	DeleteAnalysis(id string) error
	CountAnalyses() (int, error)
}

// Submission acknowledges an accepted file.
type Submission struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// ResultKind classifies a job for result retrieval.
type ResultKind int

const (
	ResultNotReady ResultKind = iota
	ResultReady
	ResultFailed
)

// ResultOutcome is what a result query found.
type ResultOutcome struct {
	Kind   ResultKind
	State  jobs.State
	Result json.RawMessage
	Error  string
}

// Service is the submission and query gateway shared by the HTTP API, the
// MCP tools and the queue worker.
type Service struct {
	store   jobs.Store
	runner  Runner
	queue   Enqueuer
	archive Archiver
	mode    jobs.Mode
	ttl     time.Duration
	limit   time.Duration
	tempDir string
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithQueue switches the service to queued mode: submissions are handed to q
// instead of being run in the caller.
func WithQueue(q Enqueuer) Option {
	return func(s *Service) {
		s.queue = q
		if q != nil {
			s.mode = jobs.ModeQueued
		}
	}
}

// WithArchive records every terminal job in a.
func WithArchive(a Archiver) Option {
	return func(s *Service) { s.archive = a }
}

// WithResultTTL sets how long terminal records stay in the result store.
func WithResultTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithTimeLimit bounds inline runs. Queued runs are bounded by the worker.
func WithTimeLimit(d time.Duration) Option {
	return func(s *Service) { s.limit = d }
}

// WithTempDir sets where transient submission files are written.
func WithTempDir(dir string) Option {
	return func(s *Service) { s.tempDir = dir }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Service in inline mode unless WithQueue is given.
func New(store jobs.Store, runner Runner, opts ...Option) *Service {
	s := &Service{
		store:  store,
		runner: runner,
		mode:   jobs.ModeInline,
		logger: slog.Default(),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Mode reports how submissions are executed.
func (s *Service) Mode() jobs.Mode { return s.mode }

// Submit validates and spools the file, then queues it or runs it to
// completion depending on the mode.
func (s *Service) Submit(ctx context.Context, filename string, r io.Reader) (Submission, error) {
	if err := CheckFilename(filename); err != nil {
		return Submission{}, err
	}
	if r == nil {
		return Submission{}, ErrMissingFile
	}
	name := filepath.Base(strings.TrimSpace(filename))

	path, err := s.spool(r)
	if err != nil {
		return Submission{}, err
	}

	id := s.newID()
	logger := s.logger.With("job_id", id)

	if s.mode == jobs.ModeQueued {
		// The PENDING record goes in before the task so a fast worker's
		// PROGRESS write is never overwritten.
		pending := jobs.Job{
			ID:        id,
			State:     jobs.StatePending,
			Message:   jobs.MessageWaiting,
			Filename:  name,
			Mode:      s.mode.String(),
			CreatedAt: s.now().UTC(),
		}
		pending.UpdatedAt = pending.CreatedAt
		if err := s.store.Set(ctx, pending); err != nil {
			logger.Warn("could not record pending job", "error", err)
		} else if s.ttl > 0 {
			if err := s.store.Expire(ctx, id, s.ttl); err != nil {
				logger.Warn("could not set pending retention", "error", err)
			}
		}

		if _, err := s.queue.Enqueue(ctx, queue.Task{ID: id, FilePath: path, Filename: name}); err != nil {
			remove(logger, path)
			return Submission{}, fmt.Errorf("queueing %s: %w", name, err)
		}
		logger.Info("analysis queued", "filename", name)
	} else {
		logger.Info("running analysis inline", "filename", name)
		// A dispatched job runs to completion even if the caller goes away;
		// only the time limit bounds it.
		runCtx := context.WithoutCancel(ctx)
		if s.limit > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, s.limit)
			defer cancel()
		}
		if err := s.RunJob(runCtx, jobs.Job{ID: id, Filename: name}, path); err != nil {
			logger.Warn("inline analysis failed", "error", err)
		}
	}

	return Submission{
		JobID:   id,
		Message: "Analysis started for " + name,
		Status:  "submitted",
	}, nil
}

// CheckFilename accepts only names carrying the .msg extension, in any case.
func CheckFilename(filename string) error {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return ErrMissingFile
	}
	if !strings.EqualFold(filepath.Ext(name), ".msg") {
		return ErrInvalidFileType
	}
	return nil
}

func (s *Service) spool(r io.Reader) (string, error) {
	f, err := os.CreateTemp(s.tempDir, "facre-*.msg")
	if err != nil {
		return "", fmt.Errorf("creating transient file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing transient file: %w", err)
	}
	if n == 0 {
		os.Remove(f.Name())
		return "", ErrMissingFile
	}
	return f.Name(), nil
}

// RunJob runs the pipeline over path and records the job's terminal state.
// seed carries the id plus whatever is already known about the job. Store
// writes survive cancellation of ctx so a timed-out job is still recorded.
func (s *Service) RunJob(ctx context.Context, seed jobs.Job, path string) error {
	seed.Mode = s.mode.String()
	seed.State, seed.Progress, seed.Result, seed.Error = jobs.StatePending, 0, nil, ""
	rec := jobs.NewRecorder(s.store, seed, s.ttl)
	logger := s.logger.With("job_id", seed.ID)
	wctx := context.WithoutCancel(ctx)

	if err := rec.Start(wctx); err != nil {
		logger.Warn("could not record job start", "error", err)
	}

	res, err := s.runner.Run(ctx, path, detached{rec})
	if err != nil {
		logger.Error("analysis failed", "error", err)
		if ferr := rec.Fail(wctx, err); ferr != nil {
			logger.Warn("could not record failure", "error", ferr)
		}
		s.archiveJob(rec.Snapshot(), nil)
		return err
	}

	payload, merr := wire.Marshal(res)
	if merr != nil {
		logger.Error("result could not be serialized", "error", merr)
		payload = wire.SerializationError(seed.ID, merr)
	}
	if serr := rec.Succeed(wctx, payload); serr != nil {
		logger.Warn("could not record result", "error", serr)
	}
	s.archiveJob(rec.Snapshot(), res)
	return nil
}

// RunTask is the queue.HandlerFunc for worker processes.
func (s *Service) RunTask(ctx context.Context, t queue.Task) error {
	if t.ID == "" || t.FilePath == "" {
		if t.FilePath != "" {
			remove(s.logger, t.FilePath)
		}
		return fmt.Errorf("malformed task %q", t.ID)
	}

	seed := jobs.Job{ID: t.ID, Filename: t.Filename, CreatedAt: t.EnqueuedAt}
	if existing, err := s.store.Get(ctx, t.ID); err == nil {
		if existing.State.Terminal() {
			s.logger.Info("task already finished, skipping", "job_id", t.ID, "state", existing.State)
			remove(s.logger, t.FilePath)
			return nil
		}
		seed.CreatedAt = existing.CreatedAt
		if seed.Filename == "" {
			seed.Filename = existing.Filename
		}
	}
	return s.RunJob(ctx, seed, t.FilePath)
}

// Status returns the job's current snapshot. Unknown ids read as PENDING.
func (s *Service) Status(ctx context.Context, id string) jobs.Job {
	job, err := s.store.Get(ctx, id)
	if err == nil {
		return job
	}
	if !errors.Is(err, jobs.ErrNotFound) {
		s.logger.Warn("status lookup failed", "job_id", id, "error", err)
	}
	if s.archive != nil {
		if a, aerr := s.archive.GetAnalysis(id); aerr == nil {
			return fromArchive(a)
		}
	}
	return jobs.Job{ID: id, State: jobs.StatePending, Message: jobs.MessageNotFound}
}

// Result classifies the job for result retrieval.
func (s *Service) Result(ctx context.Context, id string) ResultOutcome {
	job := s.Status(ctx, id)
	switch job.State {
	case jobs.StateSuccess:
		return ResultOutcome{Kind: ResultReady, State: job.State, Result: job.Result}
	case jobs.StateFailure:
		return ResultOutcome{Kind: ResultFailed, State: job.State, Error: job.Error}
	default:
		return ResultOutcome{Kind: ResultNotReady, State: job.State}
	}
}

// ListAnalyses pages through archived analyses, newest first.
func (s *Service) ListAnalyses(limit, offset int) ([]storage.Analysis, int, error) {
	if s.archive == nil {
		return nil, 0, ErrNoArchive
	}
	list, err := s.archive.ListAnalyses(limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.archive.CountAnalyses()
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (s *Service) GetAnalysis(id string) (storage.Analysis, error) {
	if s.archive == nil {
		return storage.Analysis{}, ErrNoArchive
	}
	return s.archive.GetAnalysis(id)
}

func (s *Service) DeleteAnalysis(id string) error {
	if s.archive == nil {
		return ErrNoArchive
	}
	return s.archive.DeleteAnalysis(id)
}

func (s *Service) archiveJob(job jobs.Job, res *pipeline.Result) {
	if s.archive == nil {
		return
	}
	a := storage.Analysis{
		JobID:       job.ID,
		Filename:    job.Filename,
		Mode:        job.Mode,
		State:       string(job.State),
		ResultJSON:  string(job.Result),
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.UpdatedAt,
	}
	if res != nil {
		a.Sender = res.EmailData.Sender
		a.Subject = res.EmailData.Subject
		if res.Analysis != nil {
			c := res.Analysis.ConfidenceScore
			a.Confidence = &c
		}
	}
	if err := s.archive.SaveAnalysis(a); err != nil {
		s.logger.Warn("could not archive analysis", "job_id", job.ID, "error", err)
	}
}

func fromArchive(a storage.Analysis) jobs.Job {
	job := jobs.Job{
		ID:        a.JobID,
		State:     jobs.State(a.State),
		Filename:  a.Filename,
		Mode:      a.Mode,
		Error:     a.Error,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.CompletedAt,
	}
	switch job.State {
	case jobs.StateSuccess:
		job.Progress = 100
		job.Message = jobs.MessageCompleted
		if a.ResultJSON != "" {
			job.Result = json.RawMessage(a.ResultJSON)
		}
	case jobs.StateFailure:
		job.Message = jobs.MessageFailed
	}
	return job
}

// detached keeps progress writes alive after the job context expires.
type detached struct{ rec *jobs.Recorder }

func (d detached) Report(ctx context.Context, progress float64, message string) {
	d.rec.Report(context.WithoutCancel(ctx), progress, message)
}

func remove(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("could not remove transient file", "path", path, "error", err)
	}
}
