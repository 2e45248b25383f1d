// Package pipeline runs the analysis of one submitted .msg file. The same
// Executor serves queued and inline jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/facre/internal/analysis"
	"github.com/kalambet/facre/internal/blobstore"
	"github.com/kalambet/facre/internal/extract"
	"github.com/kalambet/facre/internal/jobs"
	"github.com/kalambet/facre/internal/msgfile"
)

// ErrTimeLimit is returned when the job's deadline passes between stages.
var ErrTimeLimit = errors.New("time limit exceeded")

const defaultUploadParallelism = 4

// Reporter receives progress at each stage boundary.
type Reporter interface {
	Report(ctx context.Context, progress float64, message string)
}

// Parser decodes the raw submission.
type Parser interface {
	Parse(data []byte) (*msgfile.Email, error)
}

// Uploader stores one attachment and returns where it lives.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (blobstore.Object, error)
}

// Extractor turns a stored document into text.
type Extractor interface {
	Extract(ctx context.Context, url string) (extract.Document, error)
}

// Analyzer runs model inference over the prompt.
type Analyzer interface {
	Infer(ctx context.Context, prompt string) (*analysis.Result, error)
}

// Executor runs the stages of an analysis job in order.
type Executor struct {
	parser      Parser
	uploader    Uploader
	extractor   Extractor
	matcher     *extract.Matcher
	analyzer    Analyzer
	heuristic   func(text string) (*analysis.Result, error)
	mode        jobs.Mode
	parallelism int
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithUploader sets the attachment store. Without one, attachments are not
// uploaded and no documents are extracted.
func WithUploader(u Uploader) Option {
	return func(e *Executor) { e.uploader = u }
}

// WithExtractor sets the document extractor and the matcher deciding which
// uploaded attachments it receives. A nil matcher accepts the defaults.
func WithExtractor(x Extractor, m *extract.Matcher) Option {
	return func(e *Executor) {
		e.extractor = x
		e.matcher = m
	}
}

// WithAnalyzer sets the model client.
func WithAnalyzer(a Analyzer) Option {
	return func(e *Executor) { e.analyzer = a }
}

// WithMode records the processing mode reported in results.
func WithMode(m jobs.Mode) Option {
	return func(e *Executor) { e.mode = m }
}

// WithUploadParallelism bounds concurrent uploads and extractions.
func WithUploadParallelism(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor. A nil parser uses the .msg parser.
func New(parser Parser, opts ...Option) *Executor {
	if parser == nil {
		parser = msgfile.Parser{}
	}
	e := &Executor{
		parser:      parser,
		heuristic:   analysis.Heuristic,
		parallelism: defaultUploadParallelism,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.extractor != nil && e.matcher == nil {
		e.matcher, _ = extract.NewMatcher(nil)
	}
	return e
}

// Run analyses the .msg file at path. The file is removed on every return
// path. Stage failures are absorbed into the result; only an unreadable file,
// an expired deadline or an unexpected panic return an error.
func (e *Executor) Run(ctx context.Context, path string, progress Reporter) (res *Result, err error) {
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			e.logger.Warn("could not remove submission file", "path", path, "error", rmErr)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("unexpected error: %v", r)
		}
	}()

	var problems []string
	note := func(degraded bool, reason string) {
		if degraded {
			e.logger.Warn("stage degraded", "reason", reason)
			problems = append(problems, reason)
		}
	}

	progress.Report(ctx, 0, "Starting analysis")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading submission: %w", err)
	}

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	progress.Report(ctx, 10, "Processing MSG file")
	parsed := contain("mail parsing",
		func() (*msgfile.Email, error) {
			email, err := e.parser.Parse(data)
			if err == nil && email == nil {
				err = errors.New("parser returned no message")
			}
			return email, err
		},
		func() *msgfile.Email {
			return &msgfile.Email{
				Sender:  "Unknown",
				Subject: "Failed to parse MSG file",
				Body:    "MSG file could not be parsed",
				Date:    e.now().UTC(),
			}
		})
	note(parsed.degraded, parsed.reason)
	email := parsed.value

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	progress.Report(ctx, 30, "Processing attachments")
	attachments := describe(email.Attachments)

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	progress.Report(ctx, 50, "Uploading attachments")
	for _, reason := range e.upload(ctx, email.Attachments, attachments) {
		note(true, reason)
	}

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	progress.Report(ctx, 70, "Performing AI analysis with document processing")
	docs := e.extractDocuments(ctx, attachments)
	for _, d := range docs {
		if d.Status == extract.StatusFailed {
			note(true, d.Error)
		}
	}

	body := truncateBody(email.Body)
	bundle := analysis.Bundle{
		Sender:    email.Sender,
		Subject:   email.Subject,
		Body:      body,
		Documents: extract.Summarize(docs),
	}
	var sent *time.Time
	if !email.Date.IsZero() {
		d := email.Date.UTC()
		sent = &d
		bundle.Date = d.Format(time.RFC3339)
	}
	for _, a := range attachments {
		bundle.Attachments = append(bundle.Attachments, analysis.AttachmentInfo{Filename: a.Filename, Size: a.Size, URL: a.StorageURL})
	}
	ai := e.analyze(ctx, analysis.BuildPrompt(bundle), email)
	note(ai.degraded, ai.reason)

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	progress.Report(ctx, 100, "Analysis completed")

	res = &Result{
		EmailData: EmailData{
			Sender:      email.Sender,
			Subject:     email.Subject,
			Body:        body,
			Date:        sent,
			Attachments: attachments,
		},
		Analysis:             ai.value,
		Documents:            make([]DocumentInfo, 0, len(docs)),
		ProcessingTimestamp:  e.now().UTC(),
		Status:               "completed",
		AttachmentsProcessed: len(attachments),
		DocumentsAnalyzed:    len(docs),
		ProcessingMode:       e.mode.ProcessingMode(),
		ProcessingErrors:     problems,
	}
	if res.ProcessingErrors == nil {
		res.ProcessingErrors = []string{}
	}
	for _, a := range attachments {
		if a.UploadStatus == UploadUploaded {
			res.AttachmentsUploaded++
		}
	}
	for _, d := range docs {
		res.Documents = append(res.Documents, DocumentInfo{URL: d.URL, Status: d.Status, Method: d.Method, Chars: len(d.Text)})
	}

	e.logger.Info("analysis completed",
		"attachments", res.AttachmentsProcessed,
		"uploaded", res.AttachmentsUploaded,
		"documents", res.DocumentsAnalyzed,
		"confidence", ai.value.ConfidenceScore,
		"degraded_stages", len(problems),
	)
	return res, nil
}

func checkpoint(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeLimit
	default:
		return fmt.Errorf("analysis cancelled: %w", err)
	}
}

func describe(in []msgfile.Attachment) []Attachment {
	out := make([]Attachment, len(in))
	for i, a := range in {
		size := a.Size
		if a.Payload == nil {
			size = 0
		}
		out[i] = Attachment{
			Filename:     a.Filename,
			ContentType:  a.ContentType,
			Size:         size,
			UploadStatus: UploadSkipped,
		}
	}
	return out
}

// upload stores every attachment with a payload, concurrently and bounded.
// Results land in out at the attachment's index so order is preserved. The
// returned reasons describe contained failures.
func (e *Executor) upload(ctx context.Context, in []msgfile.Attachment, out []Attachment) []string {
	pending := 0
	for _, a := range in {
		if len(a.Payload) > 0 {
			pending++
		}
	}
	if pending == 0 {
		return nil
	}
	if e.uploader == nil {
		return []string{"attachment upload: " + blobstore.ErrNotConfigured.Error()}
	}

	reasons := make([]string, len(in))
	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for i, a := range in {
		if len(a.Payload) == 0 {
			continue
		}
		g.Go(func() error {
			up := contain("attachment upload "+a.Filename,
				func() (blobstore.Object, error) {
					return e.uploader.Upload(ctx, a.Filename, a.ContentType, a.Payload)
				},
				func() blobstore.Object { return blobstore.Object{} })
			if up.degraded {
				out[i].UploadStatus = UploadFailed
				out[i].UploadError = up.reason
				reasons[i] = up.reason
				return nil
			}
			out[i].UploadStatus = UploadUploaded
			out[i].StorageURL = up.value.URL
			out[i].Format = up.value.Format
			return nil
		})
	}
	g.Wait()

	var failed []string
	for _, r := range reasons {
		if r != "" {
			failed = append(failed, r)
		}
	}
	return failed
}

// extractDocuments runs the extractor over uploaded attachments matching the
// configured patterns. Failures become placeholder documents.
func (e *Executor) extractDocuments(ctx context.Context, attachments []Attachment) []extract.Document {
	if e.extractor == nil {
		return nil
	}
	var urls []string
	for _, a := range attachments {
		if a.UploadStatus == UploadUploaded && a.StorageURL != "" && e.matcher.Match(a.Filename) {
			urls = append(urls, a.StorageURL)
		}
	}

	docs := make([]extract.Document, len(urls))
	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for i, url := range urls {
		g.Go(func() error {
			d := contain("document extraction",
				func() (extract.Document, error) { return e.extractor.Extract(ctx, url) },
				func() extract.Document { return extract.Document{} })
			if d.degraded {
				docs[i] = extract.Placeholder(url, errors.New(d.reason))
				return nil
			}
			docs[i] = d.value
			return nil
		})
	}
	g.Wait()
	return docs
}

// analyze calls the model and falls back to the keyword heuristic, then to
// the minimal default. It always yields a result.
func (e *Executor) analyze(ctx context.Context, prompt string, email *msgfile.Email) stage[*analysis.Result] {
	infer := contain("ai analysis",
		func() (*analysis.Result, error) {
			if e.analyzer == nil {
				return nil, analysis.ErrNotConfigured
			}
			res, err := e.analyzer.Infer(ctx, prompt)
			if err == nil && res == nil {
				err = errors.New("empty analysis")
			}
			return res, err
		},
		func() *analysis.Result { return nil })
	if !infer.degraded {
		return infer
	}

	heuristic := contain("heuristic analysis",
		func() (*analysis.Result, error) {
			res, err := e.heuristic(prompt)
			if err == nil && res == nil {
				err = errors.New("empty analysis")
			}
			return res, err
		},
		func() *analysis.Result { return nil })
	if !heuristic.degraded {
		return degraded(heuristic.value, infer.reason)
	}

	e.logger.Warn("heuristic analysis failed, using minimal analysis", "error", heuristic.reason)
	return degraded(analysis.Minimal(email.Subject, email.Body), infer.reason+"; "+heuristic.reason)
}
