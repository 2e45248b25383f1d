package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/facre/internal/analysis"
	"github.com/kalambet/facre/internal/blobstore"
	"github.com/kalambet/facre/internal/extract"
	"github.com/kalambet/facre/internal/jobs"
	"github.com/kalambet/facre/internal/msgfile"
)

type parserFunc func(data []byte) (*msgfile.Email, error)

func (f parserFunc) Parse(data []byte) (*msgfile.Email, error) { return f(data) }

type uploaderFunc func(ctx context.Context, name, contentType string, data []byte) (blobstore.Object, error)

func (f uploaderFunc) Upload(ctx context.Context, name, contentType string, data []byte) (blobstore.Object, error) {
	return f(ctx, name, contentType, data)
}

type extractorFunc func(ctx context.Context, url string) (extract.Document, error)

func (f extractorFunc) Extract(ctx context.Context, url string) (extract.Document, error) {
	return f(ctx, url)
}

type analyzerFunc func(ctx context.Context, prompt string) (*analysis.Result, error)

func (f analyzerFunc) Infer(ctx context.Context, prompt string) (*analysis.Result, error) {
	return f(ctx, prompt)
}

type progressLog struct {
	mu      sync.Mutex
	values  []float64
	message []string
}

func (p *progressLog) Report(_ context.Context, progress float64, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, progress)
	p.message = append(p.message, message)
}

func writeSubmission(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "submission.msg")
	if err := os.WriteFile(path, []byte("raw msg bytes"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func sampleEmail() *msgfile.Email {
	return &msgfile.Email{
		Sender:  "Mahindra Brokers <placements@mahindra.example>",
		Subject: "Fire placement: Glacier Refrigeration",
		Body:    "Please quote the attached fire risk.",
		Date:    time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC),
		Attachments: []msgfile.Attachment{
			{Filename: "survey.pdf", ContentType: "application/pdf", Size: 4, Payload: []byte("%PDF")},
			{Filename: "schedule.xlsx", ContentType: "application/vnd.ms-excel", Size: 2, Payload: []byte("PK")},
		},
	}
}

func okAnalyzer(confidence float64) analyzerFunc {
	return func(ctx context.Context, prompt string) (*analysis.Result, error) {
		return &analysis.Result{ConfidenceScore: confidence, Recommendations: []string{"Accept"}}, nil
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRun_HappyPath(t *testing.T) {
	path := writeSubmission(t)
	var prompt string
	exec := New(
		parserFunc(func(data []byte) (*msgfile.Email, error) { return sampleEmail(), nil }),
		WithUploader(uploaderFunc(func(ctx context.Context, name, ct string, data []byte) (blobstore.Object, error) {
			return blobstore.Object{URL: "https://store/" + name, Format: strings.TrimPrefix(filepath.Ext(name), ".")}, nil
		})),
		WithExtractor(extractorFunc(func(ctx context.Context, url string) (extract.Document, error) {
			return extract.Document{URL: url, Status: extract.StatusSuccess, Text: "sprinklers installed in " + url, Method: "test"}, nil
		}), nil),
		WithAnalyzer(analyzerFunc(func(ctx context.Context, p string) (*analysis.Result, error) {
			prompt = p
			return &analysis.Result{ConfidenceScore: 0.9}, nil
		})),
		WithMode(jobs.ModeQueued),
	)

	progress := &progressLog{}
	res, err := exec.Run(context.Background(), path, progress)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantProgress := []float64{0, 10, 30, 50, 70, 100}
	if len(progress.values) != len(wantProgress) {
		t.Fatalf("progress = %v, want %v", progress.values, wantProgress)
	}
	for i, v := range wantProgress {
		if progress.values[i] != v {
			t.Errorf("progress[%d] = %v, want %v", i, progress.values[i], v)
		}
	}
	if progress.message[5] != "Analysis completed" {
		t.Errorf("last message = %q", progress.message[5])
	}

	if fileExists(path) {
		t.Error("submission file should be removed")
	}
	if res.Status != "completed" || res.ProcessingMode != "async" {
		t.Errorf("Status = %q, ProcessingMode = %q", res.Status, res.ProcessingMode)
	}
	if res.AttachmentsProcessed != 2 || res.AttachmentsUploaded != 2 || res.DocumentsAnalyzed != 2 {
		t.Errorf("counts = %d/%d/%d, want 2/2/2", res.AttachmentsProcessed, res.AttachmentsUploaded, res.DocumentsAnalyzed)
	}
	if res.EmailData.Attachments[0].StorageURL != "https://store/survey.pdf" || res.EmailData.Attachments[1].Format != "xlsx" {
		t.Errorf("attachments = %+v", res.EmailData.Attachments)
	}
	if len(res.ProcessingErrors) != 0 {
		t.Errorf("ProcessingErrors = %v", res.ProcessingErrors)
	}
	if res.Analysis.ConfidenceScore != 0.9 {
		t.Errorf("ConfidenceScore = %v", res.Analysis.ConfidenceScore)
	}
	for _, want := range []string{"Fire placement: Glacier Refrigeration", "[URL: https://store/survey.pdf]", "sprinklers installed in https://store/schedule.xlsx"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestRun_OneUploadFails(t *testing.T) {
	path := writeSubmission(t)
	exec := New(
		parserFunc(func(data []byte) (*msgfile.Email, error) { return sampleEmail(), nil }),
		WithUploader(uploaderFunc(func(ctx context.Context, name, ct string, data []byte) (blobstore.Object, error) {
			if name == "schedule.xlsx" {
				return blobstore.Object{}, errors.New("bucket unreachable")
			}
			return blobstore.Object{URL: "https://store/" + name}, nil
		})),
		WithAnalyzer(okAnalyzer(0.8)),
	)

	res, err := exec.Run(context.Background(), path, &progressLog{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.AttachmentsUploaded != 1 {
		t.Errorf("AttachmentsUploaded = %d, want 1", res.AttachmentsUploaded)
	}
	failed := res.EmailData.Attachments[1]
	if failed.UploadStatus != UploadFailed || failed.StorageURL != "" || !strings.Contains(failed.UploadError, "bucket unreachable") {
		t.Errorf("failed attachment = %+v", failed)
	}
	if res.EmailData.Attachments[0].UploadStatus != UploadUploaded {
		t.Errorf("first attachment = %+v", res.EmailData.Attachments[0])
	}
	if len(res.ProcessingErrors) != 1 {
		t.Errorf("ProcessingErrors = %v", res.ProcessingErrors)
	}
}

func TestRun_UploadPanicIsContained(t *testing.T) {
	path := writeSubmission(t)
	exec := New(
		parserFunc(func(data []byte) (*msgfile.Email, error) { return sampleEmail(), nil }),
		WithUploader(uploaderFunc(func(ctx context.Context, name, ct string, data []byte) (blobstore.Object, error) {
			panic("sdk bug")
		})),
		WithAnalyzer(okAnalyzer(0.8)),
	)
	res, err := exec.Run(context.Background(), path, &progressLog{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.AttachmentsUploaded != 0 || res.EmailData.Attachments[0].UploadStatus != UploadFailed {
		t.Errorf("attachments = %+v", res.EmailData.Attachments)
	}
}

func TestRun_ParseFailureDegrades(t *testing.T) {
	path := writeSubmission(t)
	exec := New(
		parserFunc(func(data []byte) (*msgfile.Email, error) { return nil, msgfile.ErrNotMSG }),
		WithAnalyzer(okAnalyzer(0.8)),
	)
	res, err := exec.Run(context.Background(), path, &progressLog{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	email := res.EmailData
	if email.Sender != "Unknown" || email.Subject != "Failed to parse MSG file" || email.Body != "MSG file could not be parsed" {
		t.Errorf("email = %+v", email)
	}
	if email.Date.IsZero() {
		t.Error("degenerate email should carry the current date")
	}
	if res.AttachmentsProcessed != 0 || len(email.Attachments) != 0 {
		t.Errorf("attachments = %+v", email.Attachments)
	}
	if len(res.ProcessingErrors) != 1 || !strings.HasPrefix(res.ProcessingErrors[0], "mail parsing") {
		t.Errorf("ProcessingErrors = %v", res.ProcessingErrors)
	}
}

func TestRun_ParserPanicDegrades(t *testing.T) {
	path := writeSubmission(t)
	exec := New(
		parserFunc(func(data []byte) (*msgfile.Email, error) { panic("index out of range") }),
		WithAnalyzer(okAnalyzer(0.8)),
	)
	res, err := exec.Run(context.Background(), path, &progressLog{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.EmailData.Subject != "Failed to parse MSG file" {
		t.Errorf("Subject = %q", res.EmailData.Subject)
	}
}

func TestRun_AIFailureFallsBackToHeuristic(t *testing.T) {
	path := writeSubmission(t)
	exec := New(
		parserFunc(func(data []byte) (*msgfile.Email, error) { return sampleEmail(), nil }),
		WithAnalyzer(analyzerFunc(func(ctx context.Context, p string) (*analysis.Result, error) {
			return nil, analysis.ErrInvalidOutput
		})),
	)
	res, err := exec.Run(context.Background(), path, &progressLog{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Analysis.ConfidenceScore != analysis.HeuristicConfidence {
		t.Errorf("ConfidenceScore = %v, want %v", res.Analysis.ConfidenceScore, analysis.HeuristicConfidence)
	}
	if len(res.Analysis.Recommendations) == 0 {
		t.Error("fallback analysis should carry recommendations")
	}
}

func TestRun_HeuristicFailureFallsBackToMinimal(t *testing.T) {
	path := writeSubmission(t)
	exec := New(
		parserFunc(func(data []byte) (*msgfile.Email, error) { return sampleEmail(), nil }),
		WithAnalyzer(analyzerFunc(func(ctx context.Context, p string) (*analysis.Result, error) {
			panic("provider client bug")
		})),
	)
	exec.heuristic = func(string) (*analysis.Result, error) { panic("heuristic bug") }

	res, err := exec.Run(context.Background(), path, &progressLog{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Analysis.ConfidenceScore >= 0.7 {
		t.Errorf("ConfidenceScore = %v, want < 0.7", res.Analysis.ConfidenceScore)
	}
	if len(res.Analysis.Recommendations) == 0 || len(res.Analysis.Warnings) == 0 {
		t.Errorf("minimal analysis = %+v", res.Analysis)
	}
}

func TestRun_NoAnalyzerUsesFallback(t *testing.T) {
	path := writeSubmission(t)
	exec := New(parserFunc(func(data []byte) (*msgfile.Email, error) { return sampleEmail(), nil }))
	res, err := exec.Run(context.Background(), path, &progressLog{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Analysis == nil || res.Analysis.ConfidenceScore >= 0.7 {
		t.Errorf("Analysis = %+v", res.Analysis)
	}
	if res.ProcessingMode != "sync" {
		t.Errorf("ProcessingMode = %q, want sync", res.ProcessingMode)
	}
	// no store configured: nothing uploaded, both attachments skipped
	for _, a := range res.EmailData.Attachments {
		if a.UploadStatus != UploadSkipped {
			t.Errorf("attachment %s status = %q", a.Filename, a.UploadStatus)
		}
	}
}

func TestRun_ExtractionFailureBecomesPlaceholder(t *testing.T) {
	path := writeSubmission(t)
	var prompt string
	exec := New(
		parserFunc(func(data []byte) (*msgfile.Email, error) { return sampleEmail(), nil }),
		WithUploader(uploaderFunc(func(ctx context.Context, name, ct string, data []byte) (blobstore.Object, error) {
			return blobstore.Object{URL: "https://store/" + name}, nil
		})),
		WithExtractor(extractorFunc(func(ctx context.Context, url string) (extract.Document, error) {
			if strings.HasSuffix(url, ".pdf") {
				return extract.Document{}, errors.New("fetch failed")
			}
			return extract.Document{URL: url, Status: extract.StatusSuccess, Text: "table data"}, nil
		}), nil),
		WithAnalyzer(analyzerFunc(func(ctx context.Context, p string) (*analysis.Result, error) {
			prompt = p
			return &analysis.Result{ConfidenceScore: 0.75}, nil
		})),
	)
	res, err := exec.Run(context.Background(), path, &progressLog{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.DocumentsAnalyzed != 2 {
		t.Errorf("DocumentsAnalyzed = %d, want 2", res.DocumentsAnalyzed)
	}
	if res.Documents[0].Status != extract.StatusFailed || res.Documents[0].Method != "placeholder" {
		t.Errorf("documents[0] = %+v", res.Documents[0])
	}
	if !strings.Contains(prompt, "table data") {
		t.Error("prompt should include text of the successful document")
	}
	if len(res.ProcessingErrors) != 1 || !strings.Contains(res.ProcessingErrors[0], "fetch failed") {
		t.Errorf("ProcessingErrors = %v", res.ProcessingErrors)
	}
}

func TestRun_ExtractorSkipsUnmatchedAttachments(t *testing.T) {
	path := writeSubmission(t)
	m, err := extract.NewMatcher([]string{"*.pdf"})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	var calls []string
	var mu sync.Mutex
	exec := New(
		parserFunc(func(data []byte) (*msgfile.Email, error) { return sampleEmail(), nil }),
		WithUploader(uploaderFunc(func(ctx context.Context, name, ct string, data []byte) (blobstore.Object, error) {
			return blobstore.Object{URL: "https://store/" + name}, nil
		})),
		WithExtractor(extractorFunc(func(ctx context.Context, url string) (extract.Document, error) {
			mu.Lock()
			calls = append(calls, url)
			mu.Unlock()
			return extract.Document{URL: url, Status: extract.StatusSuccess}, nil
		}), m),
		WithAnalyzer(okAnalyzer(0.8)),
	)
	res, err := exec.Run(context.Background(), path, &progressLog{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(calls) != 1 || calls[0] != "https://store/survey.pdf" || res.DocumentsAnalyzed != 1 {
		t.Errorf("extracted %v, DocumentsAnalyzed = %d", calls, res.DocumentsAnalyzed)
	}
}

func TestRun_MissingFileFails(t *testing.T) {
	exec := New(parserFunc(func(data []byte) (*msgfile.Email, error) { return sampleEmail(), nil }))
	_, err := exec.Run(context.Background(), filepath.Join(t.TempDir(), "gone.msg"), &progressLog{})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRun_DeadlineIsFatal(t *testing.T) {
	path := writeSubmission(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	exec := New(
		parserFunc(func(data []byte) (*msgfile.Email, error) {
			time.Sleep(50 * time.Millisecond)
			return sampleEmail(), nil
		}),
		WithAnalyzer(okAnalyzer(0.8)),
	)
	_, err := exec.Run(ctx, path, &progressLog{})
	if !errors.Is(err, ErrTimeLimit) {
		t.Fatalf("error = %v, want ErrTimeLimit", err)
	}
	if fileExists(path) {
		t.Error("submission file should be removed after a timeout")
	}
}

func TestRun_TruncatesLongBody(t *testing.T) {
	path := writeSubmission(t)
	long := strings.Repeat("é", 1500)
	exec := New(
		parserFunc(func(data []byte) (*msgfile.Email, error) {
			return &msgfile.Email{Sender: "a", Subject: "b", Body: long}, nil
		}),
		WithAnalyzer(okAnalyzer(0.8)),
	)
	res, err := exec.Run(context.Background(), path, &progressLog{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := []rune(res.EmailData.Body); len(got) != 1003 || !strings.HasSuffix(res.EmailData.Body, "...") {
		t.Errorf("body length = %d runes", len(got))
	}
}

func TestRun_MissingDateEncodesAsNull(t *testing.T) {
	exec := New(
		parserFunc(func(data []byte) (*msgfile.Email, error) {
			return &msgfile.Email{Sender: "a", Subject: "b", Body: "c"}, nil
		}),
		WithAnalyzer(okAnalyzer(0.8)),
	)
	res, err := exec.Run(context.Background(), writeSubmission(t), &progressLog{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.EmailData.Date != nil {
		t.Fatalf("Date = %v, want nil", res.EmailData.Date)
	}
	data, err := json.Marshal(res.EmailData)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"date":null`) {
		t.Errorf("email_data = %s, want a null date", data)
	}

	dated, err := New(parserFunc(func(data []byte) (*msgfile.Email, error) { return sampleEmail(), nil })).
		Run(context.Background(), writeSubmission(t), &progressLog{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if dated.EmailData.Date == nil || !dated.EmailData.Date.Equal(sampleEmail().Date) {
		t.Errorf("Date = %v, want %v", dated.EmailData.Date, sampleEmail().Date)
	}
}

func TestRun_AttachmentWithoutPayload(t *testing.T) {
	path := writeSubmission(t)
	uploads := 0
	exec := New(
		parserFunc(func(data []byte) (*msgfile.Email, error) {
			return &msgfile.Email{Attachments: []msgfile.Attachment{{Filename: "broken.bin", Size: 99}}}, nil
		}),
		WithUploader(uploaderFunc(func(ctx context.Context, name, ct string, data []byte) (blobstore.Object, error) {
			uploads++
			return blobstore.Object{}, nil
		})),
		WithAnalyzer(okAnalyzer(0.8)),
	)
	res, err := exec.Run(context.Background(), path, &progressLog{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if uploads != 0 {
		t.Errorf("uploads = %d, want 0", uploads)
	}
	a := res.EmailData.Attachments[0]
	if a.Size != 0 || a.UploadStatus != UploadSkipped {
		t.Errorf("attachment = %+v", a)
	}
}
