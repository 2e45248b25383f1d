package pipeline

import (
	"time"

	"github.com/kalambet/facre/internal/analysis"
	"github.com/kalambet/facre/internal/extract"
)

// Upload statuses of an attachment.
const (
	UploadUploaded = "uploaded"
	UploadFailed   = "failed"
	UploadSkipped  = "skipped"
)

const maxBodyChars = 1000

// Attachment is the descriptor of one attachment in the result. Payloads are
// never embedded; uploaded attachments are referenced by StorageURL.
type Attachment struct {
	Filename     string `json:"filename"`
	ContentType  string `json:"content_type"`
	Size         int    `json:"size"`
	UploadStatus string `json:"upload_status"`
	StorageURL   string `json:"storage_url,omitempty"`
	Format       string `json:"format,omitempty"`
	UploadError  string `json:"upload_error,omitempty"`
}

// EmailData is the parsed message as reported in the result.
type EmailData struct {
	Sender      string       `json:"sender"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Date        *time.Time   `json:"date"` // nil when the message carries no date
	Attachments []Attachment `json:"attachments"`
}

// DocumentInfo summarises one extracted document without its text.
type DocumentInfo struct {
	URL    string         `json:"url"`
	Status extract.Status `json:"status"`
	Method string         `json:"processing_method"`
	Chars  int            `json:"text_length"`
}

// Result is the job result of a completed analysis.
type Result struct {
	EmailData            EmailData        `json:"email_data"`
	Analysis             *analysis.Result `json:"analysis"`
	Documents            []DocumentInfo   `json:"documents"`
	ProcessingTimestamp  time.Time        `json:"processing_timestamp"`
	Status               string           `json:"status"`
	AttachmentsProcessed int              `json:"attachments_processed"`
	AttachmentsUploaded  int              `json:"attachments_uploaded"`
	DocumentsAnalyzed    int              `json:"documents_analyzed"`
	ProcessingMode       string           `json:"processing_mode"`
	ProcessingErrors     []string         `json:"processing_errors"`
}

func truncateBody(s string) string {
	r := []rune(s)
	if len(r) <= maxBodyChars {
		return s
	}
	return string(r[:maxBodyChars]) + "..."
}
