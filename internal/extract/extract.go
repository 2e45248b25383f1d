package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultMaxBytes bounds the size of a fetched document.
const DefaultMaxBytes = 50 << 20

// ErrTooLarge is returned when a document exceeds the configured size limit.
var ErrTooLarge = errors.New("document too large")

type kind int

const (
	kindUnknown kind = iota
	kindPDF
	kindSpreadsheet
	kindHTML
	kindText
	kindOLE
)

var (
	pdfMagic = []byte("%PDF")
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Extractor downloads documents by URL and extracts their text.
type Extractor struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Extractor) { e.client = c }
}

// WithMaxBytes overrides DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(e *Extractor) { e.maxBytes = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		client:   &http.Client{Timeout: 60 * time.Second},
		maxBytes: DefaultMaxBytes,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract fetches rawURL and extracts its content. Documents behind
// authentication come back with StatusAccessDenied and no error. Transport
// failures and non-success responses return an error.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Document{}, fmt.Errorf("building request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.logger.Warn("document requires authentication", "url", rawURL, "status", resp.StatusCode)
		return Document{
			URL:    rawURL,
			Status: StatusAccessDenied,
			Text:   fmt.Sprintf("Document at %s requires authentication - manual review required", rawURL),
			Method: "none",
			Error:  fmt.Sprintf("HTTP %d", resp.StatusCode),
		}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Document{}, fmt.Errorf("fetching %s: HTTP %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", rawURL, err)
	}
	if int64(len(data)) > e.maxBytes {
		return Document{}, fmt.Errorf("%s: %w", rawURL, ErrTooLarge)
	}

	return e.FromBytes(rawURL, resp.Header.Get("Content-Type"), data), nil
}

// FromBytes extracts already downloaded content. name is a URL or file name
// used for type detection.
func (e *Extractor) FromBytes(name, contentType string, data []byte) (doc Document) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("document parser panicked", "url", name, "panic", r)
			doc = limited(name, "document could not be parsed")
		}
	}()

	var err error
	switch detect(name, contentType, data) {
	case kindPDF:
		doc, err = pdfDocument(data)
	case kindSpreadsheet:
		doc, err = spreadsheetDocument(data)
	case kindHTML:
		doc, err = htmlDocument(data)
	case kindText:
		doc = Document{Status: StatusSuccess, Text: strings.TrimSpace(string(data)), Method: "text"}
	case kindOLE:
		doc, err = oleDocument(name, data)
	default:
		return limited(name, fmt.Sprintf("unsupported format %s", formatOf(name, contentType)))
	}
	if err != nil {
		e.logger.Warn("document extraction failed", "url", name, "error", err)
		return limited(name, "text extraction failed")
	}
	doc.URL = name
	return doc
}

func detect(name, contentType string, data []byte) kind {
	switch {
	case bytes.HasPrefix(data, pdfMagic):
		return kindPDF
	case bytes.HasPrefix(data, oleMagic):
		return kindOLE
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch ext := extension(name); {
	case ext == ".pdf" || mediaType == "application/pdf":
		return kindPDF
	case ext == ".xlsx" || ext == ".xlsm" || strings.Contains(mediaType, "spreadsheetml"):
		if bytes.HasPrefix(data, zipMagic) {
			return kindSpreadsheet
		}
	case ext == ".html" || ext == ".htm" || mediaType == "text/html":
		return kindHTML
	case ext == ".txt" || ext == ".csv" || mediaType == "text/plain" || mediaType == "text/csv":
		return kindText
	}
	return kindUnknown
}

func extension(name string) string {
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		name = u.Path
	}
	return strings.ToLower(path.Ext(name))
}

func formatOf(name, contentType string) string {
	if ext := extension(name); ext != "" {
		return ext
	}
	if contentType != "" {
		return contentType
	}
	return "unknown"
}

func htmlDocument(data []byte) (Document, error) {
	text, err := HTMLText(bytes.NewReader(data))
	if err != nil {
		return Document{}, err
	}
	return Document{Status: StatusSuccess, Text: text, Method: "html"}, nil
}
