// Package extract turns stored attachment documents into text and tables for
// the analysis prompt.
package extract

import (
	"fmt"
	"strings"
)

// Status describes how completely a document was processed.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusLimited      Status = "limited"
	StatusAccessDenied Status = "access_denied"
	StatusFailed       Status = "failed"
)

// Table is a grid of cell values, row-major.
type Table [][]string

// Document is the extraction result for one attachment URL.
type Document struct {
	URL    string  `json:"url"`
	Status Status  `json:"status"`
	Text   string  `json:"extracted_text"`
	Tables []Table `json:"tables,omitempty"`
	Method string  `json:"processing_method"`
	Error  string  `json:"error,omitempty"`
}

// Placeholder is the degraded result used when extraction fails outright.
func Placeholder(url string, cause error) Document {
	doc := Document{
		URL:    url,
		Status: StatusFailed,
		Text:   fmt.Sprintf("Document at %s: manual review required", url),
		Method: "placeholder",
	}
	if cause != nil {
		doc.Error = cause.Error()
	}
	return doc
}

func limited(url, note string) Document {
	return Document{
		URL:    url,
		Status: StatusLimited,
		Text:   fmt.Sprintf("Document available at: %s\n[%s - manual review required]", url, note),
		Method: "fallback",
	}
}

// Summary aggregates a batch of extracted documents.
type Summary struct {
	CombinedText    string
	Tables          []Table
	DocumentCount   int
	TotalTextLength int
	Successful      int
	Failed          int
	Limited         int
}

// SuccessRate is the share of documents fully extracted.
func (s Summary) SuccessRate() float64 {
	if s.DocumentCount == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.DocumentCount)
}

// Summarize combines text and tables from usable documents. Access-denied
// and failed documents are counted but contribute no text.
func Summarize(docs []Document) Summary {
	var b strings.Builder
	s := Summary{DocumentCount: len(docs)}
	for _, d := range docs {
		switch d.Status {
		case StatusSuccess:
			s.Successful++
		case StatusLimited:
			s.Limited++
		default:
			s.Failed++
			continue
		}
		if d.Text != "" {
			b.WriteString(d.Text)
			b.WriteString("\n\n")
		}
		s.Tables = append(s.Tables, d.Tables...)
	}
	s.CombinedText = b.String()
	s.TotalTextLength = len(s.CombinedText)
	return s
}
