package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestHTMLText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"paragraphs", "<p>one</p><p>two</p>", "one\ntwo"},
		{"script and style dropped", "<style>p{}</style><div>kept</div><script>var x</script>", "kept"},
		{"whitespace collapsed", "<p>  a \n  b\t c </p>", "a b c"},
		{"table cells", "<table><tr><td>PML</td><td>10%</td></tr></table>", "PML | 10%"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HTMLText(strings.NewReader(tt.in))
			if err != nil {
				t.Fatalf("HTMLText: %v", err)
			}
			if got != tt.want {
				t.Errorf("HTMLText = %q, want %q", got, tt.want)
			}
		})
	}
}

func xlsxBytes(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Location")
	f.SetCellValue("Sheet1", "B1", "Sum Insured")
	f.SetCellValue("Sheet1", "A2", "Nairobi")
	f.SetCellValue("Sheet1", "B2", "1000000")
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func newDocServer(t *testing.T) *httptest.Server {
	t.Helper()
	xlsx := xlsxBytes(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/notes.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("  Fire survey notes \n"))
	})
	mux.HandleFunc("/report.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<h1>Survey</h1><p>Sprinklers installed</p>"))
	})
	mux.HandleFunc("/schedule.xlsx", func(w http.ResponseWriter, r *http.Request) {
		w.Write(xlsx)
	})
	mux.HandleFunc("/private.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/archive.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write([]byte("PK\x03\x04rest"))
	})
	mux.HandleFunc("/broken.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 not really"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestExtract_Formats(t *testing.T) {
	srv := newDocServer(t)
	e := New()
	ctx := context.Background()

	doc, err := e.Extract(ctx, srv.URL+"/notes.txt")
	if err != nil {
		t.Fatalf("Extract(txt): %v", err)
	}
	if doc.Status != StatusSuccess || doc.Text != "Fire survey notes" {
		t.Errorf("txt = %+v", doc)
	}

	doc, err = e.Extract(ctx, srv.URL+"/report.html")
	if err != nil {
		t.Fatalf("Extract(html): %v", err)
	}
	if doc.Text != "Survey\nSprinklers installed" {
		t.Errorf("html text = %q", doc.Text)
	}

	doc, err = e.Extract(ctx, srv.URL+"/schedule.xlsx")
	if err != nil {
		t.Fatalf("Extract(xlsx): %v", err)
	}
	if doc.Status != StatusSuccess || len(doc.Tables) != 1 {
		t.Fatalf("xlsx = %+v", doc)
	}
	if got := doc.Tables[0][1][0]; got != "Nairobi" {
		t.Errorf("xlsx cell A2 = %q, want Nairobi", got)
	}
	if !strings.Contains(doc.Text, "Location | Sum Insured") {
		t.Errorf("xlsx text = %q", doc.Text)
	}
}

func TestExtract_AccessDenied(t *testing.T) {
	srv := newDocServer(t)
	doc, err := New().Extract(context.Background(), srv.URL+"/private.pdf")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.Status != StatusAccessDenied {
		t.Errorf("Status = %q, want %q", doc.Status, StatusAccessDenied)
	}
}

func TestExtract_UnsupportedIsLimited(t *testing.T) {
	srv := newDocServer(t)
	doc, err := New().Extract(context.Background(), srv.URL+"/archive.zip")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.Status != StatusLimited || !strings.Contains(doc.Text, "manual review required") {
		t.Errorf("doc = %+v", doc)
	}
}

func TestExtract_MalformedPDFDegrades(t *testing.T) {
	srv := newDocServer(t)
	doc, err := New().Extract(context.Background(), srv.URL+"/broken.pdf")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.Status != StatusLimited {
		t.Errorf("Status = %q, want %q", doc.Status, StatusLimited)
	}
}

func TestExtract_Errors(t *testing.T) {
	srv := newDocServer(t)
	if _, err := New().Extract(context.Background(), srv.URL+"/missing.pdf"); err == nil {
		t.Error("expected error for 404")
	}
	_, err := New(WithMaxBytes(4)).Extract(context.Background(), srv.URL+"/notes.txt")
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("error = %v, want ErrTooLarge", err)
	}
}

func TestMatcher(t *testing.T) {
	m, err := NewMatcher(nil)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	for name, want := range map[string]bool{
		"Survey.PDF":             true,
		"dir/claims.xlsx":        true,
		`C:\mail\risk.docx`:      true,
		"photo.jpg":              false,
		"noextension":            false,
		"https://x/y/report.txt": true,
	} {
		if got := m.Match(name); got != want {
			t.Errorf("Match(%q) = %v, want %v", name, got, want)
		}
	}

	if _, err := NewMatcher([]string{"[unclosed"}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Document{
		{Status: StatusSuccess, Text: "alpha", Tables: []Table{{{"a"}}}},
		{Status: StatusLimited, Text: "beta"},
		{Status: StatusAccessDenied, Text: "secret"},
		Placeholder("http://x/y.pdf", errors.New("boom")),
	})
	if s.DocumentCount != 4 || s.Successful != 1 || s.Limited != 1 || s.Failed != 2 {
		t.Errorf("counts = %+v", s)
	}
	if strings.Contains(s.CombinedText, "secret") || !strings.Contains(s.CombinedText, "beta") {
		t.Errorf("CombinedText = %q", s.CombinedText)
	}
	if s.SuccessRate() != 0.25 {
		t.Errorf("SuccessRate = %v, want 0.25", s.SuccessRate())
	}
}

func TestPlaceholder(t *testing.T) {
	doc := Placeholder("https://store/a.pdf", nil)
	if doc.Text != "Document at https://store/a.pdf: manual review required" {
		t.Errorf("Text = %q", doc.Text)
	}
}
