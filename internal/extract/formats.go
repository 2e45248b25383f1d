package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/richardlehane/mscfb"
	"github.com/richardlehane/msoleps"
	"github.com/xuri/excelize/v2"
)

func pdfDocument(data []byte) (Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return Document{}, fmt.Errorf("reading pdf text: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return Document{}, fmt.Errorf("reading pdf text: %w", err)
	}
	return Document{Status: StatusSuccess, Text: strings.TrimSpace(string(text)), Method: "pdf"}, nil
}

func spreadsheetDocument(data []byte) (Document, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Document{}, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	doc := Document{Status: StatusSuccess, Method: "spreadsheet"}
	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return Document{}, fmt.Errorf("reading sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		doc.Tables = append(doc.Tables, Table(rows))
		fmt.Fprintf(&b, "Sheet: %s\n", sheet)
		for _, row := range rows {
			b.WriteString(strings.Join(row, " | "))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	doc.Text = strings.TrimSpace(b.String())
	return doc, nil
}

// oleDocument handles legacy Word and Excel files. Only their property set
// metadata is read, so the result is limited.
func oleDocument(name string, data []byte) (Document, error) {
	cfb, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return Document{}, fmt.Errorf("opening compound document: %w", err)
	}

	var lines []string
	for entry, err := cfb.Next(); err == nil; entry, err = cfb.Next() {
		if entry.Name != "\x05SummaryInformation" && entry.Name != "\x05DocumentSummaryInformation" {
			continue
		}
		props, err := msoleps.NewFrom(entry)
		if err != nil {
			continue
		}
		for _, p := range props.Property {
			if v := strings.TrimSpace(p.String()); v != "" {
				lines = append(lines, fmt.Sprintf("%s: %s", p.Name, v))
			}
		}
	}

	doc := limited(name, "legacy Office format, metadata only")
	doc.Method = "ole-summary"
	if len(lines) > 0 {
		doc.Text = strings.Join(lines, "\n") + "\n" + doc.Text
	}
	return doc, nil
}
