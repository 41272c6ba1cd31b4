// Package documents provides local PDF helpers: page counting for upload
// limits and text extraction for invoice templates.
package documents

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// TextExtractor turns a PDF on disk into plain text
type TextExtractor interface {
	ExtractText(filePath string) (string, error)
}

// PDFProcessor implements TextExtractor with a pure Go PDF reader
type PDFProcessor struct {
	// MaxPages stops extraction after this many pages (0 = all)
	MaxPages int
}

// NewPDFProcessor creates a PDF processor reading at most maxPages pages
func NewPDFProcessor(maxPages int) *PDFProcessor {
	return &PDFProcessor{MaxPages: maxPages}
}

// IsPDF sniffs the %PDF- magic at the start of data
func IsPDF(head []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(head, "\x00\t\r\n "), []byte("%PDF-"))
}

// PageCount counts pages of the PDF read from rs and rewinds it
func PageCount(rs io.ReadSeeker) (int, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	n, err := api.PageCount(rs, conf)
	if _, seekErr := rs.Seek(0, io.SeekStart); seekErr != nil && err == nil {
		err = seekErr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}

// ExtractText reads the text layer page by page. Searchable PDFs produced
// by the OCR provider carry the recognised words as invisible text, which is
// what this reads back.
func (p *PDFProcessor) ExtractText(filePath string) (text string, err error) {
	// The reader panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to read PDF %s: %v", filePath, r)
		}
	}()

	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	numPages := reader.NumPage()
	if p.MaxPages > 0 && numPages > p.MaxPages {
		numPages = p.MaxPages
	}

	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		for _, line := range pageLines(page) {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return strings.TrimSpace(sb.String()), nil
}

// pageLines reads a page twice and keeps the reading with more lines.
// GetTextByRow positions runs from Tm only, so text advanced with T* or '
// lands in a single row; GetPlainText breaks on those operators but glues
// Tm-positioned lines together.
func pageLines(page pdf.Page) []string {
	var byRow []string
	if rows, err := page.GetTextByRow(); err == nil {
		for _, row := range rows {
			if line := joinRow(row.Content); strings.TrimSpace(line) != "" {
				byRow = append(byRow, line)
			}
		}
	}

	var plain []string
	if content, err := page.GetPlainText(nil); err == nil {
		plain = splitLines(content)
	}

	if len(plain) > len(byRow) {
		return plain
	}
	return byRow
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, " \r\t")
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// joinRow glues text runs of one row, inserting a space where the gap
// between runs is wider than a fraction of the font size.
func joinRow(texts []pdf.Text) string {
	runs := make([]pdf.Text, len(texts))
	copy(runs, texts)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].X < runs[j].X })

	var sb strings.Builder
	prevEnd := math.Inf(-1)
	for _, t := range runs {
		if t.S == "" {
			continue
		}
		gap := t.X - prevEnd
		threshold := t.FontSize * 0.2
		if threshold <= 0 {
			threshold = 1
		}
		if sb.Len() > 0 && gap > threshold && !strings.HasSuffix(sb.String(), " ") && !strings.HasPrefix(t.S, " ") {
			sb.WriteString(" ")
		}
		sb.WriteString(t.S)
		prevEnd = t.X + t.W
	}
	return sb.String()
}
