// Package pipeline turns an uploaded document into an invoice record:
// OCR, searchable PDF download, template extraction.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/ocrinvoice/internal/errors"
	"github.com/gmsas95/ocrinvoice/internal/invoice"
	"github.com/gmsas95/ocrinvoice/internal/metrics"
	"github.com/gmsas95/ocrinvoice/internal/ocr"
)

const (
	// TempPrefix starts the name of every scratch PDF
	TempPrefix = "ocrinvoice-"
	// TempPattern matches scratch PDFs for the janitor
	TempPattern = TempPrefix + "*.pdf"
)

// InvoiceExtractor reads a PDF from disk and returns the matched record
type InvoiceExtractor interface {
	ExtractFile(path string) (invoice.Result, error)
}

// Result is the body returned to the client on success. Invoice is nil
// when nothing could be extracted; RawText is always the OCR text.
type Result struct {
	Invoice invoice.Result `json:"invoice"`
	RawText string         `json:"raw_text"`
}

// Processor runs uploads through OCR and extraction
type Processor struct {
	ocr       ocr.Processor
	extractor InvoiceExtractor
	tempDir   string
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New creates a processor writing scratch files to tempDir
func New(provider ocr.Processor, extractor InvoiceExtractor, tempDir string, logger *zap.Logger, m *metrics.Metrics) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Processor{
		ocr:       provider,
		extractor: extractor,
		tempDir:   tempDir,
		logger:    logger,
		metrics:   m,
	}
}

// Process OCRs the upload and extracts an invoice from the searchable PDF.
// Errors are *apperrors.AppError values carrying the HTTP status.
func (p *Processor) Process(ctx context.Context, upload ocr.Upload) (*Result, error) {
	if !p.ocr.IsAvailable() {
		return nil, apperrors.ErrMissingAPIKey
	}

	resp, err := p.ocr.Parse(ctx, upload)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	res := &Result{RawText: resp.ParsedText()}

	url := resp.PDFURL()
	if url == "" {
		p.logger.Info("No searchable PDF in OCR reply", zap.String("filename", upload.Filename))
		p.metrics.RecordExtraction("no_pdf")
		return res, nil
	}

	inv, err := p.extract(ctx, url)
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		p.logger.Warn("Invoice extraction failed",
			zap.String("filename", upload.Filename),
			zap.Error(err),
		)
		p.metrics.RecordExtraction(extractionOutcome(err))
		return res, nil
	}

	p.metrics.RecordExtraction("ok")
	res.Invoice = inv
	return res, nil
}

// extract downloads the PDF to a scratch file that is removed on every
// path out, panics included.
func (p *Processor) extract(ctx context.Context, url string) (invoice.Result, error) {
	path := filepath.Join(p.tempDir, TempPrefix+uuid.NewString()+".pdf")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, apperrors.ErrInternal.WithCause(err)
	}
	defer p.remove(path)

	n, err := p.ocr.Download(ctx, url, f)
	closeErr := f.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, apperrors.ErrInternal.WithCause(closeErr)
	}
	p.logger.Debug("Searchable PDF downloaded", zap.String("path", path), zap.Int64("bytes", n))

	return p.extractor.ExtractFile(path)
}

func (p *Processor) remove(path string) {
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("Failed to remove temp file", zap.String("path", path), zap.Error(err))
		}
		return
	}
	p.metrics.RecordTempFileRemoved("request")
}

func extractionOutcome(err error) string {
	switch {
	case errors.Is(err, invoice.ErrNoTemplate):
		return "no_match"
	case errors.Is(err, invoice.ErrNoText):
		return "no_text"
	default:
		return "error"
	}
}
