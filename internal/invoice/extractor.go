package invoice

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/gmsas95/ocrinvoice/internal/documents"
)

var (
	// ErrNoText means the document had no readable text layer
	ErrNoText = errors.New("no text in document")
	// ErrNoTemplate means no loaded template recognised the document
	ErrNoTemplate = errors.New("no template matched")
)

// TemplateSource supplies templates in match order
type TemplateSource interface {
	Templates() []*Template
}

// Extractor runs documents through the template set
type Extractor struct {
	source TemplateSource
	reader documents.TextExtractor
	logger *zap.Logger
}

// NewExtractor creates an extractor reading PDFs with reader
func NewExtractor(source TemplateSource, reader documents.TextExtractor, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		source: source,
		reader: reader,
		logger: logger,
	}
}

// ExtractFile reads the PDF at path and extracts an invoice from its text
func (e *Extractor) ExtractFile(path string) (Result, error) {
	text, err := e.reader.ExtractText(path)
	if err != nil {
		return nil, err
	}
	return e.ExtractText(text)
}

// ExtractText runs the first matching template over text. Only the first
// match is tried; an incomplete record is an error, not a cue to keep
// looking.
func (e *Extractor) ExtractText(text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}

	for _, t := range e.source.Templates() {
		if !t.Matches(text) {
			continue
		}

		e.logger.Debug("Template matched", zap.String("template", t.Name), zap.String("issuer", t.Issuer))
		res, err := t.Extract(text)
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	return nil, ErrNoTemplate
}
