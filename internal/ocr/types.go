// Package ocr is a client for the OCR.space parse API
package ocr

import (
	"encoding/json"
	"io"
	"strings"

	apperrors "github.com/gmsas95/ocrinvoice/internal/errors"
)

// Upload is the document forwarded to the provider
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Response is the subset of the OCR.space reply we rely on
type Response struct {
	ParsedResults         []ParsedResult `json:"ParsedResults"`
	IsErroredOnProcessing bool           `json:"IsErroredOnProcessing"`
	ErrorMessage          Messages       `json:"ErrorMessage"`
	ErrorDetails          Messages       `json:"ErrorDetails"`
	SearchablePDFURL      string         `json:"SearchablePDFURL"`
}

// ParsedResult is one page (or file) worth of recognised text
type ParsedResult struct {
	FileParseExitCode int      `json:"FileParseExitCode"`
	ParsedText        string   `json:"ParsedText"`
	ErrorMessage      Messages `json:"ErrorMessage"`
	ErrorDetails      Messages `json:"ErrorDetails"`
	SearchablePDFURL  string   `json:"SearchablePDFURL"`
}

// Messages holds a provider message payload. OCR.space sends a string or a
// list of strings depending on the failure; any other JSON value is kept as
// decoded so it can still be surfaced.
type Messages struct {
	value any
}

func (m *Messages) UnmarshalJSON(b []byte) error {
	m.value = nil

	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s != "" {
			m.value = s
		}
		return nil
	}

	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		switch len(list) {
		case 0:
		case 1:
			m.value = list[0]
		default:
			m.value = list
		}
		return nil
	}

	var other any
	if err := json.Unmarshal(b, &other); err != nil {
		return err
	}
	m.value = other
	return nil
}

// Value returns nil, the single message, the whole list, or whatever other
// JSON value the provider sent.
func (m Messages) Value() any {
	return m.value
}

// Err reports a provider-side processing failure
func (r *Response) Err() error {
	if !r.IsErroredOnProcessing {
		return nil
	}

	details := r.ErrorMessage.Value()
	if details == nil {
		details = r.ErrorDetails.Value()
	}
	return apperrors.ErrOCRProcessing.WithDetails(details)
}

// ParsedText returns the first result's text, or "" without results
func (r *Response) ParsedText() string {
	if len(r.ParsedResults) == 0 {
		return ""
	}
	return r.ParsedResults[0].ParsedText
}

// PDFURL returns the generated searchable PDF location, or "" when the
// provider produced none. OCR.space puts a sentence instead of a URL in
// the field when no PDF was requested, so only http(s) values count.
func (r *Response) PDFURL() string {
	if len(r.ParsedResults) == 0 {
		return ""
	}
	for _, u := range []string{r.ParsedResults[0].SearchablePDFURL, r.SearchablePDFURL} {
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			return u
		}
	}
	return ""
}
