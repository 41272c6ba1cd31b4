package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmsas95/ocrinvoice/internal/documents"
	apperrors "github.com/gmsas95/ocrinvoice/internal/errors"
	"github.com/gmsas95/ocrinvoice/internal/invoice"
	"github.com/gmsas95/ocrinvoice/internal/ocr"
)

const fakePDF = "%PDF-1.4 searchable"

// stubExtractor records the path it was given and whether the file existed
type stubExtractor struct {
	path    string
	content string
	result  invoice.Result
	err     error
	panic   bool
}

func (s *stubExtractor) ExtractFile(path string) (invoice.Result, error) {
	s.path = path
	if data, err := os.ReadFile(path); err == nil {
		s.content = string(data)
	}
	if s.panic {
		panic("extractor exploded")
	}
	return s.result, s.err
}

// ocrServer fakes both the parse endpoint and the searchable PDF host
func ocrServer(t *testing.T, reply func(base string) any, pdfStatus int) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/parse":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(reply(srv.URL))
		case "/pdf":
			w.WriteHeader(pdfStatus)
			_, _ = w.Write([]byte(fakePDF))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func withPDF(base string) any {
	return map[string]any{
		"ParsedResults": []map[string]any{{
			"ParsedText":       "Fattura n. 1\r\nTotale 10,00",
			"SearchablePDFURL": base + "/pdf",
		}},
		"IsErroredOnProcessing": false,
	}
}

func newProcessor(t *testing.T, srv *httptest.Server, apiKey string, ex InvoiceExtractor) (*Processor, string) {
	t.Helper()
	client := ocr.NewClient(ocr.Options{
		APIKey:   apiKey,
		Endpoint: srv.URL + "/parse",
	}, zap.NewNop(), nil)
	dir := t.TempDir()
	return New(client, ex, dir, zap.NewNop(), nil), dir
}

func upload() ocr.Upload {
	return ocr.Upload{Filename: "fattura.jpg", ContentType: "image/jpeg", Body: strings.NewReader("jpeg")}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files left behind")
}

func TestProcess_MissingAPIKey(t *testing.T) {
	var called atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}))
	defer srv.Close()

	p, _ := newProcessor(t, srv, "", &stubExtractor{})
	_, err := p.Process(context.Background(), upload())

	assert.ErrorIs(t, err, apperrors.ErrMissingAPIKey)
	assert.Equal(t, http.StatusInternalServerError, apperrors.StatusOf(err))
	assert.False(t, called.Load())
}

func TestProcess_ProcessingError(t *testing.T) {
	srv := ocrServer(t, func(string) any {
		return map[string]any{
			"IsErroredOnProcessing": true,
			"ErrorMessage":          []string{"File failed validation"},
		}
	}, http.StatusOK)

	ex := &stubExtractor{}
	p, _ := newProcessor(t, srv, "key", ex)
	_, err := p.Process(context.Background(), upload())

	require.Error(t, err)
	var appErr *apperrors.AppError
	require.True(t, apperrors.As(err, &appErr))
	assert.Equal(t, "OCR_002", appErr.Code)
	assert.Equal(t, http.StatusBadGateway, appErr.Status)
	assert.Equal(t, "File failed validation", appErr.Details)
	assert.Empty(t, ex.path)
}

func TestProcess_NoSearchablePDF(t *testing.T) {
	srv := ocrServer(t, func(string) any {
		return map[string]any{
			"ParsedResults":         []map[string]any{{"ParsedText": "  testo grezzo\r\n"}},
			"IsErroredOnProcessing": false,
		}
	}, http.StatusOK)

	ex := &stubExtractor{}
	p, _ := newProcessor(t, srv, "key", ex)
	res, err := p.Process(context.Background(), upload())

	require.NoError(t, err)
	assert.Nil(t, res.Invoice)
	assert.Equal(t, "  testo grezzo\r\n", res.RawText)
	assert.Empty(t, ex.path)
}

func TestProcess_Success(t *testing.T) {
	srv := ocrServer(t, withPDF, http.StatusOK)

	ex := &stubExtractor{result: invoice.Result{"issuer": "ACME", "amount": 10.0}}
	p, dir := newProcessor(t, srv, "key", ex)
	res, err := p.Process(context.Background(), upload())

	require.NoError(t, err)
	assert.Equal(t, "ACME", res.Invoice["issuer"])
	assert.Equal(t, "Fattura n. 1\r\nTotale 10,00", res.RawText)

	// the extractor saw the downloaded PDF, and it is gone now
	assert.Equal(t, fakePDF, ex.content)
	assert.True(t, strings.HasPrefix(ex.path, dir))
	assert.Contains(t, ex.path, TempPrefix)
	assert.NoFileExists(t, ex.path)
	assertEmptyDir(t, dir)
}

func TestProcess_SearchablePDFThroughBuiltinTemplates(t *testing.T) {
	fixture, err := os.ReadFile(filepath.Join("..", "documents", "testdata", "invoice_tstar.pdf"))
	require.NoError(t, err)

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/parse":
			_ = json.NewEncoder(w).Encode(withPDF(srv.URL))
		case "/pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write(fixture)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	registry := invoice.NewRegistry("", true, zap.NewNop(), nil)
	ex := invoice.NewExtractor(registry, documents.NewPDFProcessor(0), zap.NewNop())
	p, dir := newProcessor(t, srv, "key", ex)

	res, err := p.Process(context.Background(), upload())
	require.NoError(t, err)
	require.NotNil(t, res.Invoice)

	assert.Equal(t, "Fattura generica", res.Invoice["issuer"])
	assert.Equal(t, 244.0, res.Invoice["amount"])
	assert.Equal(t, "2024-01-15", res.Invoice["date"])
	assert.Equal(t, "2024/17", res.Invoice["invoice_number"])
	assert.Equal(t, "01234567890", res.Invoice["vat"])

	lines, ok := res.Invoice["lines"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, lines, 1)
	assert.Equal(t, "Consulenza tecnica", lines[0]["description"])
	assert.Equal(t, int64(2), lines[0]["qty"])

	assertEmptyDir(t, dir)
}

func TestProcess_ExtractionFailureKeepsRawText(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"no template", invoice.ErrNoTemplate},
		{"unreadable pdf", errors.New("failed to open PDF")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := ocrServer(t, withPDF, http.StatusOK)
			ex := &stubExtractor{err: tt.err}
			p, dir := newProcessor(t, srv, "key", ex)

			res, err := p.Process(context.Background(), upload())
			require.NoError(t, err)
			assert.Nil(t, res.Invoice)
			assert.NotEmpty(t, res.RawText)
			assertEmptyDir(t, dir)
		})
	}
}

func TestProcess_DownloadFailure(t *testing.T) {
	srv := ocrServer(t, withPDF, http.StatusNotFound)

	ex := &stubExtractor{}
	p, dir := newProcessor(t, srv, "key", ex)
	_, err := p.Process(context.Background(), upload())

	assert.ErrorIs(t, err, apperrors.ErrPDFDownload)
	assert.Equal(t, http.StatusBadGateway, apperrors.StatusOf(err))
	assert.Empty(t, ex.path)
	assertEmptyDir(t, dir)
}

func TestProcess_ExtractorPanicStillCleansUp(t *testing.T) {
	srv := ocrServer(t, withPDF, http.StatusOK)

	ex := &stubExtractor{panic: true}
	p, dir := newProcessor(t, srv, "key", ex)

	assert.Panics(t, func() {
		_, _ = p.Process(context.Background(), upload())
	})
	assert.NotEmpty(t, ex.path)
	assertEmptyDir(t, dir)
}

func TestExtractionOutcome(t *testing.T) {
	assert.Equal(t, "no_match", extractionOutcome(invoice.ErrNoTemplate))
	assert.Equal(t, "no_text", extractionOutcome(invoice.ErrNoText))
	assert.Equal(t, "error", extractionOutcome(errors.New("x")))
}
