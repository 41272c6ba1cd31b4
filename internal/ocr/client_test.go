package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmsas95/ocrinvoice/internal/config"
	apperrors "github.com/gmsas95/ocrinvoice/internal/errors"
)

func testOptions(endpoint string) Options {
	return Options{
		APIKey:              "test-key",
		Endpoint:            endpoint,
		Language:            "ita",
		Engine:              2,
		IsTable:             true,
		Scale:               true,
		CreateSearchablePDF: true,
		Timeout:             5 * time.Second,
	}
}

func testUpload() Upload {
	return Upload{
		Filename:    "fattura.jpg",
		ContentType: "image/jpeg",
		Body:        strings.NewReader("fake image bytes"),
	}
}

func TestParse_SendsFixedParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("apikey"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "ita", r.FormValue("language"))
		assert.Equal(t, "2", r.FormValue("OCREngine"))
		assert.Equal(t, "true", r.FormValue("isTable"))
		assert.Equal(t, "true", r.FormValue("scale"))
		assert.Equal(t, "true", r.FormValue("isCreateSearchablePdf"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "fattura.jpg", header.Filename)
		assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))
		data, _ := io.ReadAll(file)
		assert.Equal(t, "fake image bytes", string(data))

		json.NewEncoder(w).Encode(map[string]any{
			"ParsedResults": []map[string]any{
				{"ParsedText": "FATTURA N. 12\r\nTOTALE 10,00", "SearchablePDFURL": "https://example.test/x.pdf"},
			},
			"IsErroredOnProcessing": false,
		})
	}))
	defer srv.Close()

	c := NewClient(testOptions(srv.URL), nil, nil)
	resp, err := c.Parse(context.Background(), testUpload())
	require.NoError(t, err)
	require.NoError(t, resp.Err())

	assert.Equal(t, "FATTURA N. 12\r\nTOTALE 10,00", resp.ParsedText())
	assert.Equal(t, "https://example.test/x.pdf", resp.PDFURL())
}

func TestParse_InvalidJSON(t *testing.T) {
	body := strings.Repeat("x", 1500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewClient(testOptions(srv.URL), nil, nil)
	_, err := c.Parse(context.Background(), testUpload())
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, apperrors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrOCRInvalidResponse.Code, appErr.Code)
	assert.Equal(t, http.StatusBadGateway, appErr.Status)
	assert.Len(t, appErr.Details, 1000)
}

func TestParse_InvalidJSONRedactsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>proxy error, request apikey=" + r.Header.Get("apikey") + "</html>"))
	}))
	defer srv.Close()

	c := NewClient(testOptions(srv.URL), nil, nil)
	_, err := c.Parse(context.Background(), testUpload())

	var appErr *apperrors.AppError
	require.True(t, apperrors.As(err, &appErr))
	assert.NotContains(t, appErr.Details, "test-key")
	assert.Contains(t, appErr.Details, "proxy error")
}

func TestParse_ServerErrorWithJSONBodyStillDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"IsErroredOnProcessing": true, "ErrorMessage": ["Server busy"]}`))
	}))
	defer srv.Close()

	c := NewClient(testOptions(srv.URL), nil, nil)
	resp, err := c.Parse(context.Background(), testUpload())
	require.NoError(t, err)

	procErr := resp.Err()
	require.Error(t, procErr)
	assert.True(t, apperrors.Is(procErr, apperrors.ErrOCRProcessing))
}

func TestParse_ProcessingError(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		details any
	}{
		{
			name:    "message list",
			body:    `{"IsErroredOnProcessing": true, "ErrorMessage": ["File failed validation", "Bad type"]}`,
			details: []string{"File failed validation", "Bad type"},
		},
		{
			name:    "single message",
			body:    `{"IsErroredOnProcessing": true, "ErrorMessage": ["Timed out waiting for results"]}`,
			details: "Timed out waiting for results",
		},
		{
			name:    "string message",
			body:    `{"IsErroredOnProcessing": true, "ErrorMessage": "Invalid API key"}`,
			details: "Invalid API key",
		},
		{
			name:    "falls back to details",
			body:    `{"IsErroredOnProcessing": true, "ErrorMessage": null, "ErrorDetails": "E101"}`,
			details: "E101",
		},
		{
			name:    "structured message",
			body:    `{"IsErroredOnProcessing": true, "ErrorMessage": [{"msg": "bad"}]}`,
			details: []any{map[string]any{"msg": "bad"}},
		},
		{
			name:    "numeric code",
			body:    `{"IsErroredOnProcessing": true, "ErrorMessage": 99}`,
			details: float64(99),
		},
		{
			name:    "nothing to report",
			body:    `{"IsErroredOnProcessing": true}`,
			details: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp Response
			require.NoError(t, json.Unmarshal([]byte(tt.body), &resp))

			err := resp.Err()
			require.Error(t, err)

			var appErr *apperrors.AppError
			require.True(t, apperrors.As(err, &appErr))
			assert.Equal(t, "Errore in OCR.space", appErr.Message)
			assert.Equal(t, tt.details, appErr.Details)
		})
	}
}

func TestParse_StructuredErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"IsErroredOnProcessing": true, "ErrorMessage": [{"msg": "bad"}]}`))
	}))
	defer srv.Close()

	c := NewClient(testOptions(srv.URL), nil, nil)
	resp, err := c.Parse(context.Background(), testUpload())
	require.NoError(t, err)

	procErr := resp.Err()
	assert.True(t, apperrors.Is(procErr, apperrors.ErrOCRProcessing))
	assert.False(t, apperrors.Is(procErr, apperrors.ErrOCRInvalidResponse))
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.OCRConfig{
		APIKey:         "k",
		Timeout:        90,
		BreakerTimeout: 15,
	})
	assert.Equal(t, 90*time.Second, opts.Timeout)
	assert.Equal(t, 15*time.Second, opts.BreakerTimeout)
}

func TestResponse_PDFURL(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no results", `{"SearchablePDFURL": "https://a/b.pdf"}`, ""},
		{"per result", `{"ParsedResults": [{"SearchablePDFURL": "https://a/r.pdf"}]}`, "https://a/r.pdf"},
		{"top level", `{"ParsedResults": [{}], "SearchablePDFURL": "https://a/t.pdf"}`, "https://a/t.pdf"},
		{"not requested", `{"ParsedResults": [{}], "SearchablePDFURL": "Searchable PDF not generated as it was not requested."}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp Response
			require.NoError(t, json.Unmarshal([]byte(tt.body), &resp))
			assert.Equal(t, tt.want, resp.PDFURL())
		})
	}
}

func TestParse_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(testOptions(url), nil, nil)
	_, err := c.Parse(context.Background(), testUpload())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrOCRUnavailable))
	assert.Equal(t, http.StatusBadGateway, apperrors.StatusOf(err))
}

func TestParse_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	opts := testOptions(srv.URL)
	opts.BreakerFailures = 2
	opts.BreakerTimeout = time.Minute
	c := NewClient(opts, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := c.Parse(context.Background(), testUpload())
		assert.True(t, apperrors.Is(err, apperrors.ErrOCRInvalidResponse))
	}

	_, err := c.Parse(context.Background(), testUpload())
	assert.True(t, apperrors.Is(err, apperrors.ErrOCRUnavailable))
	assert.Equal(t, int32(2), calls.Load())
}

func TestParse_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ParsedResults": []}`))
	}))
	defer srv.Close()

	opts := testOptions(srv.URL)
	opts.RPM = 1
	opts.Burst = 1
	c := NewClient(opts, nil, nil)

	_, err := c.Parse(context.Background(), testUpload())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Parse(ctx, testUpload())
	assert.True(t, apperrors.Is(err, apperrors.ErrOCRUnavailable))
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.pdf" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer srv.Close()

	c := NewClient(testOptions(srv.URL), nil, nil)

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), srv.URL+"/doc.pdf", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)
	assert.Equal(t, "%PDF-1.4 fake", buf.String())

	_, err = c.Download(context.Background(), srv.URL+"/missing.pdf", &buf)
	assert.True(t, apperrors.Is(err, apperrors.ErrPDFDownload))
}

func TestIsAvailable(t *testing.T) {
	assert.True(t, NewClient(testOptions("http://x"), nil, nil).IsAvailable())

	opts := testOptions("http://x")
	opts.APIKey = ""
	assert.False(t, NewClient(opts, nil, nil).IsAvailable())
}
