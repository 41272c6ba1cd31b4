package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gmsas95/ocrinvoice/internal/config"
	apperrors "github.com/gmsas95/ocrinvoice/internal/errors"
	"github.com/gmsas95/ocrinvoice/internal/metrics"
	"github.com/gmsas95/ocrinvoice/internal/security"
)

const (
	// rawPreviewLimit bounds the body echoed back when the reply isn't JSON
	rawPreviewLimit = 1000
	maxReplyBytes   = 16 << 20
)

// Processor is what the upload pipeline needs from an OCR provider
type Processor interface {
	Parse(ctx context.Context, upload Upload) (*Response, error)
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
	IsAvailable() bool
}

// Options holds the fixed request parameters and client limits
type Options struct {
	APIKey              string
	Endpoint            string
	Language            string
	Engine              int
	IsTable             bool
	Scale               bool
	CreateSearchablePDF bool
	Timeout             time.Duration

	RPM             int
	Burst           int
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// OptionsFromConfig maps the ocr config section to client options
func OptionsFromConfig(cfg config.OCRConfig) Options {
	return Options{
		APIKey:              cfg.APIKey,
		Endpoint:            cfg.Endpoint,
		Language:            cfg.Language,
		Engine:              cfg.Engine,
		IsTable:             cfg.IsTable,
		Scale:               cfg.Scale,
		CreateSearchablePDF: cfg.CreateSearchablePDF,
		Timeout:             cfg.RequestTimeout(),
		RPM:                 cfg.RPM,
		Burst:               cfg.Burst,
		BreakerFailures:     cfg.BreakerFailures,
		BreakerTimeout:      cfg.BreakerOpenFor(),
	}
}

// reply is what survives a round trip through the breaker
type reply struct {
	status int
	body   []byte
}

var errServerStatus = errors.New("ocr provider returned a server error")

// Client talks to OCR.space
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[reply]
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new OCR.space client
func NewClient(opts Options, logger *zap.Logger, m *metrics.Metrics) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 180 * time.Second
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}

	c := &Client{
		opts:    opts,
		http:    &http.Client{Timeout: opts.Timeout},
		logger:  logger,
		metrics: m,
	}

	if opts.RPM > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(opts.RPM)/60.0), burst)
	}

	failures := uint32(opts.BreakerFailures)
	c.breaker = gobreaker.NewCircuitBreaker[reply](gobreaker.Settings{
		Name:        "ocr.space",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("OCR circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			m.SetBreakerOpen(to != gobreaker.StateClosed)
		},
	})

	return c
}

// IsAvailable reports whether an API key is configured
func (c *Client) IsAvailable() bool {
	return c.opts.APIKey != ""
}

// Parse sends the upload to the parse endpoint and decodes the reply.
// A reply that isn't JSON yields ErrOCRInvalidResponse with a preview of
// the body; processing failures are left to Response.Err.
func (c *Client) Parse(ctx context.Context, upload Upload) (*Response, error) {
	body, contentType, err := c.buildForm(upload)
	if err != nil {
		return nil, apperrors.ErrUnreadableFile.WithCause(err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperrors.ErrOCRUnavailable.WithCause(fmt.Errorf("rate limit wait: %w", err))
		}
	}

	start := time.Now()
	rep, err := c.breaker.Execute(func() (reply, error) {
		return c.post(ctx, body, contentType)
	})
	elapsed := time.Since(start)

	if err != nil && !errors.Is(err, errServerStatus) {
		c.metrics.RecordOCRRequest("transport_error", elapsed)
		c.logger.Warn("OCR request failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		return nil, apperrors.ErrOCRUnavailable.WithCause(err)
	}

	var resp Response
	if jsonErr := json.Unmarshal(rep.body, &resp); jsonErr != nil {
		c.metrics.RecordOCRRequest("invalid_response", elapsed)
		c.logger.Warn("OCR reply is not JSON",
			zap.Int("status", rep.status),
			zap.Int("bytes", len(rep.body)),
			zap.Error(jsonErr),
		)
		return nil, apperrors.ErrOCRInvalidResponse.WithDetails(preview([]byte(security.Redact(string(rep.body), c.opts.APIKey)))).WithCause(jsonErr)
	}

	if resp.IsErroredOnProcessing {
		c.metrics.RecordOCRRequest("processing_error", elapsed)
	} else {
		c.metrics.RecordOCRRequest("ok", elapsed)
	}

	c.logger.Debug("OCR reply decoded",
		zap.Int("status", rep.status),
		zap.Int("results", len(resp.ParsedResults)),
		zap.Bool("errored", resp.IsErroredOnProcessing),
		zap.Duration("elapsed", elapsed),
	)

	return &resp, nil
}

func (c *Client) buildForm(upload Upload) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, upload.Filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, upload.Body); err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}

	fields := []struct{ key, value string }{
		{"language", c.opts.Language},
		{"OCREngine", strconv.Itoa(c.opts.Engine)},
		{"isTable", strconv.FormatBool(c.opts.IsTable)},
		{"scale", strconv.FormatBool(c.opts.Scale)},
		{"isCreateSearchablePdf", strconv.FormatBool(c.opts.CreateSearchablePDF)},
	}
	for _, f := range fields {
		if err := w.WriteField(f.key, f.value); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (c *Client) post(ctx context.Context, body *bytes.Buffer, contentType string) (reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body.Bytes()))
	if err != nil {
		return reply{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("apikey", c.opts.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return reply{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return reply{}, fmt.Errorf("failed to read response: %w", err)
	}

	rep := reply{status: resp.StatusCode, body: data}
	if resp.StatusCode >= http.StatusInternalServerError {
		return rep, fmt.Errorf("%w: status %d", errServerStatus, resp.StatusCode)
	}
	return rep, nil
}

// Download streams the searchable PDF at url into w
func (c *Client) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.metrics.RecordPDFDownload("error")
		return 0, apperrors.ErrPDFDownload.WithCause(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordPDFDownload("error")
		return 0, apperrors.ErrPDFDownload.WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordPDFDownload("error")
		return 0, apperrors.ErrPDFDownload.WithCause(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		c.metrics.RecordPDFDownload("error")
		return n, apperrors.ErrPDFDownload.WithCause(err)
	}

	c.metrics.RecordPDFDownload("ok")
	return n, nil
}

func preview(body []byte) string {
	runes := []rune(string(body))
	if len(runes) > rawPreviewLimit {
		runes = runes[:rawPreviewLimit]
	}
	return string(runes)
}
