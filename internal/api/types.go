package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/ocrinvoice/internal/config"
	"github.com/gmsas95/ocrinvoice/internal/invoice"
	"github.com/gmsas95/ocrinvoice/internal/metrics"
	"github.com/gmsas95/ocrinvoice/internal/ocr"
	"github.com/gmsas95/ocrinvoice/internal/pipeline"
)

// multipartSlack leaves room for boundaries and headers on top of the
// file size limit, so oversized files reach the handler's own check.
const multipartSlack = 64 << 10

// UploadProcessor turns an upload into the response body
type UploadProcessor interface {
	Process(ctx context.Context, upload ocr.Upload) (*pipeline.Result, error)
}

// TemplateLister exposes the loaded invoice templates
type TemplateLister interface {
	Templates() []*invoice.Template
}

type Server struct {
	app       *fiber.App
	config    *config.Config
	pipeline  UploadProcessor
	templates TemplateLister
	metrics   *metrics.Metrics
	logger    *zap.Logger
	version   string
}

func New(cfg *config.Config, proc UploadProcessor, templates TemplateLister, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:    cfg,
		pipeline:  proc,
		templates: templates,
		metrics:   m,
		logger:    logger,
		version:   "dev",
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "ocrinvoice",
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:           120 * time.Second,
		BodyLimit:             cfg.Upload.MaxBytes + multipartSlack,
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})

	s.setupRoutes()
	return s
}

// SetVersion sets the version reported by the health endpoint
func (s *Server) SetVersion(v string) {
	s.version = v
}

// App exposes the fiber app, mostly for tests
func (s *Server) App() *fiber.App {
	return s.app
}
