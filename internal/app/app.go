// Package app wires the service components together and runs them
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gmsas95/ocrinvoice/internal/api"
	"github.com/gmsas95/ocrinvoice/internal/config"
	"github.com/gmsas95/ocrinvoice/internal/documents"
	"github.com/gmsas95/ocrinvoice/internal/invoice"
	"github.com/gmsas95/ocrinvoice/internal/janitor"
	"github.com/gmsas95/ocrinvoice/internal/metrics"
	"github.com/gmsas95/ocrinvoice/internal/ocr"
	"github.com/gmsas95/ocrinvoice/internal/pipeline"
	"github.com/gmsas95/ocrinvoice/internal/security"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Templates *invoice.Registry
	Extractor *invoice.Extractor
	OCR       *ocr.Client
	Pipeline  *pipeline.Processor
	Server    *api.Server
	Janitor   *janitor.Janitor
	Version   string
}

// New builds every component from cfg. The janitor is nil when disabled.
func New(cfg *config.Config, logger *zap.Logger, version string) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := metrics.New()
	templates := invoice.NewRegistry(cfg.Templates.Dir, cfg.Templates.Builtin, logger.Named("templates"), m)
	extractor := invoice.NewExtractor(templates, documents.NewPDFProcessor(cfg.Upload.MaxPDFPages), logger.Named("invoice"))
	client := ocr.NewClient(ocr.OptionsFromConfig(cfg.OCR), logger.Named("ocr"), m)
	proc := pipeline.New(client, extractor, cfg.Storage.TempDir, logger.Named("pipeline"), m)

	server := api.New(cfg, proc, templates, m, logger.Named("http"))
	server.SetVersion(version)

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   m,
		Templates: templates,
		Extractor: extractor,
		OCR:       client,
		Pipeline:  proc,
		Server:    server,
		Version:   version,
	}

	if cfg.Janitor.Enabled {
		j, err := janitor.New(janitor.Config{
			Dir:      cfg.Storage.TempDir,
			Pattern:  pipeline.TempPattern,
			Schedule: cfg.Janitor.Schedule,
			MaxAge:   cfg.JanitorMaxAge(),
		}, logger.Named("janitor"), m)
		if err != nil {
			return nil, err
		}
		app.Janitor = j
	}

	return app, nil
}

// RunServer serves HTTP, watches templates and runs the janitor until ctx
// is cancelled or one of them fails.
func (app *App) RunServer(ctx context.Context) error {
	if !app.OCR.IsAvailable() {
		app.Logger.Warn("OCR_SPACE_API_KEY is not set, uploads will fail with 500")
	} else {
		app.Logger.Info("OCR provider configured",
			zap.String("endpoint", app.Config.OCR.Endpoint),
			zap.String("api_key", security.Mask(app.Config.OCR.APIKey)),
		)
	}
	app.Logger.Info("Server starting",
		zap.String("version", app.Version),
		zap.String("addr", app.Config.Addr()),
		zap.Int("templates", app.Templates.Len()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.Server.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.Logger.Info("Shutting down...")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Server.Shutdown(sctx); err != nil {
			app.Logger.Error("Server shutdown error", zap.Error(err))
		}
		return nil
	})

	if app.Config.Templates.Watch {
		g.Go(func() error {
			return app.Templates.Watch(gctx)
		})
	}

	if app.Janitor != nil {
		g.Go(func() error {
			return app.Janitor.Run(gctx)
		})
	}

	return g.Wait()
}
