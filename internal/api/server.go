package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/ocrinvoice/internal/errors"
)

// Start listens on the configured address and blocks until shutdown
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.config.Addr()))
	return s.app.Listen(s.config.Addr())
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler renders errors that escape handlers, and those fiber raises
// before routing (body limit, unknown route).
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		if fe.Code == fiber.StatusRequestEntityTooLarge {
			err = apperrors.ErrFileTooLarge
		} else {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}
	}

	if c.Path() == "/upload" {
		defer func() { s.metrics.RecordUpload(c.Response().StatusCode()) }()
	}
	return s.fail(c, err)
}

// fail writes err as {"error": message}, adding the provider payload for
// OCR failures.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	var appErr *apperrors.AppError
	if !apperrors.As(err, &appErr) {
		appErr = apperrors.ErrInternal.WithCause(err)
	}

	body := fiber.Map{"error": appErr.Message}
	switch appErr.Code {
	case apperrors.ErrOCRInvalidResponse.Code:
		body["raw"] = appErr.Details
	case apperrors.ErrOCRProcessing.Code:
		body["details"] = appErr.Details
	}

	status := apperrors.StatusOf(appErr)
	log := s.requestLog(c).With(zap.String("code", appErr.Code), zap.Int("status", status))
	if status >= fiber.StatusInternalServerError {
		log.Error("Request failed", zap.Error(err))
	} else {
		log.Warn("Request rejected", zap.Error(err))
	}

	return c.Status(status).JSON(body)
}
