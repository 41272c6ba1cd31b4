package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

// requestLogger tags each request with an id and logs it once done
func (s *Server) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		id := c.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)

		log := s.logger.With(zap.String("request_id", id))
		c.Locals(loggerKey, log)

		err := c.Next()
		if err != nil {
			// let the error handler set the final status before logging
			if herr := s.errorHandler(c, err); herr != nil {
				return herr
			}
		}

		log.Info("Request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
		)
		return nil
	}
}

// requestLog returns the request scoped logger
func (s *Server) requestLog(c *fiber.Ctx) *zap.Logger {
	if log, ok := c.Locals(loggerKey).(*zap.Logger); ok {
		return log
	}
	return s.logger
}
