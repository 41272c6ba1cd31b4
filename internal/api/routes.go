package api

import (
	"strings"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func (s *Server) setupRoutes() {
	s.app.Use(s.requestLogger())
	s.app.Use(recover.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	s.app.Get("/", s.handleIndex)
	s.app.Post("/upload", s.handleUpload)

	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	api := s.app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/templates", s.handleListTemplates)
}
