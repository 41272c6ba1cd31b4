package api

import (
	_ "embed"
	"errors"
	"io"
	"mime/multipart"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/ocrinvoice/internal/documents"
	apperrors "github.com/gmsas95/ocrinvoice/internal/errors"
	"github.com/gmsas95/ocrinvoice/internal/ocr"
	"github.com/gmsas95/ocrinvoice/internal/security"
)

//go:embed web/index.html
var indexHTML []byte

const defaultContentType = "application/octet-stream"

func (s *Server) handleIndex(c *fiber.Ctx) error {
	c.Type("html", "utf-8")
	return c.Send(indexHTML)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	templates := 0
	if s.templates != nil {
		templates = len(s.templates.Templates())
	}

	return c.JSON(fiber.Map{
		"status":         "healthy",
		"version":        s.version,
		"templates":      templates,
		"ocr_configured": s.config.OCR.APIKey != "",
		"timestamp":      time.Now().Unix(),
	})
}

func (s *Server) handleListTemplates(c *fiber.Ctx) error {
	list := make([]fiber.Map, 0)
	if s.templates != nil {
		for _, t := range s.templates.Templates() {
			list = append(list, fiber.Map{
				"name":     t.Name,
				"issuer":   t.Issuer,
				"keywords": t.Keywords,
				"priority": t.Priority,
			})
		}
	}
	return c.JSON(fiber.Map{"templates": list, "count": len(list)})
}

func (s *Server) handleUpload(c *fiber.Ctx) error {
	fh, err := formFile(c)
	if err != nil {
		return err
	}
	filename := security.CleanFilename(fh.Filename)
	if filename == "" {
		return apperrors.ErrInvalidFile
	}
	if fh.Size > int64(s.config.Upload.MaxBytes) {
		return apperrors.ErrFileTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return apperrors.ErrUnreadableFile.WithCause(err)
	}
	defer f.Close()

	log := s.requestLog(c).With(zap.String("filename", filename))

	if s.config.Upload.MaxPDFPages > 0 {
		if err := s.checkPages(f, log); err != nil {
			return err
		}
	}

	contentType := fh.Header.Get(fiber.HeaderContentType)
	if contentType == "" {
		contentType = defaultContentType
	}
	log.Info("Upload received", zap.Int64("size", fh.Size), zap.String("content_type", contentType))

	res, err := s.pipeline.Process(c.UserContext(), ocr.Upload{
		Filename:    filename,
		ContentType: contentType,
		Body:        f,
	})
	if err != nil {
		return err
	}

	log.Info("Upload processed", zap.Bool("invoice", res.Invoice != nil))
	s.metrics.RecordUpload(fiber.StatusOK)
	return c.JSON(res)
}

// formFile returns the "file" part. A part sent with an empty filename is
// stored as a plain value by the multipart reader, so it is told apart
// from a missing field here.
func formFile(c *fiber.Ctx) (*multipart.FileHeader, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		if form, ferr := c.MultipartForm(); ferr == nil {
			if _, ok := form.Value["file"]; ok {
				return nil, apperrors.ErrInvalidFile
			}
		}
		return nil, apperrors.ErrNoFile
	}
	if fh.Filename == "" {
		return nil, apperrors.ErrInvalidFile
	}
	return fh, nil
}

// checkPages enforces the page limit on PDF uploads. Anything that isn't a
// readable PDF is left for the OCR provider to judge.
func (s *Server) checkPages(f multipart.File, log *zap.Logger) error {
	head := make([]byte, 1024)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return apperrors.ErrUnreadableFile.WithCause(err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return apperrors.ErrUnreadableFile.WithCause(err)
	}
	if !documents.IsPDF(head[:n]) {
		return nil
	}

	pages, err := documents.PageCount(f)
	if err != nil {
		log.Warn("Could not count PDF pages", zap.Error(err))
		return nil
	}
	if pages > s.config.Upload.MaxPDFPages {
		return apperrors.ErrTooManyPages.WithDetails(fiber.Map{"pages": pages, "max": s.config.Upload.MaxPDFPages})
	}
	return nil
}
