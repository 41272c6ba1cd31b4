package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError is an error that knows how it should be shown to a client.
// Message is the client-facing text; Details carries extra payload such as
// the provider's own error message.
type AppError struct {
	Code    string
	Message string
	Status  int
	Details any
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so wrapped copies of predefined errors compare equal.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy carrying details
func (e *AppError) WithDetails(details any) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause returns a copy wrapping cause
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

var (
	ErrNoFile         = &AppError{Code: "UPLOAD_001", Message: "Nessun file nella richiesta (field name: file).", Status: http.StatusBadRequest}
	ErrInvalidFile    = &AppError{Code: "UPLOAD_002", Message: "File non valido.", Status: http.StatusBadRequest}
	ErrFileTooLarge   = &AppError{Code: "UPLOAD_003", Message: "File troppo grande.", Status: http.StatusRequestEntityTooLarge}
	ErrTooManyPages   = &AppError{Code: "UPLOAD_004", Message: "Il PDF ha troppe pagine.", Status: http.StatusUnprocessableEntity}
	ErrUnreadableFile = &AppError{Code: "UPLOAD_005", Message: "Impossibile leggere il file caricato.", Status: http.StatusBadRequest}

	ErrMissingAPIKey = &AppError{Code: "CONFIG_001", Message: "Manca la variabile OCR_SPACE_API_KEY.", Status: http.StatusInternalServerError}

	ErrOCRInvalidResponse = &AppError{Code: "OCR_001", Message: "Risposta OCR non valida.", Status: http.StatusBadGateway}
	ErrOCRProcessing      = &AppError{Code: "OCR_002", Message: "Errore in OCR.space", Status: http.StatusBadGateway}
	ErrOCRUnavailable     = &AppError{Code: "OCR_003", Message: "Servizio OCR non raggiungibile.", Status: http.StatusBadGateway}
	ErrPDFDownload        = &AppError{Code: "OCR_004", Message: "Impossibile scaricare il PDF ricercabile.", Status: http.StatusBadGateway}

	ErrInternal = &AppError{Code: "GEN_001", Message: "Errore interno.", Status: http.StatusInternalServerError}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// StatusOf returns the HTTP status for err, 500 for foreign errors
func StatusOf(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// As exposes errors.As so callers don't need both packages
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is exposes errors.Is so callers don't need both packages
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
