package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/orbdash/internal/loop"
	"github.com/phrazzld/orbdash/internal/task"
	"github.com/phrazzld/orbdash/internal/widget"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		return http.StatusBadRequest

	case errors.Is(err, widget.ErrUnknownWidget):
		return http.StatusNotFound

	case errors.Is(err, task.ErrDuplicate):
		return http.StatusConflict

	// Saturation and shutdown
	case errors.Is(err, loop.ErrMailboxFull),
		errors.Is(err, loop.ErrStopped),
		errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrDispatcherClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type.
func GetSafeErrorMessage(err error) string {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		return "Invalid query parameters"
	case errors.Is(err, widget.ErrUnknownWidget):
		return "Widget not found"
	case errors.Is(err, task.ErrDuplicate):
		return "Request already pending"
	case errors.Is(err, loop.ErrMailboxFull), errors.Is(err, task.ErrQueueFull):
		return "Dashboard is busy, try again shortly"
	case errors.Is(err, loop.ErrStopped), errors.Is(err, task.ErrDispatcherClosed):
		return "Dashboard is shutting down"
	default:
		return "An unexpected error occurred"
	}
}
