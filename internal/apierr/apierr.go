// Package apierr defines the typed error carried across the boundary
// between the domain layer (internal/workshop) and the HTTP layer
// (internal/httpapi), generalizing the teacher's JSON-RPC RPCError (a typed
// error carrying a numeric code) from RPC error codes to HTTP statuses.
package apierr

import (
	"fmt"
	"net/http"
)

// APIError is a domain error carrying the HTTP status it maps to.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// New builds an APIError with a formatted message.
func New(status int, format string, args ...any) *APIError {
	return &APIError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// BadRequest builds a 400 APIError.
func BadRequest(format string, args ...any) *APIError {
	return New(http.StatusBadRequest, format, args...)
}

// NotFound builds a 404 APIError.
func NotFound(format string, args ...any) *APIError {
	return New(http.StatusNotFound, format, args...)
}

// Conflict builds a 409 APIError.
func Conflict(format string, args ...any) *APIError {
	return New(http.StatusConflict, format, args...)
}

// Forbidden builds a 403 APIError.
func Forbidden(format string, args ...any) *APIError {
	return New(http.StatusForbidden, format, args...)
}
