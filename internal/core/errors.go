// Package core provides the error taxonomy shared by all repolens packages.
package core

import (
	"fmt"
	"net/http"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeNotFound indicates an unknown handle, repository, or out-of-range page (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
	// ErrorTypeInvalidRequest indicates a client error (400)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates an authentication error (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeLoad indicates an index loader failure (502)
	ErrorTypeLoad ErrorType = "load_error"
	// ErrorTypeConfiguration indicates invalid static configuration (500)
	ErrorTypeConfiguration ErrorType = "configuration_error"
	// ErrorTypeInternal indicates an unexpected internal failure (500)
	ErrorTypeInternal ErrorType = "internal_error"
)

// Error is the base error type for all repolens errors
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	// Default status codes based on error type
	switch e.Type {
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeLoad:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *Error) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *Error {
	return &Error{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewLoadError creates a new load error (502). The original loader error is
// preserved for errors.Is/As but never exposed to clients.
func NewLoadError(message string, err error) *Error {
	return &Error{
		Type:       ErrorTypeLoad,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

// NewConfigurationError creates a new configuration error (500)
func NewConfigurationError(message string) *Error {
	return &Error{
		Type:       ErrorTypeConfiguration,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewInternalError creates a new internal error (500)
func NewInternalError(message string, err error) *Error {
	return &Error{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
