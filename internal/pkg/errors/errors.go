// Package errors provides application errors carrying an HTTP status code
// and a machine-readable reason, so handlers can map service failures to
// responses without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ApplicationError is the canonical error type across service and handler
// layers. Code is an HTTP status code; Reason is a stable identifier meant
// for programmatic handling and log correlation.
type ApplicationError struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`

	cause error
}

func (e *ApplicationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("error: code = %d reason = %s message = %s cause = %v", e.Code, e.Reason, e.Message, e.cause)
	}
	return fmt.Sprintf("error: code = %d reason = %s message = %s", e.Code, e.Reason, e.Message)
}

func (e *ApplicationError) Unwrap() error { return e.cause }

// Is matches on Code and Reason so sentinel errors compare across wrapping.
func (e *ApplicationError) Is(target error) bool {
	var ae *ApplicationError
	if errors.As(target, &ae) {
		return ae.Code == e.Code && ae.Reason == e.Reason
	}
	return false
}

// WithCause attaches an underlying error, preserving Code/Reason/Message.
func (e *ApplicationError) WithCause(cause error) *ApplicationError {
	cp := *e
	cp.cause = cause
	return &cp
}

// New returns an ApplicationError with the given HTTP code, reason and message.
func New(code int, reason, message string) *ApplicationError {
	return &ApplicationError{Code: code, Reason: reason, Message: message}
}

func BadRequest(reason, message string) *ApplicationError {
	return New(http.StatusBadRequest, reason, message)
}

func Unauthorized(reason, message string) *ApplicationError {
	return New(http.StatusUnauthorized, reason, message)
}

func Forbidden(reason, message string) *ApplicationError {
	return New(http.StatusForbidden, reason, message)
}

func NotFound(reason, message string) *ApplicationError {
	return New(http.StatusNotFound, reason, message)
}

func Conflict(reason, message string) *ApplicationError {
	return New(http.StatusConflict, reason, message)
}

func TooManyRequests(reason, message string) *ApplicationError {
	return New(http.StatusTooManyRequests, reason, message)
}

func InternalServer(reason, message string) *ApplicationError {
	return New(http.StatusInternalServerError, reason, message)
}

func ServiceUnavailable(reason, message string) *ApplicationError {
	return New(http.StatusServiceUnavailable, reason, message)
}

func BadGateway(reason, message string) *ApplicationError {
	return New(http.StatusBadGateway, reason, message)
}

// Code extracts the HTTP status code from err, defaulting to 500 for
// unknown error types and 200 for nil.
func Code(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return FromError(err).Code
}

// Reason extracts the reason from err; unknown error types yield "UNKNOWN".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return FromError(err).Reason
}

// FromError converts any error into an *ApplicationError. Wrapped
// ApplicationErrors are unwrapped; everything else becomes an internal error.
func FromError(err error) *ApplicationError {
	if err == nil {
		return nil
	}
	var ae *ApplicationError
	if errors.As(err, &ae) {
		return ae
	}
	return New(http.StatusInternalServerError, "UNKNOWN", err.Error()).WithCause(err)
}
