// Package errors defines the service error type rendered by the HTTP layer
// and the mapping from storage failures onto it.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/atproject/projectone/internal/app/storage"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	CodeBadRequest       Code = "BAD_REQUEST"
	CodeValidation       Code = "VALIDATION_FAILED"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeInternal         Code = "INTERNAL"
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeMethodNotAllowed Code = "METHOD_NOT_ALLOWED"
)

// ServiceError is an error with an HTTP status and optional details.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e with key set in Details.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newError(code Code, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func BadRequest(message string) *ServiceError {
	return newError(CodeBadRequest, http.StatusBadRequest, message, nil)
}

// InvalidJSON reports an undecodable request body.
func InvalidJSON(err error) *ServiceError {
	se := newError(CodeBadRequest, http.StatusBadRequest, "invalid request body", err)
	if err != nil {
		return se.WithDetails("reason", err.Error())
	}
	return se
}

// Validation reports field-level failures keyed by JSON field name.
func Validation(fields map[string]string) *ServiceError {
	se := newError(CodeValidation, http.StatusBadRequest, "validation failed", nil)
	if len(fields) > 0 {
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		se.Details = details
	}
	return se
}

func InvalidFormat(field, reason string) *ServiceError {
	return Validation(map[string]string{field: reason})
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "forbidden"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s %s not found", resource, id), nil)
}

func Conflict(message string, err error) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, err)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func MethodNotAllowed(method string) *ServiceError {
	return newError(CodeMethodNotAllowed, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", method), nil)
}

func Unavailable(message string, err error) *ServiceError {
	return newError(CodeUnavailable, http.StatusServiceUnavailable, message, err)
}

func Internal(message string, err error) *ServiceError {
	if message == "" {
		message = "internal error"
	}
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError returns the ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// FromStorage converts an error returned by a store into a ServiceError.
// Errors that already are ServiceErrors pass through unchanged.
func FromStorage(resource, id string, err error) *ServiceError {
	if err == nil {
		return nil
	}
	if se := GetServiceError(err); se != nil {
		return se
	}
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		return NotFound(resource, id)
	case stderrors.Is(err, storage.ErrConflict):
		return Conflict(fmt.Sprintf("%s conflicts with stored state", resource), err)
	default:
		return Internal("", err)
	}
}
