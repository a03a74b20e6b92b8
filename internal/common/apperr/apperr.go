// Package apperr defines the orchestrator's closed set of error kinds
// (spec §7) as a single AppError type, so every layer classifies and maps
// errors to HTTP status the same way instead of re-deriving it ad hoc.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the closed set of error origins named in spec §7.
type Kind string

const (
	KindInvalidInput     Kind = "INVALID_INPUT"
	KindUnauthorized     Kind = "UNAUTHORIZED"
	KindForbidden        Kind = "FORBIDDEN"
	KindNotFound         Kind = "NOT_FOUND"
	KindConflict         Kind = "CONFLICT"
	KindSessionExists    Kind = "SESSION_EXISTS"
	KindSessionNotFound  Kind = "SESSION_NOT_FOUND"
	KindSpawnFailed      Kind = "SPAWN_FAILED"
	KindTimeout          Kind = "TIMEOUT"
	KindStorage          Kind = "STORAGE"
	KindChannelClosed    Kind = "CHANNEL_CLOSED"
)

var httpStatus = map[Kind]int{
	KindInvalidInput:    http.StatusBadRequest,
	KindUnauthorized:    http.StatusUnauthorized,
	KindForbidden:       http.StatusForbidden,
	KindNotFound:        http.StatusNotFound,
	KindConflict:        http.StatusConflict,
	KindSessionExists:   http.StatusConflict,
	KindSessionNotFound: http.StatusConflict,
	KindSpawnFailed:     http.StatusServiceUnavailable,
	KindTimeout:         http.StatusGatewayTimeout,
	KindStorage:         http.StatusInternalServerError,
	KindChannelClosed:   http.StatusInternalServerError,
}

// AppError is the application-wide error type. Every error surfaced across a
// component boundary is either an *AppError or gets wrapped into one.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP-equivalent status for this error's kind.
func (e *AppError) HTTPStatus() int {
	if status, ok := httpStatus[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func new_(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// InvalidInput reports a malformed request: bad ids, bad slugs, missing fields.
func InvalidInput(message string) *AppError { return new_(KindInvalidInput, message) }

// Unauthorized reports a bad, expired, or version-stale token.
func Unauthorized(message string) *AppError { return new_(KindUnauthorized, message) }

// Forbidden reports a disabled enrollment or a cross-org access attempt.
func Forbidden(message string) *AppError { return new_(KindForbidden, message) }

// NotFound reports a missing task, execution, host, or organization.
func NotFound(resource, id string) *AppError {
	return new_(KindNotFound, fmt.Sprintf("%s '%s' not found", resource, id))
}

// Conflict reports a duplicate host enrollment or duplicate slug.
func Conflict(message string) *AppError { return new_(KindConflict, message) }

// SessionExists reports a dispatch attempt while a non-terminal execution
// already exists for the task.
func SessionExists(taskID string) *AppError {
	return new_(KindSessionExists, fmt.Sprintf("an active execution already exists for task '%s'", taskID))
}

// SessionNotFound reports a cancel/input call against a missing or terminal
// execution.
func SessionNotFound(message string) *AppError { return new_(KindSessionNotFound, message) }

// SpawnFailed reports that no host was available or that a channel send to a
// host failed.
func SpawnFailed(message string) *AppError { return new_(KindSpawnFailed, message) }

// Timeout reports expiry of the host models-request 30s window.
func Timeout(message string) *AppError { return new_(KindTimeout, message) }

// Storage reports a failed disk write; the caller must not assume the
// in-memory state advanced.
func Storage(message string, err error) *AppError {
	return &AppError{Kind: KindStorage, Message: message, Err: err}
}

// ChannelClosed reports a subscriber that disappeared mid-stream; handled
// locally, the owning forwarder exits.
func ChannelClosed(message string) *AppError { return new_(KindChannelClosed, message) }

// Wrap wraps err with additional context, preserving its Kind if it already
// carries one, otherwise classifying it as Storage.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Kind:    appErr.Kind,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     err,
		}
	}
	return &AppError{Kind: KindStorage, Message: message, Err: err}
}

// Is reports whether err is an *AppError of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// StatusOf returns the HTTP-equivalent status for err, or 500 if err is not
// an *AppError.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}
