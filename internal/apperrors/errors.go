// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInternal          = errors.New("internal error")
	ErrRender            = errors.New("template render failed")
	ErrActionNotFound    = errors.New("action script not found")
	ErrTransfer          = errors.New("remote step failed")
	ErrRemoteUnavailable = errors.New("remote host unavailable")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "id", "case.label")
	Resource string // For not found/conflict (e.g., "job")
	Action   string // For missing action scripts (e.g., "RUN")
	Op       string // Operation that failed (e.g., "staging.copy")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the sentinel for classification and the cause for inspection.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Render reports a template that could not be read, parsed or written.
// It is a problem with the job definition, not the remote host.
func Render(path string, cause error) error {
	return &Error{
		Sentinel: ErrRender,
		Message:  fmt.Sprintf("unable to render template %s: %v", path, cause),
		Field:    "templates",
		Op:       "render",
		Cause:    cause,
	}
}

// ActionNotFound reports a job with no script tagged for the requested action.
func ActionNotFound(action string) error {
	return &Error{
		Sentinel: ErrActionNotFound,
		Message:  fmt.Sprintf("%s script not found", action),
		Action:   action,
	}
}

// Transfer reports a remote step (copy, mkdir, command) that failed after the
// session was established. Remote state is left as-is.
func Transfer(op string, cause error) error {
	return &Error{
		Sentinel: ErrTransfer,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// RemoteUnavailable reports that no session could be opened to the compute host.
func RemoteUnavailable(host string, cause error) error {
	return &Error{
		Sentinel: ErrRemoteUnavailable,
		Message:  "Unable to connect to backend compute resource",
		Resource: host,
		Op:       "remote.dial",
		Cause:    cause,
	}
}
