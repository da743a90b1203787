// Package apperrors defines the error taxonomy shared by the store, event
// pipeline, and HTTP gateway.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions.
type Kind int

const (
	// KindNotFound marks a task id that does not exist.
	KindNotFound Kind = iota
	// KindAccessDenied marks an owner mismatch on read.
	KindAccessDenied
	// KindConflict marks a duplicate create.
	KindConflict
	// KindInvalidEvent marks a malformed event payload (poison pill).
	KindInvalidEvent
	// KindInvalidTaskType marks a task-type with no routing entry.
	KindInvalidTaskType
	// KindTransient marks a retryable I/O failure.
	KindTransient
	// KindFatal marks a programming error; do not ack, do not retry blindly.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAccessDenied:
		return "access_denied"
	case KindConflict:
		return "conflict"
	case KindInvalidEvent:
		return "invalid_event"
	case KindInvalidTaskType:
		return "invalid_task_type"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a typed error carrying a Kind for classification by callers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err classifies as kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to KindFatal for plain errors
// so unclassified failures are never silently retried or acked.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

var (
	// ErrNotFound is a sentinel for the common not-found case.
	ErrNotFound = New(KindNotFound, "task not found")
	// ErrAccessDenied is a sentinel for the common owner-mismatch case.
	ErrAccessDenied = New(KindAccessDenied, "owner mismatch")
)

// NotFound builds a KindNotFound error with a task-scoped message.
func NotFound(taskID string) *Error {
	return New(KindNotFound, fmt.Sprintf("task %q not found", taskID))
}

// AccessDenied builds a KindAccessDenied error with a task-scoped message.
func AccessDenied(taskID string) *Error {
	return New(KindAccessDenied, fmt.Sprintf("task %q not owned by requester", taskID))
}

// Conflict builds a KindConflict error with a task-scoped message.
func Conflict(taskID string) *Error {
	return New(KindConflict, fmt.Sprintf("task %q already exists", taskID))
}

// InvalidEvent builds a KindInvalidEvent error.
func InvalidEvent(reason string) *Error {
	return New(KindInvalidEvent, reason)
}

// InvalidTaskType builds a KindInvalidTaskType error.
func InvalidTaskType(taskType string) *Error {
	return New(KindInvalidTaskType, fmt.Sprintf("no routing entry for task type %q", taskType))
}

// Transient wraps a retryable I/O error.
func Transient(message string, err error) *Error {
	return Wrap(KindTransient, message, err)
}

// Fatal wraps a non-retryable programming error.
func Fatal(message string, err error) *Error {
	return Wrap(KindFatal, message, err)
}
