// Package types provides shared types, interfaces, and errors for the application.
package types

import "errors"

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Admission errors
	ErrQueueFull   = errors.New("task queue full: admission rejected")
	ErrQueueClosed = errors.New("task queue is closed")

	// Pool errors
	ErrPoolExhausted = errors.New("session pool exhausted: no session became available in time")
	ErrPoolClosed    = errors.New("session pool is closed")

	// Session errors
	ErrSpawnFailed      = errors.New("failed to spawn browser session")
	ErrSessionUnhealthy = errors.New("session failed health check")
	ErrSessionCorrupted = errors.New("session state is corrupted")
	ErrSessionLeased    = errors.New("session is already leased")

	// Task errors
	ErrTaskExecution = errors.New("task execution failed")
	ErrTaskTimedOut  = errors.New("task deadline exceeded")
	ErrTaskCancelled = errors.New("task cancelled by caller")

	// Request errors
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidURL      = errors.New("invalid URL")
	ErrUnknownMode     = errors.New("unknown task mode")
	ErrUnknownProfile  = errors.New("unknown extraction profile")
	ErrMissingSelector = errors.New("selector or profile is required for extract mode")
)

// TaskError provides detailed information about a failed task.
// It implements the error interface and supports error unwrapping.
type TaskError struct {
	Mode    string // Task mode that failed: "html", "text", "screenshot", "extract"
	URL     string // Target URL of the task
	Message string // Human-readable error message
	Err     error  // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// NewNavigationError creates a task error for navigation failures.
// The session is presumed healthy; bad URLs and network errors do not corrupt it.
func NewNavigationError(mode, url string, err error) *TaskError {
	return &TaskError{
		Mode:    mode,
		URL:     url,
		Message: "navigation failed: " + err.Error(),
		Err:     errors.Join(ErrTaskExecution, err),
	}
}

// NewExtractionError creates a task error for extraction failures after a
// successful navigation.
func NewExtractionError(mode, url string, err error) *TaskError {
	return &TaskError{
		Mode:    mode,
		URL:     url,
		Message: "extraction failed: " + err.Error(),
		Err:     errors.Join(ErrTaskExecution, err),
	}
}

// NewSessionCorruptedError creates a task error for protocol-level failures
// that leave the browser in an unknown state. Sessions carrying this error are
// destroyed, never reused.
func NewSessionCorruptedError(mode, url string, err error) *TaskError {
	return &TaskError{
		Mode:    mode,
		URL:     url,
		Message: "browser protocol failure: " + err.Error(),
		Err:     errors.Join(ErrSessionCorrupted, err),
	}
}

// IsCorruption reports whether err indicates the session serving the task can
// no longer be trusted and must be discarded.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrSessionCorrupted)
}
