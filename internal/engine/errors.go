package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/reviewpc/internal/batch"
)

// RuntimeError represents an error detected while processing an event.
//
// Illegal transitions are reported, not raised: an ignored key or command
// yields an Outcome carrying an ILLEGAL_TRANSITION error, and the loop keeps
// running.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// State is the machine state when the error occurred, if relevant.
	State string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeInvalidConfiguration indicates a rejected batch configuration.
	ErrCodeInvalidConfiguration RuntimeErrorCode = "INVALID_CONFIGURATION"

	// ErrCodeIllegalTransition indicates an input not valid in the current state.
	ErrCodeIllegalTransition RuntimeErrorCode = "ILLEGAL_TRANSITION"

	// ErrCodeQueueClosed indicates the engine no longer accepts events.
	ErrCodeQueueClosed RuntimeErrorCode = "QUEUE_CLOSED"

	// ErrCodeUnknownEvent indicates a malformed or unrecognised event.
	ErrCodeUnknownEvent RuntimeErrorCode = "UNKNOWN_EVENT"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s: %s (state=%s)", e.Code, e.Message, e.State)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsIllegalTransition returns true if err reports an ignored input.
func IsIllegalTransition(err error) bool {
	return hasCode(err, ErrCodeIllegalTransition)
}

// IsInvalidConfiguration returns true for a rejected configuration, whether
// reported by the engine or directly by the state machine.
func IsInvalidConfiguration(err error) bool {
	return hasCode(err, ErrCodeInvalidConfiguration) || batch.IsInvalidConfiguration(err)
}

// IsQueueClosed returns true if the engine was stopped.
func IsQueueClosed(err error) bool {
	return hasCode(err, ErrCodeQueueClosed)
}

// NewIllegalTransition creates a RuntimeError for an ignored input.
func NewIllegalTransition(input string, state batch.State) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeIllegalTransition,
		Message: fmt.Sprintf("%s not handled", input),
		State:   state.String(),
		Details: map[string]string{"input": input},
	}
}

// NewConfigurationError wraps a state machine configuration error.
func NewConfigurationError(err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidConfiguration,
		Message: err.Error(),
		Err:     err,
	}
}

var errQueueClosed = &RuntimeError{
	Code:    ErrCodeQueueClosed,
	Message: "engine stopped",
}
