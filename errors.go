package mediapod

import (
	"errors"
	"fmt"
)

var (
	ErrSessionClosed    = errors.New("session has been closed")
	ErrSessionNotFound  = errors.New("session not found")
	ErrMessagePublished = errors.New("output message already published")
	ErrStatusFinal      = errors.New("content status is final")
	ErrEmptyPayload     = errors.New("empty content payload")
	ErrPayloadType      = errors.New("payload does not match content type")
	ErrUnknownAgent     = errors.New("unknown agent")
)

// TransitionError is returned when a Content in a terminal state is mutated.
type TransitionError struct {
	AgentName string
	Type      ContentType
	From      Status
	To        Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal %s content transition %s -> %s (agent %s)", e.Type, e.From, e.To, e.AgentName)
}

func (e *TransitionError) Unwrap() error { return ErrStatusFinal }

// ValidationError means the parameters of an invocation were unusable. It is
// raised before any Content exists, so nothing needs to be terminated.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NewValidationError formats a ValidationError.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// EmptyResultError means an external call succeeded but returned nothing usable.
// StatusMessage, when set, is shown on the failed Content.
type EmptyResultError struct {
	Op            string
	StatusMessage string
	Message       string
}

func (e *EmptyResultError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s returned no result", e.Op)
}

// ExecutionError wraps any other failure raised while an agent was running.
type ExecutionError struct {
	Agent string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
