package model

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Use errors.Is to classify.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrTerminal          = errors.New("timer is in a terminal state")
	ErrValidation        = errors.New("validation failed")
	ErrUnavailable       = errors.New("backend unavailable")
)

// TransitionError is returned when a requested state change is not an edge of
// the transition graph. It matches ErrTerminal when From is terminal and
// ErrInvalidTransition otherwise; both match ErrInvalidTransition.
type TransitionError struct {
	From     string
	To       string
	terminal bool
}

func (e *TransitionError) Error() string {
	if e.terminal {
		return fmt.Sprintf("cannot transition from terminal state %s to %s", e.From, e.To)
	}
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Is implements errors.Is matching against the sentinel kinds.
func (e *TransitionError) Is(target error) bool {
	switch target {
	case ErrInvalidTransition:
		return true
	case ErrTerminal:
		return e.terminal
	}
	return false
}

// Terminal reports whether the rejected transition started from a terminal state.
func (e *TransitionError) Terminal() bool { return e.terminal }

// Reason is a short machine-readable classification for API responses.
func (e *TransitionError) Reason() string {
	if e.terminal {
		return "terminal"
	}
	return "invalid_transition"
}

// ValidationError describes malformed input. It matches ErrValidation.
type ValidationError struct {
	Field   string
	Message string
}

// Validationf builds a ValidationError for field.
func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Is implements errors.Is.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
