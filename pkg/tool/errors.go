package tool

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Lookup for an unregistered tool name.
var ErrNotFound = errors.New("tool not found")

// DuplicateNameError is returned when a registration would bind an existing
// name to a different callable. Re-registering the same callable under its
// existing name is a replace, not a conflict.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("tool %q already registered with a different callable", e.Name)
}

// ExportError is returned by toolset registration when a declared export
// name is absent from the toolset.
type ExportError struct {
	Toolset string
	Export  string
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("toolset %q declares export %q which does not exist", e.Toolset, e.Export)
}

// RetryableError signals that the calling agent may correct its input and
// retry. Message is user-facing, Hint describes valid alternatives, and
// RetryAfter suggests how long to wait.
type RetryableError struct {
	Message    string
	Hint       string
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	return e.Message
}

// Retryable builds a RetryableError.
func Retryable(message, hint string, retryAfter time.Duration) *RetryableError {
	return &RetryableError{Message: message, Hint: hint, RetryAfter: retryAfter}
}
