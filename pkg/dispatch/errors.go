package dispatch

import "fmt"

// ValidationError reports arguments rejected before any tool code ran. It
// is always fatal to the call and never retried by the runtime.
type ValidationError struct {
	Tool   string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Issues)
}

// ExecutionError wraps a failure raised by tool code. The cause is kept for
// the internal diagnostic channel; callers see only the message.
type ExecutionError struct {
	Tool  string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
