package dispatch

import "time"

// Kind discriminates invocation outcomes on the wire.
type Kind string

const (
	KindSuccess     Kind = "success"
	KindRetryable   Kind = "retryable"
	KindFatal       Kind = "fatal"
	KindAuthPending Kind = "auth_pending"
)

// Result is the outcome of one tool invocation. Exactly the exported fields
// cross the wire; the internal cause stays on the server side of the
// redaction boundary.
type Result struct {
	Kind         Kind           `json:"kind"`
	Value        any            `json:"value,omitempty"`
	Message      string         `json:"message,omitempty"`
	Hint         string         `json:"hint,omitempty"`
	RetryAfterMs int64          `json:"retryAfterMs,omitempty"`
	ConsentURL   string         `json:"consentUrl,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`

	cause error
}

// Cause returns the underlying error for logging and tests. It is never
// serialized.
func (r Result) Cause() error {
	return r.cause
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool {
	return r.Kind == KindSuccess
}

// Success wraps a tool's return value.
func Success(value any) Result {
	return Result{Kind: KindSuccess, Value: value}
}

// Retryable reports a failure the calling agent can correct and retry.
func Retryable(message, hint string, retryAfter time.Duration, cause error) Result {
	return Result{
		Kind:         KindRetryable,
		Message:      message,
		Hint:         hint,
		RetryAfterMs: retryAfter.Milliseconds(),
		cause:        cause,
	}
}

// Fatal reports an unrecoverable failure. message is user-facing and must
// already be redacted; cause carries the full internal detail.
func Fatal(message string, cause error) Result {
	return Result{Kind: KindFatal, Message: message, cause: cause}
}

// AuthPending reports that execution is blocked on an external consent step.
func AuthPending(consentURL string) Result {
	return Result{
		Kind:       KindAuthPending,
		Message:    "authorization required",
		ConsentURL: consentURL,
	}
}
