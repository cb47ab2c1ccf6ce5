// Package transport defines the wire shapes shared by every adapter and the
// duplex session engine used by the stdio and websocket transports.
// Adapters only (de)serialize; validation and authorization live in the
// dispatcher.
package transport

import (
	"context"

	"github.com/gantryhq/gantry/pkg/dispatch"
)

// Request is one invocation request on the wire.
type Request struct {
	ID   string         `json:"id"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
	User string         `json:"user,omitempty"`
}

// Response is the wire form of an invocation result. Token values and
// internal error detail never appear here.
type Response struct {
	ID           string         `json:"id"`
	Kind         dispatch.Kind  `json:"kind"`
	Value        any            `json:"value,omitempty"`
	Message      string         `json:"message,omitempty"`
	Hint         string         `json:"hint,omitempty"`
	RetryAfterMs int64          `json:"retryAfterMs,omitempty"`
	ConsentURL   string         `json:"consentUrl,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
}

// ResponseFor converts a dispatch result to its wire form.
func ResponseFor(id string, result dispatch.Result) Response {
	return Response{
		ID:           id,
		Kind:         result.Kind,
		Value:        result.Value,
		Message:      result.Message,
		Hint:         result.Hint,
		RetryAfterMs: result.RetryAfterMs,
		ConsentURL:   result.ConsentURL,
		Meta:         result.Meta,
	}
}

// Invoker is the dispatcher surface a transport needs.
type Invoker interface {
	Invoke(ctx context.Context, name string, rawArgs map[string]any, caller dispatch.Caller) dispatch.Result
}
