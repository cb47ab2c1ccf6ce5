// Package dispatch executes tool invocations: argument validation, just-in-
// time authorization, secret preflight, handler execution, and outcome
// classification. Validation strictly precedes authorization, which strictly
// precedes execution, so a malformed call never triggers a consent prompt.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/gantryhq/gantry/pkg/auth"
	"github.com/gantryhq/gantry/pkg/secrets"
	"github.com/gantryhq/gantry/pkg/tool"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxOutput = 64 * 1024
)

// Caller identifies the invoking session. User keys authorization sessions;
// Session is transport bookkeeping only.
type Caller struct {
	User    string
	Session string
}

// Observer receives invocation outcomes for metrics. Implementations must
// be cheap and non-blocking.
type Observer interface {
	ObserveInvocation(toolName string, kind Kind, duration time.Duration)
}

// Dispatcher validates, authorizes, and executes tool invocations. It never
// suspends itself; all blocking happens inside handlers under ctx.
type Dispatcher struct {
	registry *tool.Registry
	resolver *auth.Resolver
	secrets  secrets.Store
	observer Observer

	timeout   time.Duration
	maxOutput int
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the per-invocation execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.timeout = d }
}

// WithMaxOutput sets the output truncation threshold in bytes.
func WithMaxOutput(n int) Option {
	return func(dp *Dispatcher) { dp.maxOutput = n }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(dp *Dispatcher) { dp.observer = o }
}

// New creates a dispatcher. resolver may be nil when no registered tool
// declares an auth requirement, and store may be nil when none declares
// secrets; invoking such a tool without the collaborator is a fatal
// misconfiguration reported per call.
func New(registry *tool.Registry, resolver *auth.Resolver, store secrets.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		resolver:  resolver,
		secrets:   store,
		timeout:   defaultTimeout,
		maxOutput: defaultMaxOutput,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Invoke runs one tool call end to end and classifies the outcome.
func (d *Dispatcher) Invoke(ctx context.Context, name string, rawArgs map[string]any, caller Caller) Result {
	started := time.Now()
	result := d.invoke(ctx, name, rawArgs, caller)
	duration := time.Since(started)

	if result.Meta == nil {
		result.Meta = map[string]any{}
	}
	result.Meta["duration_ms"] = duration.Milliseconds()

	if d.observer != nil {
		d.observer.ObserveInvocation(name, result.Kind, duration)
	}

	return result
}

func (d *Dispatcher) invoke(ctx context.Context, name string, rawArgs map[string]any, caller Caller) Result {
	reg, err := d.registry.Lookup(name)
	if err != nil {
		return Fatal(fmt.Sprintf("tool not found: %s", name), err)
	}
	desc := reg.Descriptor

	// 1. Structural validation. Defaults fill omitted parameters first so a
	// defaulted parameter is never reported missing.
	args := tool.ApplyDefaults(desc, coerceArgs(desc, rawArgs))
	if verr := validateArgs(name, reg.Schema(), args); verr != nil {
		log.Debug().Str("tool", name).Strs("issues", verr.Issues).Msg("Argument validation failed")
		return Fatal(verr.Error(), verr)
	}

	// 2. Authorization.
	var authz *tool.Authorization
	if desc.Auth != nil {
		if d.resolver == nil {
			return Fatal("tool requires authorization but no resolver is configured",
				fmt.Errorf("tool %s declares auth for %s with no resolver", name, desc.Auth.Provider))
		}
		cred, err := d.resolver.Resolve(ctx, caller.User, desc.Auth.Provider, desc.Auth.Scopes)
		if err != nil {
			var pending *auth.PendingError
			if errors.As(err, &pending) {
				return AuthPending(pending.ConsentURL)
			}
			return Fatal("authorization failed", err)
		}
		authz = &tool.Authorization{Provider: cred.Provider, Token: cred.Token, ExpiresAt: cred.ExpiresAt}
	}

	// 3. Secret preflight. Failures name the secret, never its value.
	if len(desc.Secrets) > 0 {
		if d.secrets == nil {
			return Fatal("tool requires secrets but no secret store is configured",
				fmt.Errorf("tool %s declares secrets with no store", name))
		}
		if err := secrets.Preflight(d.secrets, desc.Secrets); err != nil {
			return Fatal(err.Error(), err)
		}
	}

	// 4. Execute with the per-invocation context.
	call := &tool.Call{
		InvocationID: uuid.NewString(),
		User:         caller.User,
		Args:         args,
		Auth:         authz,
		Secrets:      secrets.NewAccessor(d.secrets, desc.Secrets),
	}

	return d.execute(ctx, reg, call)
}

// execute runs the handler under the invocation deadline and classifies
// whatever it signals.
func (d *Dispatcher) execute(ctx context.Context, reg *tool.Registration, call *tool.Call) Result {
	name := reg.Descriptor.Name

	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		value, err := reg.Handler(execCtx, call)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return d.classify(name, call, out.err)
		}
		value, truncated := truncateOutput(out.value, d.maxOutput)
		result := Success(value)
		if truncated {
			result.Meta = map[string]any{"truncated": true}
		}
		log.Debug().Str("tool", name).Str("invocation", call.InvocationID).Msg("Tool execution completed")
		return result

	case <-execCtx.Done():
		// The handler keeps the cancelled context and is expected to wind
		// down cooperatively; side effects of an interrupted command tool
		// may have partially applied.
		err := execCtx.Err()
		log.Warn().Str("tool", name).Str("invocation", call.InvocationID).Err(err).Msg("Tool execution interrupted")
		if errors.Is(err, context.DeadlineExceeded) {
			return Fatal(fmt.Sprintf("tool %s timed out after %v", name, d.timeout), err)
		}
		return Fatal(fmt.Sprintf("tool %s cancelled", name), err)
	}
}

// classify enforces the three-way taxonomy on whatever the handler raised.
// Only errors the tool explicitly marked retryable come back retryable;
// everything else, including upstream transport errors, is fatal with the
// detail kept on the internal channel.
func (d *Dispatcher) classify(name string, call *tool.Call, err error) Result {
	var retryable *tool.RetryableError
	if errors.As(err, &retryable) {
		log.Debug().
			Str("tool", name).
			Str("invocation", call.InvocationID).
			Dur("retry_after", retryable.RetryAfter).
			Msg("Tool reported retryable failure")
		return Retryable(retryable.Message, retryable.Hint, retryable.RetryAfter, err)
	}

	execErr := &ExecutionError{Tool: name, Cause: err}
	log.Error().
		Str("tool", name).
		Str("invocation", call.InvocationID).
		Err(err).
		Msg("Tool execution failed")
	return Fatal(fmt.Sprintf("tool %s failed", name), execErr)
}

// validateArgs checks args against the compiled parameter schema.
func validateArgs(name string, schema *gojsonschema.Schema, args map[string]any) *ValidationError {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &ValidationError{Tool: name, Issues: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		issues = append(issues, issue.String())
	}
	return &ValidationError{Tool: name, Issues: issues}
}

// truncateOutput caps string output at limit bytes. Structured values pass
// through untouched; transports serialize them as declared.
func truncateOutput(value any, limit int) (any, bool) {
	s, ok := value.(string)
	if !ok || len(s) <= limit {
		return value, false
	}
	return s[:limit] + "\n... [output truncated]", true
}
