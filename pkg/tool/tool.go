package tool

import (
	"context"
	"time"
)

// Kind classifies a tool by its side-effect profile.
type Kind string

const (
	KindQuery     Kind = "query"     // read-only
	KindCommand   Kind = "command"   // side-effecting
	KindDiscovery Kind = "discovery" // reveals runtime schema/metadata
)

// Parameter describes a single named tool parameter.
type Parameter struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Required    bool    `json:"required"`
	Default     any     `json:"default,omitempty"`
	Enum        []any   `json:"enum,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// Returns describes a tool's declared output.
type Returns struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// AuthRequirement declares the OAuth provider and scopes a tool needs.
// A session satisfies the requirement only when every listed scope is
// covered by the session's granted scopes.
type AuthRequirement struct {
	Provider string   `json:"provider"`
	Scopes   []string `json:"scopes"`
}

// Descriptor is the static metadata captured once per registered tool.
// Name is the registry key and must be unique within a registry.
type Descriptor struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Kind        Kind             `json:"kind,omitempty"`
	Parameters  []Parameter      `json:"parameters"`
	Returns     Returns          `json:"returns"`
	Auth        *AuthRequirement `json:"auth,omitempty"`
	Secrets     []string         `json:"secrets,omitempty"`
}

// Authorization is the resolved credential attached to a call. The token is
// visible to the handler only; transports and logs never carry it.
type Authorization struct {
	Provider  string
	Token     string
	ExpiresAt time.Time
}

// SecretAccessor resolves secret values for a single invocation. Accessors
// are bound to the tool's declared secret set; asking for an undeclared
// name fails even when the underlying store has it.
type SecretAccessor interface {
	Get(name string) (string, error)
}

// Call carries the per-invocation state handed to a handler. A Call is
// exclusively owned by one invocation and is discarded when it completes.
type Call struct {
	InvocationID string
	User         string
	Args         map[string]any
	Auth         *Authorization
	Secrets      SecretAccessor
}

// String returns the string value of an argument, or fallback if absent.
func (c *Call) String(name, fallback string) string {
	if v, ok := c.Args[name].(string); ok {
		return v
	}
	return fallback
}

// Int returns the integer value of an argument, or fallback if absent.
// JSON numbers arrive as float64; both forms are accepted.
func (c *Call) Int(name string, fallback int) int {
	switch v := c.Args[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// Bool returns the boolean value of an argument, or fallback if absent.
func (c *Call) Bool(name string, fallback bool) bool {
	if v, ok := c.Args[name].(bool); ok {
		return v
	}
	return fallback
}

// Handler is the function signature every registered tool implements.
// Blocking work must honor ctx; the runtime cancels it on timeout or
// caller disconnect.
type Handler func(ctx context.Context, call *Call) (any, error)
