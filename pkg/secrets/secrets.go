// Package secrets provides the secret store boundary. Stores resolve named
// secret values at invocation time; values are never cached by the runtime
// beyond a single invocation and never appear in errors or logs.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// NotConfiguredError is returned when a requested secret has no value in
// the store. It carries the secret name only, never a value.
type NotConfiguredError struct {
	Name string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("secret %q is not configured", e.Name)
}

// Store resolves secret values by name.
type Store interface {
	Get(name string) (string, error)
}

// Static is a fixed in-memory store, primarily for tests and local runs.
type Static map[string]string

func (s Static) Get(name string) (string, error) {
	value, ok := s[name]
	if !ok {
		return "", &NotConfiguredError{Name: name}
	}
	return value, nil
}

// Env resolves secrets from environment variables. A secret named
// "api_key" with prefix "GANTRY_SECRET" reads GANTRY_SECRET_API_KEY.
type Env struct {
	Prefix string
}

func (e *Env) Get(name string) (string, error) {
	key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if e.Prefix != "" {
		key = e.Prefix + "_" + key
	}
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", &NotConfiguredError{Name: name}
	}
	return value, nil
}

// Accessor binds a store to one invocation's declared secret set. Requests
// for undeclared names fail as not configured even when the store has them,
// so a tool can never read credentials it did not declare.
type Accessor struct {
	store    Store
	declared map[string]bool
}

// NewAccessor builds an accessor restricted to the declared names.
func NewAccessor(store Store, declared []string) *Accessor {
	set := make(map[string]bool, len(declared))
	for _, name := range declared {
		set[name] = true
	}
	return &Accessor{store: store, declared: set}
}

func (a *Accessor) Get(name string) (string, error) {
	if !a.declared[name] {
		return "", &NotConfiguredError{Name: name}
	}
	return a.store.Get(name)
}

// Preflight verifies every declared secret resolves, returning the first
// failure. Used by the dispatcher before a handler runs and by startup
// checks for boot-required secrets.
func Preflight(store Store, names []string) error {
	for _, name := range names {
		if _, err := store.Get(name); err != nil {
			return err
		}
	}
	return nil
}

// Multi consults stores in order and returns the first hit.
type Multi []Store

func (m Multi) Get(name string) (string, error) {
	for _, store := range m {
		value, err := store.Get(name)
		if err == nil {
			return value, nil
		}
	}
	return "", &NotConfiguredError{Name: name}
}

var _ Store = (Static)(nil)
var _ Store = (*Env)(nil)
var _ Store = (*Accessor)(nil)
var _ Store = (Multi)(nil)
