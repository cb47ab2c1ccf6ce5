package tool

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Registration pairs a descriptor with its callable and the parameter
// schema compiled at registration time.
type Registration struct {
	Descriptor Descriptor
	Handler    Handler

	schema  *gojsonschema.Schema
	handler uintptr // callable identity for conflict detection
}

// Schema returns the compiled parameter schema.
func (r *Registration) Schema() *gojsonschema.Schema {
	return r.schema
}

// Registry maps tool names to registrations. It is safe for concurrent use;
// after startup it is read-mostly and lookups take only a read lock.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Registration)}
}

// Register binds a descriptor and handler under the descriptor's name.
// Registering a name already bound to a different callable fails with
// DuplicateNameError and leaves the registry unchanged. Registering the
// same callable again replaces its descriptor.
func (r *Registry) Register(desc Descriptor, handler Handler) error {
	if err := validateDescriptor(desc, handler); err != nil {
		return fmt.Errorf("invalid tool descriptor: %w", err)
	}

	schema, err := compileSchema(desc)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", desc.Name, err)
	}

	identity := reflect.ValueOf(handler).Pointer()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tools[desc.Name]; ok && existing.handler != identity {
		return &DuplicateNameError{Name: desc.Name}
	}

	r.tools[desc.Name] = &Registration{
		Descriptor: desc,
		Handler:    handler,
		schema:     schema,
		handler:    identity,
	}

	log.Debug().Str("tool", desc.Name).Str("kind", string(desc.Kind)).Msg("Tool registered")

	return nil
}

// Unregister removes a tool. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tools, name)
}

// Lookup returns the registration for name, or ErrNotFound.
func (r *Registry) Lookup(name string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return reg, nil
}

// Descriptors returns all registered descriptors sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]Descriptor, 0, len(r.tools))
	for _, reg := range r.tools {
		descs = append(descs, reg.Descriptor)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}

// Names returns all registered tool names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// validateDescriptor checks a descriptor before registration.
func validateDescriptor(desc Descriptor, handler Handler) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if desc.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}

	seen := make(map[string]bool, len(desc.Parameters))
	for _, param := range desc.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Required && param.Default != nil {
			return fmt.Errorf("parameter %s cannot be both required and defaulted", param.Name)
		}
	}

	if desc.Auth != nil {
		if desc.Auth.Provider == "" {
			return fmt.Errorf("auth requirement missing provider")
		}
		if len(desc.Auth.Scopes) == 0 {
			return fmt.Errorf("auth requirement for %s declares no scopes", desc.Auth.Provider)
		}
	}

	for _, secret := range desc.Secrets {
		if secret == "" {
			return fmt.Errorf("secret name cannot be empty")
		}
	}

	return nil
}
