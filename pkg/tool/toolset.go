package tool

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Toolset is a named collection of exports registered in bulk. Exports maps
// export names to values; entries whose value is a Handler are registered
// under the matching descriptor, anything else is skipped. Declared, when
// non-empty, restricts registration to the listed export names and makes a
// missing name an error instead of a silent gap.
type Toolset struct {
	Name        string
	Exports     map[string]any
	Declared    []string
	Descriptors map[string]Descriptor
}

// RegisterToolset registers every callable export of ts into r. Registration
// is all-or-nothing per export resolution: a declared export that does not
// exist fails with ExportError before anything is registered.
func RegisterToolset(r *Registry, ts Toolset) error {
	if ts.Name == "" {
		return fmt.Errorf("toolset name cannot be empty")
	}

	names := ts.Declared
	if len(names) == 0 {
		names = make([]string, 0, len(ts.Exports))
		for name := range ts.Exports {
			names = append(names, name)
		}
	}

	// Resolve every declared export before touching the registry.
	for _, name := range ts.Declared {
		if _, ok := ts.Exports[name]; !ok {
			return &ExportError{Toolset: ts.Name, Export: name}
		}
	}

	registered := 0
	for _, name := range names {
		value := ts.Exports[name]

		var handler Handler
		switch fn := value.(type) {
		case Handler:
			handler = fn
		case func(ctx context.Context, call *Call) (any, error):
			handler = Handler(fn)
		default:
			log.Debug().
				Str("toolset", ts.Name).
				Str("export", name).
				Msg("Skipping non-callable export")
			continue
		}

		desc, ok := ts.Descriptors[name]
		if !ok {
			return fmt.Errorf("toolset %s export %s has no descriptor", ts.Name, name)
		}

		if err := r.Register(desc, handler); err != nil {
			return fmt.Errorf("toolset %s: %w", ts.Name, err)
		}
		registered++
	}

	log.Info().Str("toolset", ts.Name).Int("tools", registered).Msg("Toolset registered")

	return nil
}
