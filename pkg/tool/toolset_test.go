package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listHandler(ctx context.Context, call *Call) (any, error) {
	return []string{}, nil
}

func TestRegisterToolset(t *testing.T) {
	r := NewRegistry()

	ts := Toolset{
		Name: "inventory",
		Exports: map[string]any{
			"list_items": Handler(listHandler),
			"version":    "1.0.0", // non-callable, skipped
		},
		Descriptors: map[string]Descriptor{
			"list_items": {
				Name:        "list_items",
				Description: "Lists inventory items",
				Kind:        KindQuery,
			},
		},
	}

	require.NoError(t, RegisterToolset(r, ts))
	assert.Equal(t, 1, r.Count())

	reg, err := r.Lookup("list_items")
	require.NoError(t, err)
	assert.Equal(t, KindQuery, reg.Descriptor.Kind)
}

func TestRegisterToolset_PlainFuncExport(t *testing.T) {
	r := NewRegistry()

	ts := Toolset{
		Name: "inventory",
		Exports: map[string]any{
			"list_items": func(ctx context.Context, call *Call) (any, error) { return nil, nil },
		},
		Descriptors: map[string]Descriptor{
			"list_items": {Name: "list_items", Description: "Lists inventory items"},
		},
	}

	require.NoError(t, RegisterToolset(r, ts))
	assert.Equal(t, 1, r.Count())
}

func TestRegisterToolset_MissingDeclaredExport(t *testing.T) {
	r := NewRegistry()

	ts := Toolset{
		Name:     "inventory",
		Declared: []string{"list_items", "count_items"},
		Exports: map[string]any{
			"list_items": Handler(listHandler),
		},
		Descriptors: map[string]Descriptor{
			"list_items": {Name: "list_items", Description: "Lists inventory items"},
		},
	}

	err := RegisterToolset(r, ts)
	var exportErr *ExportError
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, "count_items", exportErr.Export)
	assert.Equal(t, "inventory", exportErr.Toolset)

	// Declared-export resolution happens before any registration.
	assert.Equal(t, 0, r.Count())
}

func TestRegisterToolset_MissingDescriptor(t *testing.T) {
	r := NewRegistry()

	ts := Toolset{
		Name: "inventory",
		Exports: map[string]any{
			"list_items": Handler(listHandler),
		},
	}

	err := RegisterToolset(r, ts)
	assert.ErrorContains(t, err, "no descriptor")
}
