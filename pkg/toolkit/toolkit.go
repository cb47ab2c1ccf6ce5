// Package toolkit registers the runtime's built-in tools: discovery tools
// that reveal the registry's schema to callers, plus a trivial echo tool
// for connectivity checks.
package toolkit

import (
	"context"
	"fmt"
	"strings"

	"github.com/gantryhq/gantry/pkg/tool"
)

// Register adds the built-in tools to registry. The discovery tools read
// the same registry they live in, so tools registered later show up too.
func Register(registry *tool.Registry) error {
	ts := tool.Toolset{
		Name:     "builtin",
		Declared: []string{"list_tools", "describe_tool", "echo"},
		Exports: map[string]any{
			"list_tools":    listTools(registry),
			"describe_tool": describeTool(registry),
			"echo":          tool.Handler(echo),
		},
		Descriptors: map[string]tool.Descriptor{
			"list_tools": {
				Name:        "list_tools",
				Description: "Lists every registered tool with its description and kind.",
				Kind:        tool.KindDiscovery,
				Returns:     tool.Returns{Type: "array", Description: "Tool summaries"},
			},
			"describe_tool": {
				Name:        "describe_tool",
				Description: "Returns the full descriptor of a registered tool, including parameters and auth requirements.",
				Kind:        tool.KindDiscovery,
				Parameters: []tool.Parameter{
					{Name: "name", Type: "string", Description: "Tool name to describe", Required: true},
				},
				Returns: tool.Returns{Type: "object", Description: "Tool descriptor"},
			},
			"echo": {
				Name:        "echo",
				Description: "Returns its message argument unchanged.",
				Kind:        tool.KindQuery,
				Parameters: []tool.Parameter{
					{Name: "message", Type: "string", Description: "Message to echo", Required: true},
				},
				Returns: tool.Returns{Type: "string", Description: "The message"},
			},
		},
	}

	return tool.RegisterToolset(registry, ts)
}

// ToolSummary is one row of list_tools output.
type ToolSummary struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Kind        tool.Kind `json:"kind,omitempty"`
	Auth        string    `json:"auth,omitempty"`
}

func listTools(registry *tool.Registry) tool.Handler {
	return func(ctx context.Context, call *tool.Call) (any, error) {
		descs := registry.Descriptors()
		out := make([]ToolSummary, 0, len(descs))
		for _, desc := range descs {
			summary := ToolSummary{
				Name:        desc.Name,
				Description: desc.Description,
				Kind:        desc.Kind,
			}
			if desc.Auth != nil {
				summary.Auth = fmt.Sprintf("%s: %s", desc.Auth.Provider, strings.Join(desc.Auth.Scopes, " "))
			}
			out = append(out, summary)
		}
		return out, nil
	}
}

func describeTool(registry *tool.Registry) tool.Handler {
	return func(ctx context.Context, call *tool.Call) (any, error) {
		name := call.String("name", "")
		reg, err := registry.Lookup(name)
		if err != nil {
			return nil, tool.Retryable(
				fmt.Sprintf("no tool named %q", name),
				"valid names: "+strings.Join(registry.Names(), ", "),
				0,
			)
		}
		return reg.Descriptor, nil
	}
}

func echo(ctx context.Context, call *tool.Call) (any, error) {
	return call.String("message", ""), nil
}
