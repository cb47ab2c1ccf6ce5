package dispatch

import (
	"encoding/json"
	"strconv"

	"github.com/gantryhq/gantry/pkg/tool"
)

// coerceArgs applies structural type coercion per declared parameter type:
// numeric strings become numbers, "true"/"false" become booleans, and
// json.Number resolves to its native form. Anything that does not coerce
// cleanly is left as-is for the schema to reject. Semantic adjustments such
// as clamping are the tool's own responsibility.
func coerceArgs(desc tool.Descriptor, args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}

	types := make(map[string]string, len(desc.Parameters))
	for _, param := range desc.Parameters {
		types[param.Name] = param.Type
	}

	out := make(map[string]any, len(args))
	for key, value := range args {
		out[key] = coerceValue(types[key], value)
	}
	return out
}

func coerceValue(declared string, value any) any {
	switch declared {
	case "integer":
		switch v := value.(type) {
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n
			}
		case float64:
			if v == float64(int64(v)) {
				return int64(v)
			}
		}
	case "number":
		switch v := value.(type) {
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f
			}
		}
	case "boolean":
		if v, ok := value.(string); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
	}
	return value
}
