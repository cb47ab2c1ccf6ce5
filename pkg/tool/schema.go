package tool

import (
	"github.com/xeipuuv/gojsonschema"
)

// compileSchema builds a JSON Schema from the descriptor's parameters.
// Unknown argument keys are rejected via additionalProperties:false.
func compileSchema(desc Descriptor) (*gojsonschema.Schema, error) {
	properties := make(map[string]any, len(desc.Parameters))
	required := []string{}

	for _, param := range desc.Parameters {
		prop := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			prop["enum"] = param.Enum
		}
		if param.Minimum != nil {
			prop["minimum"] = *param.Minimum
		}
		if param.Maximum != nil {
			prop["maximum"] = *param.Maximum
		}
		properties[param.Name] = prop

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// ApplyDefaults fills declared defaults into args for parameters the caller
// omitted. The input map is not mutated.
func ApplyDefaults(desc Descriptor, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, param := range desc.Parameters {
		if param.Default == nil {
			continue
		}
		if _, ok := out[param.Name]; !ok {
			out[param.Name] = param.Default
		}
	}
	return out
}
