package tool

import (
	"fmt"

	"github.com/jllopis/telos/pkg/errors"
)

// Property describes a single field of a tool's input shape.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Schema is the declared input shape of a tool: a flat object schema with
// typed properties and a required list. It doubles as the source for the
// JSON Schema exported to the model.
type Schema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// JSONSchema renders the schema in JSON Schema object form for export.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, prop := range s.Properties {
		p := map[string]any{"type": prop.Type}
		if prop.Description != "" {
			p["description"] = prop.Description
		}
		props[name] = p
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

// Validate checks args against the schema: required fields must be present
// and values must match their declared primitive type. Unknown fields are
// rejected. Violations return a non-recoverable CodeInvalidInput error.
func (s Schema) Validate(args map[string]any) error {
	for _, name := range s.Required {
		if _, ok := args[name]; !ok {
			return errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("missing required argument %q", name), nil)
		}
	}
	for name, value := range args {
		prop, ok := s.Properties[name]
		if !ok {
			return errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("unknown argument %q", name), nil)
		}
		if !typeMatches(prop.Type, value) {
			return errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("argument %q must be of type %s", name, prop.Type), nil)
		}
	}
	return nil
}

func typeMatches(schemaType string, value any) bool {
	if value == nil {
		return true
	}
	switch schemaType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		// Unknown schema types are not validated.
		return true
	}
}
