package tool

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/google/jsonschema-go/jsonschema"
)

func compileSchema(raw map[string]any) (*jsonschema.Resolved, error) {
	if raw == nil {
		raw = map[string]any{"type": "object"}
	}
	// Servers advertise whatever draft their generator emits; validation is
	// always done with the 2020-12 vocabulary.
	raw = maps.Clone(raw)
	delete(raw, "$schema")
	bts, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(bts, &schema); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve input schema: %w", err)
	}
	return resolved, nil
}

// decodeArguments parses the raw argument payload a model produced. An empty
// payload is an empty object.
func decodeArguments(name string, raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &ValidationError{Tool: name, Violations: []string{"arguments are not valid JSON: " + err.Error()}}
	}
	args, ok := v.(map[string]any)
	if !ok {
		return nil, &ValidationError{Tool: name, Violations: []string{fmt.Sprintf("arguments must be a JSON object, got %T", v)}}
	}
	return args, nil
}

func validateArguments(d Descriptor, args map[string]any) error {
	if d.schema == nil {
		return nil
	}
	if err := d.schema.Validate(args); err != nil {
		return &ValidationError{Tool: d.Name, Violations: []string{err.Error()}}
	}
	return nil
}
