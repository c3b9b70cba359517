package orchestrator

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles each tool's JSON Schema once and reuses it across
// calls, the same caching shape pkg/pluginsdk/validation.go uses for plugin
// config schemas.
var schemaCache sync.Map

func compileToolSchema(toolName string, schema json.RawMessage) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(toolName); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString(toolName+".schema.json", string(schema))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(toolName, compiled)
	return compiled, nil
}

// validateToolInput checks input against the tool's schema, returning a
// descriptive error on the first validation failure. A tool with no usable
// schema (empty, or fails to compile) is treated as unconstrained.
func validateToolInput(toolName string, schema, input json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := compileToolSchema(toolName, schema)
	if err != nil {
		return nil
	}

	var decoded any
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return err
	}
	return nil
}
