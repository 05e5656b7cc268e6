package tools

import (
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"ailoy/internal/aerr"
)

// schemaCache avoids recompiling a tool's parameter schema on every call —
// grounded on haasonsaas-nexus's pkg/pluginsdk/validation.go (compileSchema's
// sync.Map-backed cache keyed by the schema's JSON text).
var schemaCache sync.Map

// validateArgs checks args against a tool descriptor's JSON-schema
// parameters before dispatch (spec §4.9: "schema-required violations are a
// client-side error before the call").
func validateArgs(name string, params map[string]any, args json.RawMessage) error {
	if len(params) == 0 {
		return nil
	}
	schemaJSON, err := json.Marshal(params)
	if err != nil {
		return aerr.Wrap(aerr.Validation, err, "encode schema for tool %q", name)
	}

	schema, err := compileSchema(string(schemaJSON))
	if err != nil {
		return aerr.Wrap(aerr.Validation, err, "compile schema for tool %q", name)
	}

	var decoded any
	if len(args) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(args, &decoded); err != nil {
		return aerr.Wrap(aerr.InvalidToolCall, err, "decode arguments for tool %q", name)
	}

	if err := schema.Validate(decoded); err != nil {
		return aerr.Wrap(aerr.InvalidToolCall, err, "arguments for tool %q do not match schema", name)
	}
	return nil
}

func compileSchema(schemaJSON string) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(schemaJSON); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("tool-args.schema.json", schemaJSON)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(schemaJSON, compiled)
	return compiled, nil
}
