package tools

import (
	"context"
	"encoding/json"
	"testing"

	"ailoy/internal/aerr"
)

func schemaTool(params map[string]any) Tool {
	return NewFunctionTool(Descriptor{Name: "typed", Parameters: params}, func(ctx context.Context, args json.RawMessage) (any, error) {
		return map[string]any{"ok": true}, nil
	})
}

func TestRegistry_DispatchRejectsArgsViolatingSchema(t *testing.T) {
	reg := NewRegistry()
	reg.Register(schemaTool(map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	}))

	out, err := reg.Dispatch(context.Background(), "typed", []byte(`{}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["ok"] != false {
		t.Fatalf("expected schema violation to be rejected, got %v", decoded)
	}
}

func TestRegistry_DispatchAcceptsArgsMatchingSchema(t *testing.T) {
	reg := NewRegistry()
	reg.Register(schemaTool(map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	}))

	out, err := reg.Dispatch(context.Background(), "typed", []byte(`{"name":"ok"}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["ok"] != true {
		t.Fatalf("expected schema-valid args to pass through, got %v", decoded)
	}
}

func TestValidateArgs_NoParametersSkipsValidation(t *testing.T) {
	if err := validateArgs("t", nil, []byte(`{"anything":"goes"}`)); err != nil {
		t.Fatalf("expected no error with no schema, got %v", err)
	}
}

func TestValidateArgs_MalformedArgsIsInvalidToolCall(t *testing.T) {
	params := map[string]any{"type": "object"}
	err := validateArgs("t", params, []byte(`not-json`))
	if aerr.KindOf(err) != aerr.InvalidToolCall {
		t.Fatalf("want invalid_tool_call, got %v", err)
	}
}

func TestCompileSchema_CachesCompiledSchema(t *testing.T) {
	schemaJSON := `{"type":"object"}`
	a, err := compileSchema(schemaJSON)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	b, err := compileSchema(schemaJSON)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if a != b {
		t.Fatalf("expected cached schema to be reused, got distinct instances")
	}
}
