package tools

import (
	"context"
	"testing"

	"ailoy/internal/aerr"
	"ailoy/internal/value"
)

func TestBuiltinTool_InvokesOperatorAndDecodesResult(t *testing.T) {
	var gotName string
	var gotInputs value.Value
	invoke := func(ctx context.Context, name string, inputs value.Value) (value.Value, error) {
		gotName = name
		gotInputs = inputs
		out := value.NewMap()
		out.Set("status_code", value.Int(200))
		return out, nil
	}
	def := BuiltinDefinition{Name: "fetch", OperatorName: "http_request"}
	tool := NewBuiltinTool(def, invoke)

	out, err := tool.Call(context.Background(), []byte(`{"url":"https://example.com"}`))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if gotName != "http_request" {
		t.Fatalf("wrong operator invoked: %q", gotName)
	}
	urlVal, ok := gotInputs.Get("url")
	if !ok {
		t.Fatalf("inputs missing url")
	}
	if s, _ := urlVal.String(); s != "https://example.com" {
		t.Fatalf("unexpected url passed through: %q", s)
	}
	m, ok := out.(map[string]any)
	if !ok || m["status_code"].(float64) != 200 {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestBuiltinTool_OutputPathProjectsOperatorResult(t *testing.T) {
	invoke := func(ctx context.Context, name string, inputs value.Value) (value.Value, error) {
		out := value.NewMap()
		out.Set("status_code", value.Int(200))
		return out, nil
	}
	def := BuiltinDefinition{Name: "fetch", OperatorName: "http_request", OutputPath: "status_code"}
	tool := NewBuiltinTool(def, invoke)
	out, err := tool.Call(context.Background(), nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	f, ok := out.(float64)
	if !ok || f != 200 {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestBuiltinTool_OperatorErrorPropagates(t *testing.T) {
	invoke := func(ctx context.Context, name string, inputs value.Value) (value.Value, error) {
		return value.Value{}, aerr.New(aerr.NotFound, "operator not registered")
	}
	tool := NewBuiltinTool(BuiltinDefinition{Name: "x", OperatorName: "missing"}, invoke)
	_, err := tool.Call(context.Background(), nil)
	if aerr.KindOf(err) != aerr.NotFound {
		t.Fatalf("want not_found, got %v", err)
	}
}
