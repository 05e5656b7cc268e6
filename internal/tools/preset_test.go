package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ailoy/internal/aerr"
	"ailoy/internal/value"
)

func TestLoadPreset_BundledWebPresetLoadsHTTPGet(t *testing.T) {
	opInvoke := func(ctx context.Context, name string, inputs value.Value) (value.Value, error) {
		return value.Value{}, nil
	}
	httpInvoke := staticInvoker(RESTResponse{StatusCode: 200, Body: []byte("pong")}, nil)

	loaded, err := LoadPreset("", "web", opInvoke, httpInvoke)
	if err != nil {
		t.Fatalf("load preset: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(loaded))
	}
	desc := loaded[0].Descriptor()
	if desc.Name != "http_get" {
		t.Fatalf("unexpected tool name: %q", desc.Name)
	}

	out, err := loaded[0].Call(context.Background(), []byte(`{"url":"https://example.com"}`))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	b, ok := out.([]byte)
	if !ok || string(b) != "pong" {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestLoadPreset_OnDiskOverrideTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	override := `{"say_hi":{"type":"builtin","description":"says hi","operator":"noop"}}`
	if err := os.WriteFile(filepath.Join(dir, "custom.json"), []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	loaded, err := LoadPreset(dir, "custom", nil, nil)
	if err != nil {
		t.Fatalf("load preset: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Descriptor().Name != "say_hi" {
		t.Fatalf("unexpected loaded tools: %+v", loaded)
	}
}

func TestLoadPreset_UnknownNameIsNotFound(t *testing.T) {
	_, err := LoadPreset("", "does-not-exist", nil, nil)
	if aerr.KindOf(err) != aerr.NotFound {
		t.Fatalf("want not_found, got %v", err)
	}
}

func TestLoadPreset_UnknownToolTypeIsValidationError(t *testing.T) {
	dir := t.TempDir()
	bad := `{"x":{"type":"carrier-pigeon"}}`
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte(bad), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}
	_, err := LoadPreset(dir, "bad", nil, nil)
	if aerr.KindOf(err) != aerr.Validation {
		t.Fatalf("want validation, got %v", err)
	}
}
