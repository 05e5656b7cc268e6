package mcpclient

import (
	"context"
	"testing"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"

	"ailoy/internal/aerr"
	"ailoy/internal/config"
	"ailoy/internal/tools"
)

func TestConnect_EmptyNameIsValidationError(t *testing.T) {
	m := NewManager()
	err := m.Connect(context.Background(), tools.NewRegistry(), config.MCPServerConfig{})
	if aerr.KindOf(err) != aerr.Validation {
		t.Fatalf("want validation, got %v", err)
	}
}

func TestConnect_NeitherCommandNorURLIsValidationError(t *testing.T) {
	m := NewManager()
	err := m.Connect(context.Background(), tools.NewRegistry(), config.MCPServerConfig{Name: "srv"})
	if aerr.KindOf(err) != aerr.Validation {
		t.Fatalf("want validation, got %v", err)
	}
}

func TestDisconnect_UnknownServerIsNoOp(t *testing.T) {
	m := NewManager()
	m.Disconnect("never-connected", tools.NewRegistry())
}

func TestConnectAll_EmptyListSucceeds(t *testing.T) {
	m := NewManager()
	if err := m.ConnectAll(context.Background(), tools.NewRegistry(), nil); err != nil {
		t.Fatalf("ConnectAll with no servers: %v", err)
	}
}

func TestConnectAll_AllInvalidReturnsError(t *testing.T) {
	m := NewManager()
	servers := []config.MCPServerConfig{{Name: "a"}, {Name: "b"}}
	if err := m.ConnectAll(context.Background(), tools.NewRegistry(), servers); err == nil {
		t.Fatalf("expected error when no server has a command or url")
	}
}

func TestMCPTool_Descriptor(t *testing.T) {
	tool := &mcpTool{
		toolName: "srv-echo",
		tool:     &mcppkg.Tool{Name: "echo", Description: "echoes input"},
	}
	desc := tool.Descriptor()
	if desc.Name != "srv-echo" || desc.Description != "echoes input" {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
	if desc.Parameters["type"] != "object" {
		t.Fatalf("expected default object schema, got %v", desc.Parameters)
	}
}
