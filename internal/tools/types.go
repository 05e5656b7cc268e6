// Package tools implements the Tool Subsystem (C11): a name-keyed registry
// of callable tools — native Go functions, REST endpoints templated from a
// descriptor, and MCP-adapted tools — dispatched by exact name from the
// Agent's tool-call loop (spec §4.8/§4.9).
//
// Grounded on the teacher's internal/tools/types.go (Tool/Registry
// interfaces, dispatch-by-name) and internal/tools/registry.go
// (not-found-is-a-result, not-an-error dispatch convention).
package tools

import (
	"context"
	"encoding/json"
)

// Descriptor is what the Agent and the wire protocol see of a tool: its
// name, human description, and JSON-schema parameter shape (spec §6's
// ToolDescriptor).
type Descriptor struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema, e.g. {"type":"object","properties":{...}}
}

// Tool is one callable unit: native function, REST template, or MCP
// adapter all implement this the same way.
type Tool interface {
	Descriptor() Descriptor
	Call(ctx context.Context, args json.RawMessage) (any, error)
}

// Registry holds the tools currently available to an agent.
type Registry interface {
	// Register adds t under its descriptor's name. Returns false if a tool
	// by that name already exists (spec §4.8: "add_* returns false on name
	// collision").
	Register(t Tool) bool
	// Unregister removes a tool by name; a no-op if absent.
	Unregister(name string)
	// Get looks up a tool by exact name.
	Get(name string) (Tool, bool)
	// Descriptors returns every registered tool's descriptor, in
	// registration order.
	Descriptors() []Descriptor
	// Dispatch calls the named tool and returns its JSON-encoded result.
	// An unregistered name is reported in the returned payload, not as a Go
	// error, so a caller iterating many tool calls can surface one failure
	// per call without aborting the others (spec §4.8: "unregistered tool
	// name errors surfaced for that call only").
	Dispatch(ctx context.Context, name string, args json.RawMessage) ([]byte, error)
	// Clear removes every registered tool.
	Clear()
}

type registry struct {
	byName map[string]Tool
	order  []string
}

// NewRegistry builds an empty Registry.
func NewRegistry() Registry {
	return &registry{byName: make(map[string]Tool)}
}

func (r *registry) Register(t Tool) bool {
	name := t.Descriptor().Name
	if _, exists := r.byName[name]; exists {
		return false
	}
	r.byName[name] = t
	r.order = append(r.order, name)
	return true
}

func (r *registry) Unregister(name string) {
	if _, ok := r.byName[name]; !ok {
		return
	}
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *registry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

func (r *registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].Descriptor())
	}
	return out
}

func (r *registry) Dispatch(ctx context.Context, name string, args json.RawMessage) ([]byte, error) {
	t, ok := r.byName[name]
	if !ok {
		return json.Marshal(map[string]any{"ok": false, "error": "tool not found: " + name})
	}
	desc := t.Descriptor()
	if err := validateArgs(desc.Name, desc.Parameters, args); err != nil {
		return json.Marshal(map[string]any{"ok": false, "error": err.Error()})
	}
	val, err := t.Call(ctx, args)
	if err != nil {
		return json.Marshal(map[string]any{"ok": false, "error": err.Error()})
	}
	return json.Marshal(val)
}

func (r *registry) Clear() {
	r.byName = make(map[string]Tool)
	r.order = nil
}
