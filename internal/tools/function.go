package tools

import (
	"context"
	"encoding/json"
)

// Func is a native Go tool implementation: decoded arguments in, any
// JSON-marshalable result out. agent.Engine.AddFunctionTool registers one
// of these through NewFunctionTool. This module bundles no script
// evaluator; a script-backed tool is whatever Func the caller supplies, and
// the Agent only ever sees a Tool.
type Func func(ctx context.Context, args json.RawMessage) (any, error)

type funcTool struct {
	desc Descriptor
	fn   Func
}

// NewFunctionTool wraps a Go function as a Tool under desc.
func NewFunctionTool(desc Descriptor, fn Func) Tool {
	return &funcTool{desc: desc, fn: fn}
}

func (t *funcTool) Descriptor() Descriptor { return t.desc }

func (t *funcTool) Call(ctx context.Context, args json.RawMessage) (any, error) {
	return t.fn(ctx, args)
}
