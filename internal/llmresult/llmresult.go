// Package llmresult defines the MessageOutput/Frame shape both the local
// and remote LLM engines (C5, C6) produce from their infer() operator,
// so the Agent (C10) folds a single uniform shape regardless of which
// engine produced it (spec.md §4.6, §4.8).
package llmresult

import "ailoy/internal/value"

// ContentFragment is one delta of text produced by an engine's decode
// or response-parsing step.
type ContentFragment struct {
	Type string // "text"
	Text string
}

// ToolCallFragment is a parsed tool call surfaced by either engine.
type ToolCallFragment struct {
	Type      string // "function"
	Name      string
	Arguments value.Value
}

// Message is the delta (local) or terminal (remote) payload of one
// infer() frame.
type Message struct {
	Reasoning []ContentFragment
	Content   []ContentFragment
	ToolCalls []ToolCallFragment
}

// Frame is one yielded unit of the infer() operator: zero or more partial
// frames followed by exactly one carrying FinishReason (spec §4.7's
// iter_method contract: a stream of "partial" frames then one "final").
type Frame struct {
	Message      Message
	FinishReason string // "" | "stop" | "tool_calls" | "invalid_tool_call" | "length" | "error"
	Err          error
}
