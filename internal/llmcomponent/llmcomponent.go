// Package llmcomponent bridges the Local and Remote LLM Engines (C5, C6)
// into the VM's generic Component contract so the Agent can drive either
// one through the same iter_method("infer", ...) call (spec §4.7, §4.8).
// Both engines already stream the same llmresult.Frame shape; this package
// only translates that shape to and from value.Value, and the generic
// vm.IterFrame envelope.
//
// Grounded on the teacher's internal/mcp.Manager construction idiom (a
// name-keyed map of handles built from config), generalized here to the
// vm.Factory signature: a factory closure supplied by the caller resolves
// attrs into a concrete *localllm.Engine or *remotellm.Engine (model
// loading and the rest of C1-C4 is the Runtime's concern, not this
// package's), and llmcomponent wraps whatever comes back as a vm.Component.
package llmcomponent

import (
	"context"

	"ailoy/internal/aerr"
	"ailoy/internal/llmresult"
	"ailoy/internal/localllm"
	"ailoy/internal/observability"
	"ailoy/internal/remotellm"
	"ailoy/internal/tokenizer"
	"ailoy/internal/value"
	"ailoy/internal/vm"
)

const inferMethod = "infer"

// LocalFactory adapts a resolver of attrs -> *localllm.Engine into a
// vm.Factory, so RegisterType("tvm_language_model", ...) can define
// components directly from a define packet's attrs.
func LocalFactory(resolve func(id string, attrs value.Value) (*localllm.Engine, error)) vm.Factory {
	return func(id string, attrs value.Value) (vm.Component, error) {
		engine, err := resolve(id, attrs)
		if err != nil {
			observability.ComponentLogger(context.Background(), id).Warn().Err(err).Msg("local_llm_component_define_failed")
			return nil, err
		}
		return &localComponent{engine: engine}, nil
	}
}

// RemoteFactory adapts a resolver of attrs -> *remotellm.Engine into a
// vm.Factory, for component types "openai", "claude", "gemini" and "grok"
// (spec §4.6: all four share the same infer() contract).
func RemoteFactory(resolve func(id string, attrs value.Value) (*remotellm.Engine, error)) vm.Factory {
	return func(id string, attrs value.Value) (vm.Component, error) {
		engine, err := resolve(id, attrs)
		if err != nil {
			observability.ComponentLogger(context.Background(), id).Warn().Err(err).Msg("remote_llm_component_define_failed")
			return nil, err
		}
		return &remoteComponent{engine: engine}, nil
	}
}

type localComponent struct {
	engine *localllm.Engine
}

func (c *localComponent) CallMethod(ctx context.Context, method string, inputs value.Value) (value.Value, error) {
	return value.Value{}, unsupportedInstant(method)
}

func (c *localComponent) IterMethod(ctx context.Context, method string, inputs value.Value) (<-chan vm.IterFrame, error) {
	if method != inferMethod {
		return nil, unsupportedIter(method)
	}
	messages, tools, reasoning, err := decodeInferInputs(inputs)
	if err != nil {
		return nil, err
	}
	frames, err := c.engine.Infer(ctx, localllm.InferRequest{
		Messages:         messages,
		Tools:            tools,
		ReasoningEnabled: reasoning,
	})
	if err != nil {
		return nil, err
	}
	return relay(ctx, frames), nil
}

func (c *localComponent) Close() error { return nil }

type remoteComponent struct {
	engine *remotellm.Engine
}

func (c *remoteComponent) CallMethod(ctx context.Context, method string, inputs value.Value) (value.Value, error) {
	return value.Value{}, unsupportedInstant(method)
}

func (c *remoteComponent) IterMethod(ctx context.Context, method string, inputs value.Value) (<-chan vm.IterFrame, error) {
	if method != inferMethod {
		return nil, unsupportedIter(method)
	}
	messages, tools, _, err := decodeInferInputs(inputs)
	if err != nil {
		return nil, err
	}
	frames, err := c.engine.Infer(ctx, remotellm.InferRequest{Messages: messages, Tools: tools})
	if err != nil {
		return nil, err
	}
	return relay(ctx, frames), nil
}

func (c *remoteComponent) Close() error { return nil }

func unsupportedInstant(method string) error {
	return aerr.New(aerr.NotFound, "method %q is not an instant method on an llm component", method)
}

func unsupportedIter(method string) error {
	return aerr.New(aerr.NotFound, "method %q is not an iterative method on an llm component", method)
}

// relay translates a <-chan llmresult.Frame into a <-chan vm.IterFrame: a
// frame is final the moment it carries a non-empty FinishReason or an
// error, matching spec §4.5/§4.6's "exactly one terminal frame" contract.
func relay(ctx context.Context, frames <-chan llmresult.Frame) <-chan vm.IterFrame {
	out := make(chan vm.IterFrame)
	go func() {
		defer close(out)
		for {
			var frame llmresult.Frame
			var ok bool
			select {
			case frame, ok = <-frames:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
			final := frame.Err != nil || frame.FinishReason != ""
			iframe := vm.IterFrame{Payload: encodeFrame(frame), Final: final, Err: frame.Err}
			select {
			case out <- iframe:
			case <-ctx.Done():
				return
			}
			if final {
				return
			}
		}
	}()
	return out
}

// encodeFrame renders one llmresult.Frame as the Value payload an agent
// reassembles into its in-progress assistant message (spec §4.8).
func encodeFrame(frame llmresult.Frame) value.Value {
	out := value.NewMap()
	out.Set("message", encodeMessage(frame.Message))
	out.Set("finish_reason", value.String(frame.FinishReason))
	return out
}

func encodeMessage(m llmresult.Message) value.Value {
	out := value.NewMap()
	out.Set("reasoning", encodeContentFragments(m.Reasoning))
	out.Set("content", encodeContentFragments(m.Content))
	out.Set("tool_calls", encodeToolCallFragments(m.ToolCalls))
	return out
}

func encodeContentFragments(fragments []llmresult.ContentFragment) value.Value {
	vs := make([]value.Value, 0, len(fragments))
	for _, f := range fragments {
		item := value.NewMap()
		item.Set("type", value.String(f.Type))
		item.Set("text", value.String(f.Text))
		vs = append(vs, item)
	}
	return value.Array(vs...)
}

func encodeToolCallFragments(calls []llmresult.ToolCallFragment) value.Value {
	vs := make([]value.Value, 0, len(calls))
	for _, c := range calls {
		item := value.NewMap()
		item.Set("type", value.String(c.Type))
		item.Set("name", value.String(c.Name))
		item.Set("arguments", c.Arguments)
		vs = append(vs, item)
	}
	return value.Array(vs...)
}

// decodeInferInputs parses the generic iter_method inputs the Agent sends
// into the two engines' shared request shape (spec §4.8: "{messages,
// tools, reasoning}").
func decodeInferInputs(inputs value.Value) ([]tokenizer.Message, []value.Value, bool, error) {
	messagesVal, ok := inputs.Get("messages")
	if !ok {
		return nil, nil, false, aerr.New(aerr.Validation, "infer: missing messages")
	}
	rawMessages, err := messagesVal.Array()
	if err != nil {
		return nil, nil, false, aerr.Wrap(aerr.Validation, err, "infer: messages")
	}
	messages := make([]tokenizer.Message, 0, len(rawMessages))
	for _, rm := range rawMessages {
		msg, err := decodeMessage(rm)
		if err != nil {
			return nil, nil, false, err
		}
		messages = append(messages, msg)
	}

	var tools []value.Value
	if toolsVal, ok := inputs.Get("tools"); ok {
		tools, err = toolsVal.Array()
		if err != nil {
			return nil, nil, false, aerr.Wrap(aerr.Validation, err, "infer: tools")
		}
	}

	reasoning := false
	if reasoningVal, ok := inputs.Get("reasoning"); ok {
		reasoning, _ = reasoningVal.Bool()
	}
	return messages, tools, reasoning, nil
}

func decodeMessage(v value.Value) (tokenizer.Message, error) {
	roleVal, ok := v.Get("role")
	if !ok {
		return tokenizer.Message{}, aerr.New(aerr.Validation, "message missing role")
	}
	role, err := roleVal.String()
	if err != nil {
		return tokenizer.Message{}, aerr.Wrap(aerr.Validation, err, "message role")
	}

	msg := tokenizer.Message{Role: role}
	if contentVal, ok := v.Get("content"); ok {
		parts, err := decodeContentParts(contentVal)
		if err != nil {
			return tokenizer.Message{}, err
		}
		msg.Content = parts
	}
	if reasoningVal, ok := v.Get("reasoning"); ok {
		parts, err := decodeContentParts(reasoningVal)
		if err != nil {
			return tokenizer.Message{}, err
		}
		msg.Reasoning = parts
	}
	if toolCallsVal, ok := v.Get("tool_calls"); ok {
		calls, err := decodeToolCalls(toolCallsVal)
		if err != nil {
			return tokenizer.Message{}, err
		}
		msg.ToolCalls = calls
	}
	if toolCallIDVal, ok := v.Get("tool_call_id"); ok {
		id, err := toolCallIDVal.String()
		if err != nil {
			return tokenizer.Message{}, aerr.Wrap(aerr.Validation, err, "message tool_call_id")
		}
		msg.ToolCallID = id
	}
	return msg, nil
}

func decodeContentParts(v value.Value) ([]tokenizer.ContentPart, error) {
	if v.IsNull() {
		return nil, nil
	}
	items, err := v.Array()
	if err != nil {
		return nil, aerr.Wrap(aerr.Validation, err, "content")
	}
	parts := make([]tokenizer.ContentPart, 0, len(items))
	for _, item := range items {
		part := tokenizer.ContentPart{}
		if typVal, ok := item.Get("type"); ok {
			part.Type, _ = typVal.String()
		}
		if textVal, ok := item.Get("text"); ok {
			part.Text, _ = textVal.String()
		}
		if imgVal, ok := item.Get("image_url"); ok {
			part.ImageURL, _ = imgVal.String()
		}
		if audioVal, ok := item.Get("input_audio"); ok {
			part.InputAudio, _ = audioVal.String()
		}
		parts = append(parts, part)
	}
	return parts, nil
}

func decodeToolCalls(v value.Value) ([]tokenizer.ToolCall, error) {
	if v.IsNull() {
		return nil, nil
	}
	items, err := v.Array()
	if err != nil {
		return nil, aerr.Wrap(aerr.Validation, err, "tool_calls")
	}
	calls := make([]tokenizer.ToolCall, 0, len(items))
	for _, item := range items {
		call := tokenizer.ToolCall{}
		if idVal, ok := item.Get("id"); ok {
			call.ID, _ = idVal.String()
		}
		if nameVal, ok := item.Get("name"); ok {
			call.Name, _ = nameVal.String()
		}
		if argsVal, ok := item.Get("arguments"); ok {
			call.Arguments = argsVal
		} else {
			call.Arguments = value.NewMap()
		}
		calls = append(calls, call)
	}
	return calls, nil
}
