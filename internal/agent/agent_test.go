package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ailoy/internal/aerr"
	"ailoy/internal/tools"
	"ailoy/internal/value"
	"ailoy/internal/vm"
)

// scriptedComponent plays back a fixed sequence of IterFrame batches, one
// batch per successive infer() call, mirroring how a real engine would
// respond across a tool-call round trip.
type scriptedComponent struct {
	batches [][]vm.IterFrame
	calls   int
}

func (c *scriptedComponent) CallMethod(context.Context, string, value.Value) (value.Value, error) {
	return value.Value{}, aerr.New(aerr.NotFound, "unsupported")
}

func (c *scriptedComponent) IterMethod(ctx context.Context, method string, inputs value.Value) (<-chan vm.IterFrame, error) {
	if method != "infer" {
		return nil, aerr.New(aerr.NotFound, "unsupported method %q", method)
	}
	idx := c.calls
	c.calls++
	out := make(chan vm.IterFrame, len(c.batches[idx]))
	for _, f := range c.batches[idx] {
		out <- f
	}
	close(out)
	return out, nil
}

func (c *scriptedComponent) Close() error { return nil }

func frame(text, finish string) vm.IterFrame {
	msg := value.NewMap()
	content := value.NewMap()
	content.Set("type", value.String("text"))
	content.Set("text", value.String(text))
	msg.Set("content", value.Array(content))
	payload := value.NewMap()
	payload.Set("message", msg)
	payload.Set("finish_reason", value.String(finish))
	return vm.IterFrame{Payload: payload, Final: finish != ""}
}

func toolCallFrame(id, name string, args map[string]any) vm.IterFrame {
	raw, _ := json.Marshal(args)
	argsVal, _ := value.ParseJSON(raw)
	tc := value.NewMap()
	tc.Set("id", value.String(id))
	tc.Set("name", value.String(name))
	tc.Set("arguments", argsVal)
	msg := value.NewMap()
	msg.Set("tool_calls", value.Array(tc))
	payload := value.NewMap()
	payload.Set("message", msg)
	payload.Set("finish_reason", value.String("tool_calls"))
	return vm.IterFrame{Payload: payload, Final: true}
}

func newTestEngine(t *testing.T, component vm.Component) *Engine {
	t.Helper()
	v := vm.New()
	v.RegisterType("scripted", func(string, value.Value) (vm.Component, error) { return component, nil })
	e := New(v)
	if err := e.Define("scripted", "model-1", value.Null(), "you are a test assistant"); err != nil {
		t.Fatalf("define: %v", err)
	}
	return e
}

func drain(t *testing.T, ch <-chan Response) []Response {
	t.Helper()
	var out []Response
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, r)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for response")
		}
	}
}

func TestQuery_SimpleTextTurn(t *testing.T) {
	comp := &scriptedComponent{batches: [][]vm.IterFrame{{frame("hi", "stop")}}}
	e := newTestEngine(t, comp)

	responses := drain(t, e.Query(context.Background(), Input{Text: "hello"}, false))
	if len(responses) != 1 {
		t.Fatalf("want 1 response, got %d: %+v", len(responses), responses)
	}
	if responses[0].Type != ResponseOutputText || responses[0].Text != "hi" {
		t.Fatalf("unexpected response: %+v", responses[0])
	}
	if !responses[0].IsTypeSwitched {
		t.Fatalf("first response should always be type-switched")
	}

	msgs := e.GetMessages()
	if len(msgs) != 3 || msgs[0].Role != "system" || msgs[1].Role != "user" || msgs[2].Role != "assistant" {
		t.Fatalf("unexpected message history: %+v", msgs)
	}
}

func TestQuery_ToolCallRoundTrip(t *testing.T) {
	comp := &scriptedComponent{batches: [][]vm.IterFrame{
		{toolCallFrame("call-1", "add", map[string]any{"a": 3, "b": 4})},
		{frame("7", "stop")},
	}}
	e := newTestEngine(t, comp)
	e.AddFunctionTool(tools.Descriptor{Name: "add", Description: "adds two numbers"}, func(ctx context.Context, args json.RawMessage) (any, error) {
		var in struct{ A, B float64 }
		_ = json.Unmarshal(args, &in)
		return in.A + in.B, nil
	})

	responses := drain(t, e.Query(context.Background(), Input{Text: "use add"}, false))

	var types []ResponseType
	for _, r := range responses {
		types = append(types, r.Type)
	}
	want := []ResponseType{ResponseToolCall, ResponseToolCallResult, ResponseOutputText}
	if len(types) != len(want) {
		t.Fatalf("want %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("want %v, got %v", want, types)
		}
	}
	if responses[0].ToolCall == nil || responses[0].ToolCall.Name != "add" {
		t.Fatalf("unexpected tool call response: %+v", responses[0])
	}
	if responses[1].ToolResult == nil || responses[1].ToolResult.Content != "7" {
		t.Fatalf("unexpected tool result response: %+v", responses[1])
	}
	if !responses[1].IsTypeSwitched {
		t.Fatalf("tool_call_result must always switch")
	}
}

func TestQuery_UnregisteredToolSurfacesErrorWithoutBlockingOthers(t *testing.T) {
	comp := &scriptedComponent{batches: [][]vm.IterFrame{
		{toolCallFrame("call-1", "bogus", map[string]any{})},
		{frame("done", "stop")},
	}}
	e := newTestEngine(t, comp)

	responses := drain(t, e.Query(context.Background(), Input{Text: "go"}, false))
	var result *ToolMessageContent
	for _, r := range responses {
		if r.Type == ResponseToolCallResult {
			result = r.ToolResult
		}
	}
	if result == nil {
		t.Fatalf("expected a tool_call_result event")
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatalf("tool result not JSON: %v", err)
	}
	if ok, _ := decoded["ok"].(bool); ok {
		t.Fatalf("expected ok:false for unregistered tool, got %v", decoded)
	}
}

func TestQuery_ToolCallResultOrderMatchesDispatchOrderNotCompletionOrder(t *testing.T) {
	comp := &scriptedComponent{batches: [][]vm.IterFrame{
		{toolCallFrameN([]toolCallSpec{
			{id: "call-slow", name: "slow"},
			{id: "call-fast", name: "fast"},
		})},
		{frame("done", "stop")},
	}}
	e := newTestEngine(t, comp)
	e.AddFunctionTool(tools.Descriptor{Name: "slow"}, func(ctx context.Context, args json.RawMessage) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return "slow-done", nil
	})
	e.AddFunctionTool(tools.Descriptor{Name: "fast"}, func(ctx context.Context, args json.RawMessage) (any, error) {
		return "fast-done", nil
	})

	responses := drain(t, e.Query(context.Background(), Input{Text: "go"}, false))
	var order []string
	for _, r := range responses {
		if r.Type == ResponseToolCallResult {
			order = append(order, r.ToolResult.ToolCallID)
		}
	}
	if len(order) != 2 || order[0] != "call-slow" || order[1] != "call-fast" {
		t.Fatalf("want [call-slow call-fast], got %v", order)
	}
}

type toolCallSpec struct{ id, name string }

func toolCallFrameN(specs []toolCallSpec) vm.IterFrame {
	calls := make([]value.Value, 0, len(specs))
	for _, s := range specs {
		tc := value.NewMap()
		tc.Set("id", value.String(s.id))
		tc.Set("name", value.String(s.name))
		tc.Set("arguments", value.NewMap())
		calls = append(calls, tc)
	}
	msg := value.NewMap()
	msg.Set("tool_calls", value.Array(calls...))
	payload := value.NewMap()
	payload.Set("message", msg)
	payload.Set("finish_reason", value.String("tool_calls"))
	return vm.IterFrame{Payload: payload, Final: true}
}

func TestQuery_InvalidToolCallFinishReasonYieldsError(t *testing.T) {
	comp := &scriptedComponent{batches: [][]vm.IterFrame{{frame("", "invalid_tool_call")}}}
	e := newTestEngine(t, comp)

	responses := drain(t, e.Query(context.Background(), Input{Text: "go"}, false))
	last := responses[len(responses)-1]
	if last.Type != ResponseError || aerr.KindOf(last.Err) != aerr.InvalidToolCall {
		t.Fatalf("want invalid_tool_call error, got %+v", last)
	}

	msgs := e.GetMessages()
	if msgs[len(msgs)-1].Role != "assistant" {
		t.Fatalf("assistant message should still be persisted on error turn")
	}
}

func TestAddTool_DuplicateNameReturnsFalse(t *testing.T) {
	e := newTestEngine(t, &scriptedComponent{batches: [][]vm.IterFrame{}})
	desc := tools.Descriptor{Name: "dup"}
	fn := func(ctx context.Context, args json.RawMessage) (any, error) { return nil, nil }
	if !e.AddFunctionTool(desc, fn) {
		t.Fatalf("first registration should succeed")
	}
	if e.AddFunctionTool(desc, fn) {
		t.Fatalf("duplicate registration should return false")
	}
}
