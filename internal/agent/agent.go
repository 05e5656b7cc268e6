// Package agent implements the Agent (C10): conversation state, tool
// registry, MCP-server registry, and the streaming query loop with
// parallel tool dispatch (spec §4.8). Grounded on the teacher's
// internal/agent.Engine: the same OnTurnMessage-style turn bookkeeping and
// dispatchTools semaphore+WaitGroup parallel-tool-call pattern, adapted
// from the teacher's callback hooks to a Go channel of Response events
// (this module's VM/broker layers already stream everything over
// channels, so a generator-shaped API fits better here than callbacks).
package agent

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"

	"ailoy/internal/aerr"
	"ailoy/internal/mcpclient"
	"ailoy/internal/tokenizer"
	"ailoy/internal/tools"
	"ailoy/internal/value"
	"ailoy/internal/vm"
)

// ImagePart is one image input, normalized to a base64 data URI at the
// Agent boundary (spec §4.8 step 1).
type ImagePart struct {
	Data     []byte
	MIMEType string
}

// AudioPart is one audio input, normalized the same way as ImagePart.
type AudioPart struct {
	Data     []byte
	MIMEType string
}

// Input is one turn's user content: plain text plus zero or more images/
// audio clips.
type Input struct {
	Text   string
	Images []ImagePart
	Audio  []AudioPart
}

func (in Input) toContentParts() []tokenizer.ContentPart {
	var parts []tokenizer.ContentPart
	if in.Text != "" {
		parts = append(parts, tokenizer.ContentPart{Type: "text", Text: in.Text})
	}
	for _, img := range in.Images {
		parts = append(parts, tokenizer.ContentPart{Type: "image_url", ImageURL: dataURI(img.MIMEType, img.Data)})
	}
	for _, a := range in.Audio {
		parts = append(parts, tokenizer.ContentPart{Type: "input_audio", InputAudio: dataURI(a.MIMEType, a.Data)})
	}
	return parts
}

// Engine is the Agent's live state: the bound LLM component plus
// conversation, tool and MCP-client registries.
type Engine struct {
	vmref       *vm.VM
	componentID string

	mu       sync.Mutex
	messages []tokenizer.Message

	tools tools.Registry
	mcp   *mcpclient.Manager

	// MaxToolParallelism caps concurrent tool dispatch within one turn; 0
	// means unbounded (one goroutine per call), matching the teacher's
	// dispatchTools default.
	MaxToolParallelism int

	toolCallSeq uint64
}

// New builds an Engine bound to v, with its own tool registry and MCP
// client manager. Call Define before Query.
func New(v *vm.VM) *Engine {
	return &Engine{
		vmref: v,
		tools: tools.NewRegistry(),
		mcp:   mcpclient.NewManager(),
	}
}

// Define constructs the bound LLM component (spec §4.8: "ask the VM to
// create a tvm_language_model component; else a provider-specific
// component") and resets messages, seeding them with systemMessage as a
// system message when it is non-empty; an empty systemMessage adds none.
func (e *Engine) Define(componentType, componentID string, attrs value.Value, systemMessage string) error {
	if err := e.vmref.Define(componentType, componentID, attrs); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.componentID = componentID
	e.messages = nil
	if systemMessage != "" {
		e.messages = append(e.messages, tokenizer.Message{
			Role:    "system",
			Content: []tokenizer.ContentPart{{Type: "text", Text: systemMessage}},
		})
	}
	return nil
}

// Delete tears down the bound component (`delete` operation, spec §4.8).
func (e *Engine) Delete() error {
	e.mu.Lock()
	id := e.componentID
	e.componentID = ""
	e.mu.Unlock()
	if id == "" {
		return nil
	}
	return e.vmref.Delete(id)
}

// ClearMessages drops conversation history back to empty (`clear_messages`).
func (e *Engine) ClearMessages() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = nil
}

// GetMessages returns a defensive deep copy of the conversation so far
// (`get_messages`).
func (e *Engine) GetMessages() []tokenizer.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]tokenizer.Message, len(e.messages))
	for i, m := range e.messages {
		out[i] = m.Clone()
	}
	return out
}

func (e *Engine) appendMessage(m tokenizer.Message) {
	e.mu.Lock()
	e.messages = append(e.messages, m)
	e.mu.Unlock()
}

func (e *Engine) nextToolCallID() string {
	seq := atomic.AddUint64(&e.toolCallSeq, 1)
	return "agent-call-" + strconv.FormatUint(seq, 10)
}

// Query pushes input as a user message and drives the infer/tool-dispatch
// loop until a terminal finish-reason, yielding one Response per event on
// the returned channel (spec §4.8's query() generator). The channel is
// closed when the turn ends.
func (e *Engine) Query(ctx context.Context, input Input, reasoning bool) <-chan Response {
	out := make(chan Response)
	go e.run(ctx, input, reasoning, out)
	return out
}

func (e *Engine) run(ctx context.Context, input Input, reasoning bool, out chan<- Response) {
	defer close(out)

	e.appendMessage(tokenizer.Message{Role: "user", Content: input.toContentParts()})

	var lastType ResponseType
	haveLastType := false
	emit := func(r Response) bool {
		alwaysSwitches := r.Type == ResponseToolCall || r.Type == ResponseToolCallResult
		r.IsTypeSwitched = alwaysSwitches || !haveLastType || r.Type != lastType
		lastType = r.Type
		haveLastType = true
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		componentID := e.componentIDSnapshot()
		if componentID == "" {
			emit(Response{Type: ResponseError, Role: "assistant", Err: aerr.New(aerr.Validation, "agent has no bound component; call Define first")})
			return
		}

		inputsVal := e.buildInferInputs(reasoning)
		frames, err := e.vmref.IterMethod(ctx, componentID, "infer", inputsVal)
		if err != nil {
			emit(Response{Type: ResponseError, Role: "assistant", Err: err})
			return
		}

		assistant := tokenizer.Message{Role: "assistant"}
		finishReason := ""
		var streamErr error

	frameLoop:
		for frame := range frames {
			if frame.Err != nil {
				streamErr = frame.Err
				break frameLoop
			}
			msgVal, _ := frame.Payload.Get("message")

			if reasoningVal, ok := msgVal.Get("reasoning"); ok {
				for _, frag := range mustContentParts(reasoningVal) {
					assistant.Reasoning = append(assistant.Reasoning, frag)
					if !emit(Response{Type: ResponseReasoning, Role: "assistant", Text: frag.Text}) {
						return
					}
				}
			}
			if contentVal, ok := msgVal.Get("content"); ok {
				for _, frag := range mustContentParts(contentVal) {
					assistant.Content = append(assistant.Content, frag)
					if !emit(Response{Type: ResponseOutputText, Role: "assistant", Text: frag.Text}) {
						return
					}
				}
			}
			if toolCallsVal, ok := msgVal.Get("tool_calls"); ok {
				for _, tc := range mustToolCalls(toolCallsVal) {
					if tc.ID == "" {
						tc.ID = e.nextToolCallID()
					}
					assistant.ToolCalls = append(assistant.ToolCalls, tc)
					argsMap := toolCallArgsMap(tc)
					if !emit(Response{
						Type: ResponseToolCall, Role: "assistant",
						ToolCall: &ToolCallContent{ID: tc.ID, Name: tc.Name, Arguments: argsMap},
					}) {
						return
					}
				}
			}
			if reasonVal, ok := frame.Payload.Get("finish_reason"); ok {
				if s, err := reasonVal.String(); err == nil {
					finishReason = s
				}
			}
			if frame.Final {
				break frameLoop
			}
		}

		e.appendMessage(assistant)

		if streamErr != nil {
			emit(Response{Type: ResponseError, Role: "assistant", Err: streamErr})
			return
		}

		switch finishReason {
		case "tool_calls":
			if !e.runToolCalls(ctx, assistant.ToolCalls, emit) {
				return
			}
			continue
		case "error", "invalid_tool_call":
			kind := aerr.Transport
			if finishReason == "invalid_tool_call" {
				kind = aerr.InvalidToolCall
			}
			emit(Response{Type: ResponseError, Role: "assistant", Err: aerr.New(kind, "turn ended with finish_reason %q", finishReason)})
			return
		default:
			return
		}
	}
}

func (e *Engine) componentIDSnapshot() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.componentID
}

// runToolCalls dispatches every accumulated tool call in parallel (spec
// §4.8 step 2d), then appends each result message and emits a
// tool_call_result event in the order the calls appear in the assistant
// message — not wall-clock completion order.
func (e *Engine) runToolCalls(ctx context.Context, calls []tokenizer.ToolCall, emit func(Response) bool) bool {
	if len(calls) == 0 {
		return true
	}

	maxParallel := e.MaxToolParallelism
	if maxParallel <= 0 || maxParallel > len(calls) {
		maxParallel = len(calls)
	}

	results := make([]tokenizer.Message, len(calls))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, tc := range calls {
		i, tc := i, tc
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.executeToolCall(ctx, tc)
		}()
	}
	wg.Wait()

	for i, res := range results {
		e.appendMessage(res)
		text := ""
		if len(res.Content) > 0 {
			text = res.Content[0].Text
		}
		if !emit(Response{
			Type: ResponseToolCallResult, Role: "tool",
			ToolResult: &ToolMessageContent{ToolCallID: calls[i].ID, Content: text},
		}) {
			return false
		}
	}
	return true
}

func (e *Engine) executeToolCall(ctx context.Context, tc tokenizer.ToolCall) tokenizer.Message {
	argsRaw, err := tc.Arguments.MarshalJSON()
	if err != nil {
		argsRaw = []byte("{}")
	}
	payload, err := e.tools.Dispatch(ctx, tc.Name, argsRaw)
	if err != nil {
		quoted, _ := json.Marshal(err.Error())
		payload = []byte(`{"ok":false,"error":` + string(quoted) + `}`)
	}
	return tokenizer.Message{
		Role:       "tool",
		Content:    []tokenizer.ContentPart{{Type: "text", Text: string(payload)}},
		ToolCallID: tc.ID,
	}
}

func (e *Engine) buildInferInputs(reasoning bool) value.Value {
	out := value.NewMap()
	out.Set("messages", encodeMessages(e.GetMessages()))
	out.Set("tools", value.Array(encodeToolDescriptors(e.tools.Descriptors())...))
	out.Set("reasoning", value.Bool(reasoning))
	return out
}
