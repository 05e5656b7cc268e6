package localllm

import (
	"context"
	"strings"

	"ailoy/internal/aerr"
	"ailoy/internal/llmresult"
	"ailoy/internal/tokenizer"
	"ailoy/internal/value"
)

const replacementChar = "�"

// ContentFragment, ToolCallFragment, FrameMessage and Frame are the
// shared MessageOutput shape both engines produce (spec §4.6, §4.8).
type (
	ContentFragment  = llmresult.ContentFragment
	ToolCallFragment = llmresult.ToolCallFragment
	FrameMessage     = llmresult.Message
	Frame            = llmresult.Frame
)

// InferRequest bundles infer()'s inputs.
type InferRequest struct {
	Messages         []tokenizer.Message
	Tools            []value.Value
	ReasoningEnabled bool
}

// Infer implements spec §4.5's infer operator as a lazy stream of Frames
// delivered over a channel, closed when the turn ends (stop/length/error/
// invalid_tool_call) or ctx is cancelled.
func (e *Engine) Infer(ctx context.Context, req InferRequest) (<-chan Frame, error) {
	prompt, err := e.renderer.ApplyChatTemplate(req.Messages, req.Tools, req.ReasoningEnabled, true)
	if err != nil {
		return nil, aerr.Wrap(aerr.Validation, err, "apply_chat_template")
	}
	tokens, err := e.tok.Encode(prompt)
	if err != nil {
		return nil, aerr.Wrap(aerr.Validation, err, "encode prompt")
	}

	out := make(chan Frame)
	go e.runInferLoop(ctx, tokens, out)
	return out, nil
}

func (e *Engine) runInferLoop(ctx context.Context, tokens []int32, out chan<- Frame) {
	defer close(out)

	lastToken, err := e.Prefill(ctx, tokens)
	if err != nil {
		emitTerminal(ctx, out, Frame{FinishReason: terminalReasonFor(err), Err: err})
		return
	}

	var pendingReasoning, pendingOutput []int32
	var toolCallBuf []int32
	hadToolCall := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := e.decodeStep(ctx, lastToken)
		if err != nil {
			emitTerminal(ctx, out, Frame{FinishReason: terminalReasonFor(err), Err: err})
			return
		}
		lastToken = res.nextToken

		if lastToken == e.eosTokenID && e.currentMode == "output_text" {
			if text, ok := e.flushPending(&pendingOutput, res.nextToken); ok && text != "" {
				if !emit(ctx, out, Frame{Message: FrameMessage{Content: []ContentFragment{{Type: "text", Text: text}}}}) {
					return
				}
			}
			finish := "stop"
			if hadToolCall {
				finish = "tool_calls"
			}
			emitTerminal(ctx, out, Frame{FinishReason: finish})
			return
		}

		switch e.currentMode {
		case "reasoning":
			if res.enteredMode == "reasoning" {
				continue
			}
			if !e.emitDetokenized(ctx, out, &pendingReasoning, res.nextToken, true) {
				return
			}
		case "output_text":
			switch res.exitedMode {
			case "reasoning":
				// boundary token itself is not emitted (spec §4.5, infer rules).
				pendingReasoning = nil
			case "tool_call":
				// closing boundary token is neither emitted nor added to toolCallBuf.
			default:
				if !e.emitDetokenized(ctx, out, &pendingOutput, res.nextToken, false) {
					return
				}
			}
		case "tool_call":
			if res.enteredMode == "tool_call" {
				toolCallBuf = nil
				continue
			}
			toolCallBuf = append(toolCallBuf, res.nextToken)
		default:
			// user-added custom mode: accumulate like tool_call, silently.
		}

		if res.exitedMode == "tool_call" {
			text, err := e.tok.Decode(toolCallBuf, true)
			toolCallBuf = nil
			if err != nil {
				emitTerminal(ctx, out, Frame{FinishReason: "invalid_tool_call", Err: err})
				return
			}
			call, perr := parseToolCall(text)
			if perr != nil {
				if !emit(ctx, out, Frame{Message: FrameMessage{}, Err: perr}) {
					return
				}
				emitTerminal(ctx, out, Frame{FinishReason: "invalid_tool_call", Err: perr})
				return
			}
			hadToolCall = true
			if !emit(ctx, out, Frame{Message: FrameMessage{ToolCalls: []ToolCallFragment{call}}}) {
				return
			}
		}
	}
}

// emitDetokenized buffers pending raw tokens, detokenizes, and emits a
// fragment only once the decoded string does not end with the Unicode
// replacement character (multi-byte safety, spec §4.5).
func (e *Engine) emitDetokenized(ctx context.Context, out chan<- Frame, pending *[]int32, tok int32, reasoning bool) bool {
	*pending = append(*pending, tok)
	text, err := e.tok.Decode(*pending, false)
	if err != nil {
		return emit(ctx, out, Frame{Err: err})
	}
	if strings.HasSuffix(text, replacementChar) {
		return true
	}
	*pending = nil
	if text == "" {
		return true
	}
	msg := FrameMessage{}
	frag := []ContentFragment{{Type: "text", Text: text}}
	if reasoning {
		msg.Reasoning = frag
	} else {
		msg.Content = frag
	}
	return emit(ctx, out, Frame{Message: msg})
}

func (e *Engine) flushPending(pending *[]int32, _ int32) (string, bool) {
	if len(*pending) == 0 {
		return "", false
	}
	text, err := e.tok.Decode(*pending, true)
	*pending = nil
	return text, err == nil
}

func parseToolCall(raw string) (ToolCallFragment, error) {
	v, err := value.ParseJSON([]byte(raw))
	if err != nil {
		return ToolCallFragment{}, err
	}
	nameVal, ok := v.Get("name")
	if !ok {
		return ToolCallFragment{}, aerr.New(aerr.InvalidToolCall, "tool call JSON missing name")
	}
	name, err := nameVal.String()
	if err != nil {
		return ToolCallFragment{}, err
	}
	args, _ := v.Get("arguments")
	return ToolCallFragment{Type: "function", Name: name, Arguments: args}, nil
}

func terminalReasonFor(err error) string {
	switch aerr.KindOf(err) {
	case aerr.ContextLengthLimit:
		return "length"
	case aerr.Cancelled:
		return "error"
	default:
		return "error"
	}
}

func emit(ctx context.Context, out chan<- Frame, f Frame) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

func emitTerminal(ctx context.Context, out chan<- Frame, f Frame) {
	select {
	case out <- f:
	case <-ctx.Done():
	}
}
