package remotellm

import (
	"context"
	"encoding/json"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"ailoy/internal/llmresult"
	"ailoy/internal/observability"
	"ailoy/internal/tokenizer"
	"ailoy/internal/value"
)

const claudeDefaultMaxTokens = 4096

// callClaude handles the claude provider, whose wire shape diverges enough
// from OpenAI's to need its own SDK and message adapter (spec §4.6): system
// messages live outside the messages array, tool results collapse to a bare
// string instead of a content-block array, and an empty tool list is
// dropped from the request rather than sent as [].
func (e *Engine) callClaude(ctx context.Context, req InferRequest) (llmresult.Frame, error) {
	log := observability.LoggerWithTrace(ctx)

	system, messages := toClaudeMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		Messages:  messages,
		System:    system,
		MaxTokens: claudeDefaultMaxTokens,
	}
	if len(req.Tools) > 0 {
		params.Tools = toClaudeTools(req.Tools)
	}

	resp, err := e.an.Messages.New(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("provider", "claude").Str("model", e.model).Msg("remote_chat_completion_error")
		return llmresult.Frame{}, transportErr(Claude, err)
	}

	msg := llmresult.Message{}
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			msg.Content = append(msg.Content, llmresult.ContentFragment{Type: "text", Text: v.Text})
		case anthropic.ToolUseBlock:
			msg.ToolCalls = append(msg.ToolCalls, llmresult.ToolCallFragment{
				Type:      "function",
				Name:      v.Name,
				Arguments: rehydrateArguments(string(v.Input)),
			})
		}
	}

	return llmresult.Frame{Message: msg, FinishReason: mapFinishReason(string(resp.StopReason))}, nil
}

func toClaudeMessages(msgs []tokenizer.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))

	for _, m := range msgs {
		text := joinText(m.Content)
		switch m.Role {
		case "system":
			if text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
		case "user":
			if text != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, claudeToolInput(tc.Arguments), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			// Tool-result content collapses from a content-block array to
			// a bare string for this provider (spec §4.6).
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, text, false)))
		}
	}
	return system, out
}

func toClaudeTools(tools []value.Value) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		name, description, parameters := toolFunctionFields(t)
		schema := anthropic.ToolInputSchemaParam{Type: constant.ValueOf[constant.Object]()}
		if props, ok := parameters["properties"]; ok {
			schema.Properties = props
		}
		if req, ok := parameters["required"].([]any); ok {
			for _, item := range req {
				if s, ok := item.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		param := anthropic.ToolParam{Name: name, InputSchema: schema}
		if description != "" {
			param.Description = anthropic.String(description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func claudeToolInput(args value.Value) any {
	b, err := args.MarshalJSON()
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}
