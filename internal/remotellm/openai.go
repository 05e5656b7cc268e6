package remotellm

import (
	"context"

	sdk "github.com/openai/openai-go/v2"

	"ailoy/internal/llmresult"
	"ailoy/internal/observability"
	"ailoy/internal/tokenizer"
	"ailoy/internal/value"
)

// callOpenAICompatible handles the openai, gemini and grok providers, all of
// which speak the OpenAI chat-completions wire format (spec §4.6: "all
// providers receive OpenAI-shaped JSON bodies").
func (e *Engine) callOpenAICompatible(ctx context.Context, req InferRequest) (llmresult.Frame, error) {
	log := observability.LoggerWithTrace(ctx)

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(e.model),
		Messages: toOpenAIMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = toOpenAITools(req.Tools)
	}

	comp, err := e.oa.Chat.Completions.New(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("provider", string(e.provider)).Str("model", e.model).Msg("remote_chat_completion_error")
		return llmresult.Frame{}, transportErr(e.provider, err)
	}
	if len(comp.Choices) == 0 {
		return llmresult.Frame{}, errNoChoices
	}

	choice := comp.Choices[0]
	msg := llmresult.Message{}
	if choice.Message.Content != "" {
		msg.Content = []llmresult.ContentFragment{{Type: "text", Text: choice.Message.Content}}
	}
	for _, tc := range choice.Message.ToolCalls {
		if v, ok := tc.AsAny().(sdk.ChatCompletionMessageFunctionToolCall); ok {
			msg.ToolCalls = append(msg.ToolCalls, llmresult.ToolCallFragment{
				Type:      "function",
				Name:      v.Function.Name,
				Arguments: rehydrateArguments(v.Function.Arguments),
			})
		}
	}

	finish := string(choice.FinishReason)
	// grok quirk (spec §4.6): the provider's own finish_reason is
	// unreliable when tool calls are present, so it is overridden rather
	// than trusted off the wire.
	if e.provider == Grok && len(msg.ToolCalls) > 0 {
		finish = "tool_calls"
	}

	return llmresult.Frame{Message: msg, FinishReason: mapFinishReason(finish)}, nil
}

func toOpenAIMessages(msgs []tokenizer.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		text := joinText(m.Content)
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(text))
		case "user":
			if text == "" {
				text = " "
			}
			out = append(out, sdk.UserMessage(text))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				if text == "" {
					text = " "
				}
				out = append(out, sdk.AssistantMessage(text))
				continue
			}
			var asst sdk.ChatCompletionAssistantMessageParam
			if text == "" {
				text = " "
			}
			asst.Content.OfString = sdk.String(text)
			for _, tc := range m.ToolCalls {
				argsJSON, err := tc.Arguments.MarshalJSON()
				if err != nil {
					argsJSON = []byte("{}")
				}
				fn := sdk.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
						Arguments: string(argsJSON),
						Name:      tc.Name,
					},
				}
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{OfFunction: &fn})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case "tool":
			if text == "" {
				text = `{"error": "empty tool response"}`
			}
			out = append(out, sdk.ToolMessage(text, m.ToolCallID))
		}
	}
	return out
}

func toOpenAITools(tools []value.Value) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		name, description, parameters := toolFunctionFields(t)
		def := sdk.FunctionDefinitionParam{
			Name:        name,
			Description: sdk.String(description),
			Parameters:  parameters,
		}
		out = append(out, sdk.ChatCompletionFunctionTool(def))
	}
	return out
}
