package agent

import (
	"encoding/base64"
	"encoding/json"

	"ailoy/internal/tokenizer"
	"ailoy/internal/tools"
	"ailoy/internal/value"
)

// dataURI renders raw bytes as a base64 data: URL, the uniform
// image/audio-to-base64 adapter spec §4.8 step 1 requires at the Agent
// boundary — the underlying engine only ever sees Value content-parts.
func dataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func encodeMessages(messages []tokenizer.Message) value.Value {
	vs := make([]value.Value, 0, len(messages))
	for _, m := range messages {
		vs = append(vs, encodeMessage(m))
	}
	return value.Array(vs...)
}

func encodeMessage(m tokenizer.Message) value.Value {
	out := value.NewMap()
	out.Set("role", value.String(m.Role))
	out.Set("content", encodeContentParts(m.Content))
	if len(m.Reasoning) > 0 {
		out.Set("reasoning", encodeContentParts(m.Reasoning))
	}
	if len(m.ToolCalls) > 0 {
		out.Set("tool_calls", encodeToolCalls(m.ToolCalls))
	}
	if m.ToolCallID != "" {
		out.Set("tool_call_id", value.String(m.ToolCallID))
	}
	return out
}

func encodeContentParts(parts []tokenizer.ContentPart) value.Value {
	vs := make([]value.Value, 0, len(parts))
	for _, p := range parts {
		item := value.NewMap()
		item.Set("type", value.String(p.Type))
		switch p.Type {
		case "image_url":
			item.Set("image_url", value.String(p.ImageURL))
		case "input_audio":
			item.Set("input_audio", value.String(p.InputAudio))
		default:
			item.Set("text", value.String(p.Text))
		}
		vs = append(vs, item)
	}
	return value.Array(vs...)
}

func encodeToolCalls(calls []tokenizer.ToolCall) value.Value {
	vs := make([]value.Value, 0, len(calls))
	for _, c := range calls {
		item := value.NewMap()
		item.Set("id", value.String(c.ID))
		item.Set("name", value.String(c.Name))
		args := c.Arguments
		if args.IsNull() {
			args = value.NewMap()
		}
		item.Set("arguments", args)
		vs = append(vs, item)
	}
	return value.Array(vs...)
}

// encodeToolDescriptors renders the tool registry as the Value tools array
// infer() expects: OpenAI-style {"type":"function","function":{...}}
// wrappers, which remotellm.toolFunctionFields and the local engine's
// template both already know how to unwrap.
func encodeToolDescriptors(descriptors []tools.Descriptor) []value.Value {
	vs := make([]value.Value, 0, len(descriptors))
	for _, d := range descriptors {
		fn := value.NewMap()
		fn.Set("name", value.String(d.Name))
		fn.Set("description", value.String(d.Description))
		paramsJSON, err := marshalParameters(d.Parameters)
		if err == nil {
			fn.Set("parameters", paramsJSON)
		}
		item := value.NewMap()
		item.Set("type", value.String("function"))
		item.Set("function", fn)
		vs = append(vs, item)
	}
	return vs
}

func marshalParameters(params map[string]any) (value.Value, error) {
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return value.Value{}, err
	}
	return value.ParseJSON(raw)
}
