package agent

import (
	"encoding/json"

	"ailoy/internal/tokenizer"
	"ailoy/internal/value"
)

// mustContentParts decodes a content/reasoning array from an infer frame's
// payload. Malformed entries are skipped rather than aborting the turn:
// this is our own bridge's output, not untrusted external input.
func mustContentParts(v value.Value) []tokenizer.ContentPart {
	items, err := v.Array()
	if err != nil {
		return nil
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
	return parts
}

func mustToolCalls(v value.Value) []tokenizer.ToolCall {
	items, err := v.Array()
	if err != nil {
		return nil
	}
	calls := make([]tokenizer.ToolCall, 0, len(items))
	for _, item := range items {
		call := tokenizer.ToolCall{Arguments: value.NewMap()}
		if idVal, ok := item.Get("id"); ok {
			call.ID, _ = idVal.String()
		}
		if nameVal, ok := item.Get("name"); ok {
			call.Name, _ = nameVal.String()
		}
		if argsVal, ok := item.Get("arguments"); ok {
			call.Arguments = argsVal
		}
		calls = append(calls, call)
	}
	return calls
}

// toolCallArgsMap renders a tool call's arguments as a plain map for the
// Response event consumers see (spec §6: "content: ... {id?,
// function:{name, arguments}}").
func toolCallArgsMap(tc tokenizer.ToolCall) map[string]any {
	raw, err := tc.Arguments.MarshalJSON()
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}
