package remotellm

import (
	"testing"

	"ailoy/internal/tokenizer"
	"ailoy/internal/value"
)

func TestMapFinishReasonNormalizesProviderVariants(t *testing.T) {
	cases := map[string]string{
		"stop":           "stop",
		"end_turn":       "stop",
		"tool_calls":     "tool_calls",
		"tool_use":       "tool_calls",
		"length":         "length",
		"max_tokens":     "length",
		"content_filter": "error",
		"":               "stop",
	}
	for in, want := range cases {
		if got := mapFinishReason(in); got != want {
			t.Fatalf("mapFinishReason(%q): want %q, got %q", in, want, got)
		}
	}
}

func TestJoinTextConcatenatesContentParts(t *testing.T) {
	parts := []tokenizer.ContentPart{{Type: "text", Text: "hello"}, {Type: "text", Text: "world"}}
	if got := joinText(parts); got != "hello\nworld" {
		t.Fatalf("want \"hello\\nworld\", got %q", got)
	}
	if got := joinText(nil); got != "" {
		t.Fatalf("want empty string for no parts, got %q", got)
	}
}

func buildToolSchema(name, description string) value.Value {
	fn := value.NewMap()
	fn.Set("name", value.String(name))
	fn.Set("description", value.String(description))
	params := value.NewMap()
	props := value.NewMap()
	props.Set("x", value.Map(value.KV{Key: "type", Val: value.String("number")}))
	params.Set("properties", props)
	fn.Set("parameters", params)
	tool := value.NewMap()
	tool.Set("type", value.String("function"))
	tool.Set("function", fn)
	return tool
}

func TestToolFunctionFieldsExtractsNestedShape(t *testing.T) {
	tool := buildToolSchema("add", "adds two numbers")
	name, description, parameters := toolFunctionFields(tool)
	if name != "add" {
		t.Fatalf("want name \"add\", got %q", name)
	}
	if description != "adds two numbers" {
		t.Fatalf("want description \"adds two numbers\", got %q", description)
	}
	if _, ok := parameters["properties"]; !ok {
		t.Fatal("want parameters[\"properties\"] present")
	}
}

func TestToolFunctionFieldsAcceptsBareShape(t *testing.T) {
	fn := value.NewMap()
	fn.Set("name", value.String("ping"))
	name, _, _ := toolFunctionFields(fn)
	if name != "ping" {
		t.Fatalf("want name \"ping\" from bare (non-nested) tool value, got %q", name)
	}
}

func TestRehydrateArgumentsParsesValidJSON(t *testing.T) {
	v := rehydrateArguments(`{"a":1}`)
	inner, ok := v.Get("a")
	if !ok {
		t.Fatal("want key \"a\" present")
	}
	n, err := inner.Int()
	if err != nil || n != 1 {
		t.Fatalf("want a=1, got %v (err %v)", n, err)
	}
}

func TestRehydrateArgumentsFallsBackToEmptyMapOnInvalidJSON(t *testing.T) {
	v := rehydrateArguments("not-json")
	entries, err := v.MapEntries()
	if err != nil {
		t.Fatalf("want an empty map value on parse failure, got kind error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("want no entries, got %d", len(entries))
	}
}
