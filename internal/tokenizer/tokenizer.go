// Package tokenizer implements the Tokenizer + Chat-Template Renderer
// (spec C3): tokenize/detokenize is delegated to an external Tokenizer
// interface (assumed available per spec §1), while chat-template
// rendering and the five canonicalization passes are implemented here.
// No teacher subsystem performs Jinja-style templating (manifold only
// ever calls out to hosted completion APIs that render prompts
// server-side), so the renderer and canonicalization passes are
// hand-built against spec §4.3; this is a justified stdlib-only package
// since no ecosystem Jinja-for-Go library appears anywhere in the
// retrieved pack.
package tokenizer

import (
	"ailoy/internal/value"
)

// Tokenizer is the externally supplied encode/decode surface (spec §1:
// "assumed available").
type Tokenizer interface {
	Encode(text string) ([]int32, error)
	Decode(ids []int32, skipSpecial bool) (string, error)
	VocabSize() int
	IDToPiece(id int32) (string, error)
}

// ContentPart is one element of a message's content or reasoning list.
type ContentPart struct {
	Type      string // "text" | "image_url" | "input_audio"
	Text      string
	ImageURL  string
	InputAudio string
}

// ToolCall is an assistant-emitted function call.
type ToolCall struct {
	ID       string
	Name     string
	Arguments value.Value
}

// Message mirrors spec §3's Message shape, prior to canonicalization.
type Message struct {
	Role        string // system | user | assistant | tool
	Content     []ContentPart
	Reasoning   []ContentPart
	ToolCalls   []ToolCall
	ToolCallID  string
}

// Clone deep-copies a Message so canonicalization never mutates the
// Agent's stored history (spec §4.3 invariant).
func (m Message) Clone() Message {
	out := Message{Role: m.Role, ToolCallID: m.ToolCallID}
	out.Content = append([]ContentPart(nil), m.Content...)
	out.Reasoning = append([]ContentPart(nil), m.Reasoning...)
	out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	return out
}

// TemplateConfig is loaded from chat-template-config.json (spec §4.5 step 5).
type TemplateConfig struct {
	TemplateFile string
	BOSToken     string
	EOSToken     string
	BOTCToken    string
	EOTCToken    string
}

// Renderer renders messages + tools into a model-specific prompt string.
// The concrete template-execution strategy (text/template in Go-syntax
// mode, since the retrieved pack carries no Jinja engine) lives in
// render.go; this file owns the canonicalization pipeline.
type Renderer struct {
	cfg      TemplateConfig
	template *CompiledTemplate
}

// NewRenderer compiles templateSource (Jinja-like, translated ahead of
// time to the subset CompiledTemplate understands) under cfg.
func NewRenderer(cfg TemplateConfig, templateSource string) (*Renderer, error) {
	tmpl, err := CompileTemplate(templateSource)
	if err != nil {
		return nil, err
	}
	return &Renderer{cfg: cfg, template: tmpl}, nil
}

// ApplyChatTemplate runs the five canonicalization passes, in order, on a
// deep copy of messages, then renders the result.
func (r *Renderer) ApplyChatTemplate(messages []Message, tools []value.Value, reasoningEnabled, addGenerationPrompt bool) (string, error) {
	canon := canonicalize(messages)
	return r.template.Render(TemplateContext{
		Messages:            canon,
		Tools:               tools,
		ReasoningEnabled:     reasoningEnabled,
		AddGenerationPrompt: addGenerationPrompt,
		Config:              r.cfg,
	})
}

func canonicalize(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = m.Clone()
	}
	removeToolCallID(out)
	putDefaultReasoning(out)
	meltReasoning(out)
	mergeTextData(out)
	meltContentText(out)
	return out
}

// removeToolCallID drops id from assistant tool_calls and tool_call_id
// from tool messages (pass 1).
func removeToolCallID(messages []Message) {
	for i := range messages {
		m := &messages[i]
		for j := range m.ToolCalls {
			m.ToolCalls[j].ID = ""
		}
		if m.Role == "tool" {
			m.ToolCallID = ""
		}
	}
}

// putDefaultReasoning inserts an empty reasoning text part for assistant
// messages carrying content or tool_calls but no reasoning (pass 2).
func putDefaultReasoning(messages []Message) {
	for i := range messages {
		m := &messages[i]
		if m.Role != "assistant" {
			continue
		}
		hasPayload := len(m.Content) > 0 || len(m.ToolCalls) > 0
		if hasPayload && len(m.Reasoning) == 0 {
			m.Reasoning = []ContentPart{{Type: "text", Text: "\n\n"}}
		}
	}
}

// meltReasoning prepends reasoning text to content, wrapped in <think>
// tags, as the first content element (pass 3).
func meltReasoning(messages []Message) {
	for i := range messages {
		m := &messages[i]
		if m.Role != "assistant" || len(m.Reasoning) == 0 {
			continue
		}
		var text string
		for _, p := range m.Reasoning {
			text += p.Text
		}
		wrapped := ContentPart{Type: "text", Text: "<think>" + text + "</think>\n\n"}
		m.Content = append([]ContentPart{wrapped}, m.Content...)
	}
}

// mergeTextData coalesces consecutive text parts inside content and
// reasoning (pass 4).
func mergeTextData(messages []Message) {
	for i := range messages {
		messages[i].Content = mergeTextParts(messages[i].Content)
		messages[i].Reasoning = mergeTextParts(messages[i].Reasoning)
	}
}

func mergeTextParts(parts []ContentPart) []ContentPart {
	if len(parts) == 0 {
		return parts
	}
	out := make([]ContentPart, 0, len(parts))
	for _, p := range parts {
		if p.Type == "text" && len(out) > 0 && out[len(out)-1].Type == "text" {
			out[len(out)-1].Text += p.Text
			continue
		}
		out = append(out, p)
	}
	return out
}

// meltContentText marks a single-text-part content list as a bare string
// by setting that part's Type to "bare_text" (pass 5).
func meltContentText(messages []Message) {
	for i := range messages {
		m := &messages[i]
		if len(m.Content) == 1 && m.Content[0].Type == "text" {
			m.Content[0].Type = "bare_text"
		}
	}
}
