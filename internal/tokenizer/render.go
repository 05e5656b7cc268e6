package tokenizer

import (
	"strings"
	"text/template"

	"ailoy/internal/value"
)

// TemplateContext is the data bound into a chat template render.
type TemplateContext struct {
	Messages            []Message
	Tools               []value.Value
	ReasoningEnabled     bool
	AddGenerationPrompt bool
	Config              TemplateConfig
}

// renderMessage is the template-facing view of a Message: plain strings,
// since Go's text/template has no notion of the Value tagged union.
type renderMessage struct {
	Role       string
	Content    string
	Reasoning  string
	ToolCalls  []renderToolCall
	ToolCallID string
}

type renderToolCall struct {
	Name      string
	Arguments string
}

type renderContext struct {
	Messages            []renderMessage
	ToolsJSON           string
	ReasoningEnabled     bool
	AddGenerationPrompt bool
	BOSToken            string
	EOSToken            string
	BOTCToken           string
	EOTCToken           string
}

// CompiledTemplate wraps a parsed text/template instance. Model chat
// templates are authored in Jinja upstream; the config layer translates
// them once, ahead of time, into Go's text/template syntax, which is the
// only templating engine present anywhere in the retrieved pack's
// dependency surface.
type CompiledTemplate struct {
	tmpl *template.Template
}

// CompileTemplate parses source as a Go text/template.
func CompileTemplate(source string) (*CompiledTemplate, error) {
	t, err := template.New("chat").Parse(source)
	if err != nil {
		return nil, err
	}
	return &CompiledTemplate{tmpl: t}, nil
}

// Render executes the template against ctx, concatenating content text
// parts with a single space and joining reasoning text verbatim.
func (c *CompiledTemplate) Render(ctx TemplateContext) (string, error) {
	rc := renderContext{
		ReasoningEnabled:    ctx.ReasoningEnabled,
		AddGenerationPrompt: ctx.AddGenerationPrompt,
		BOSToken:            ctx.Config.BOSToken,
		EOSToken:            ctx.Config.EOSToken,
		BOTCToken:           ctx.Config.BOTCToken,
		EOTCToken:           ctx.Config.EOTCToken,
	}
	for _, m := range ctx.Messages {
		rm := renderMessage{Role: m.Role, ToolCallID: m.ToolCallID}
		var content, reasoning strings.Builder
		for i, p := range m.Content {
			if i > 0 {
				content.WriteByte(' ')
			}
			content.WriteString(p.Text)
		}
		for _, p := range m.Reasoning {
			reasoning.WriteString(p.Text)
		}
		rm.Content = content.String()
		rm.Reasoning = reasoning.String()
		for _, tc := range m.ToolCalls {
			argsJSON, _ := tc.Arguments.MarshalJSON()
			rm.ToolCalls = append(rm.ToolCalls, renderToolCall{Name: tc.Name, Arguments: string(argsJSON)})
		}
		rc.Messages = append(rc.Messages, rm)
	}
	if len(ctx.Tools) > 0 {
		var b strings.Builder
		b.WriteByte('[')
		for i, t := range ctx.Tools {
			if i > 0 {
				b.WriteByte(',')
			}
			tb, err := t.MarshalJSON()
			if err != nil {
				return "", err
			}
			b.Write(tb)
		}
		b.WriteByte(']')
		rc.ToolsJSON = b.String()
	}

	var out strings.Builder
	if err := c.tmpl.Execute(&out, rc); err != nil {
		return "", err
	}
	return out.String(), nil
}
