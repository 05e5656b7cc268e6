// Package remotellm implements the Remote LLM Engine (C6): one infer() call
// per turn, which translates the canonicalized message history and tool
// schemas into a provider-specific request body, posts it to the provider's
// chat-completions endpoint, and folds the single response choice into the
// same llmresult.Frame shape the local engine (C5) streams many of (spec.md
// §4.6). Unlike the local engine, a remote call can only ever produce one
// terminal frame: there is nothing to stream token-by-token.
package remotellm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"ailoy/internal/aerr"
	"ailoy/internal/llmresult"
	"ailoy/internal/observability"
	"ailoy/internal/tokenizer"
	"ailoy/internal/value"
)

// Provider names one of the four remote providers spec §4.6 names.
type Provider string

const (
	OpenAI Provider = "openai"
	Gemini Provider = "gemini"
	Claude Provider = "claude"
	Grok   Provider = "grok"
)

const geminiOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

var errNoChoices = aerr.New(aerr.Transport, "remote provider returned no choices")

// Config bundles one provider connection's details.
type Config struct {
	Provider Provider
	APIKey   string
	BaseURL  string // override; defaults per provider when empty
	Model    string
}

// InferRequest mirrors localllm.InferRequest so callers (the Agent) build
// one request shape regardless of which engine they're talking to.
type InferRequest struct {
	Messages []tokenizer.Message
	Tools    []value.Value
}

// Engine calls one remote provider's chat-completions endpoint. openai,
// gemini and grok are all OpenAI-wire-compatible (the teacher's own
// internal/llm/openai.Client routes every model except Gemini-3 through the
// plain SDK via a baseURL override, never a provider-specific client), so
// they share the openai-go SDK client; claude alone gets the
// anthropic-sdk-go client for its distinct request/response shape.
type Engine struct {
	provider Provider
	model    string
	oa       sdk.Client
	an       anthropic.Client
}

// New constructs an Engine for cfg.Provider.
func New(cfg Config, httpClient *http.Client) *Engine {
	httpClient = observability.NewHTTPClient(httpClient)
	if cfg.Provider == Claude {
		opts := []anthropicopt.RequestOption{
			anthropicopt.WithAPIKey(cfg.APIKey),
			anthropicopt.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropicopt.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
		}
		return &Engine{provider: cfg.Provider, model: cfg.Model, an: anthropic.NewClient(opts...)}
	}

	base := cfg.BaseURL
	if base == "" && cfg.Provider == Gemini {
		base = geminiOpenAIBaseURL
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &Engine{provider: cfg.Provider, model: cfg.Model, oa: sdk.NewClient(opts...)}
}

// Infer implements spec §4.6's infer() contract: exactly one terminal frame
// delivered over a channel closed immediately after.
func (e *Engine) Infer(ctx context.Context, req InferRequest) (<-chan llmresult.Frame, error) {
	out := make(chan llmresult.Frame, 1)
	go e.run(ctx, req, out)
	return out, nil
}

func (e *Engine) run(ctx context.Context, req InferRequest, out chan<- llmresult.Frame) {
	defer close(out)
	frame, err := e.call(ctx, req)
	if err != nil {
		frame = llmresult.Frame{FinishReason: "error", Err: err}
	}
	select {
	case out <- frame:
	case <-ctx.Done():
	}
}

func (e *Engine) call(ctx context.Context, req InferRequest) (llmresult.Frame, error) {
	if e.provider == Claude {
		return e.callClaude(ctx, req)
	}
	return e.callOpenAICompatible(ctx, req)
}

// mapFinishReason normalizes a provider's wire finish_reason string to the
// Frame vocabulary (stop, tool_calls, length, error); an empty string maps
// to stop, and any other unrecognized value is passed through unchanged.
func mapFinishReason(raw string) string {
	switch raw {
	case "stop", "end_turn", "tool_calls", "tool_use", "length", "max_tokens":
		switch raw {
		case "end_turn":
			return "stop"
		case "tool_use":
			return "tool_calls"
		case "max_tokens":
			return "length"
		default:
			return raw
		}
	case "content_filter":
		return "error"
	case "":
		return "stop"
	default:
		return raw
	}
}

func joinText(parts []tokenizer.ContentPart) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

func toolFunctionFields(t value.Value) (name, description string, parameters map[string]any) {
	fn := t
	if f, ok := t.Get("function"); ok {
		fn = f
	}
	if v, ok := fn.Get("name"); ok {
		name, _ = v.String()
	}
	if v, ok := fn.Get("description"); ok {
		description, _ = v.String()
	}
	if v, ok := fn.Get("parameters"); ok {
		if b, err := v.MarshalJSON(); err == nil {
			_ = json.Unmarshal(b, &parameters)
		}
	}
	return name, description, parameters
}

func rehydrateArguments(raw string) value.Value {
	v, err := value.ParseJSON([]byte(raw))
	if err != nil {
		return value.NewMap()
	}
	return v
}

func transportErr(provider Provider, err error) error {
	return aerr.Wrap(aerr.Transport, err, "remote "+string(provider)+" chat completion")
}
