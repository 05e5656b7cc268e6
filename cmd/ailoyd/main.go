// Command ailoyd is a thin sample process: it wires a Runtime and one Agent
// over the configured LLM provider, reads newline-delimited prompts from
// stdin, and prints streamed responses to stdout. It exists to exercise the
// library end to end, not as the product surface — embedders are expected
// to call internal/runtime and internal/agent directly from their own
// process, the way the teacher's cmd/agentd wires internal/agent from a
// small main rather than putting orchestration logic in main itself.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"ailoy/internal/agent"
	"ailoy/internal/config"
	"ailoy/internal/observability"
	"ailoy/internal/runtime"
	"ailoy/internal/value"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitOTel(ctx, observability.ObsConfig(cfg.Obs))
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		observability.EnableOTelLogBridge(cfg.Obs.ServiceName)
		defer func() { _ = shutdown(context.Background()) }()
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize runtime")
	}
	defer rt.Close()

	ag := agent.New(rt.VM)
	ag.MaxToolParallelism = cfg.MaxToolParallelism

	if _, err := ag.AddToolsFromPreset(cfg.PresetDir, "web", rt.OperatorInvoker(), rt.HTTPInvoker()); err != nil {
		log.Warn().Err(err).Msg("failed to load web preset, continuing without it")
	}
	if len(cfg.MCPServers) > 0 {
		if err := ag.AddToolsFromMCPServers(ctx, cfg.MCPServers); err != nil {
			log.Warn().Err(err).Msg("one or more MCP servers failed to connect")
		}
		defer ag.MCPManager().Close()
	}

	componentType := componentTypeForProvider(cfg.LLMProvider)
	attrs := providerAttrs(cfg)
	if err := ag.Define(componentType, "ailoyd-agent", attrs, "You are a helpful assistant running inside ailoyd."); err != nil {
		log.Fatal().Err(err).Str("component_type", componentType).Msg("failed to define agent component")
	}
	defer ag.Delete()

	runREPL(ctx, ag)
}

// componentTypeForProvider maps the config's LLM_PROVIDER value to the
// registered VM component type (spec §4.6: local is "tvm_language_model",
// everything else is the provider name itself).
func componentTypeForProvider(provider string) string {
	if provider == "" || provider == "local" {
		return "tvm_language_model"
	}
	return provider
}

func providerAttrs(cfg config.Config) value.Value {
	var model string
	switch cfg.LLMProvider {
	case "openai":
		model = cfg.OpenAI.Model
	case "gemini":
		model = cfg.Gemini.Model
	case "claude":
		model = cfg.Claude.Model
	case "grok":
		model = cfg.Grok.Model
	}
	attrs := value.NewMap()
	if model != "" {
		attrs.Set("model", value.String(model))
	}
	return attrs
}

// runREPL reads one prompt per line from stdin and prints every streamed
// Response until the turn settles, matching the teacher's cmd/agentd
// request/response loop but over a terminal instead of HTTP.
func runREPL(ctx context.Context, ag *agent.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("ailoyd ready. Type a message and press enter (Ctrl-D to quit).")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		for resp := range ag.Query(ctx, agent.Input{Text: line}, false) {
			printResponse(resp)
		}
		fmt.Println()
	}
}

func printResponse(resp agent.Response) {
	switch resp.Type {
	case agent.ResponseOutputText, agent.ResponseReasoning:
		fmt.Print(resp.Text)
	case agent.ResponseToolCall:
		fmt.Printf("\n[tool_call %s(%v)]\n", resp.ToolCall.Name, resp.ToolCall.Arguments)
	case agent.ResponseToolCallResult:
		fmt.Printf("[tool_result %s: %s]\n", resp.ToolResult.ToolCallID, resp.ToolResult.Content)
	case agent.ResponseError:
		fmt.Fprintf(os.Stderr, "\nerror: %v\n", resp.Err)
	}
}
