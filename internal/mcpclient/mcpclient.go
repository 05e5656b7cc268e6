// Package mcpclient adapts MCP servers into the tool registry. Grounded
// directly on the teacher's own internal/mcpclient/mcpclient.go: a
// name-keyed Manager of live ClientSessions over
// github.com/modelcontextprotocol/go-sdk, connecting via either a spawned
// stdio command or a remote streamable-HTTP endpoint, then wrapping each
// remote tool as a local tools.Tool. Generalized here to this module's
// tools.Registry/tools.Descriptor shape and to spec §6's
// "<server-name>-<tool-name>" naming rule (the teacher used an underscore).
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"ailoy/internal/aerr"
	"ailoy/internal/config"
	"ailoy/internal/tools"
)

// Manager holds active MCP client sessions and the tool names each one
// contributed to a Registry, so a later remove_mcp_client can unregister
// exactly what it added.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*mcppkg.ClientSession
	toolNames map[string][]string
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{
		sessions:  make(map[string]*mcppkg.ClientSession),
		toolNames: make(map[string][]string),
	}
}

// Close tears down every active session.
func (m *Manager) Close() error {
	m.mu.Lock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		m.closeSession(name)
	}
	return nil
}

// Connect starts (or, if already connected, replaces) a session for srv and
// registers its tools into reg under "<srv.Name>-<tool>".
func (m *Manager) Connect(ctx context.Context, reg tools.Registry, srv config.MCPServerConfig) error {
	name := strings.TrimSpace(srv.Name)
	if name == "" {
		return aerr.New(aerr.Validation, "mcp server name required")
	}
	m.Disconnect(name, reg)

	client := mcppkg.NewClient(&mcppkg.Implementation{Name: "ailoy", Version: "0.1.0"}, nil)

	var session *mcppkg.ClientSession
	var err error
	switch {
	case strings.TrimSpace(srv.Command) != "":
		cmd := buildCommand(srv)
		session, err = client.Connect(ctx, &mcppkg.CommandTransport{Command: cmd}, nil)
	case strings.TrimSpace(srv.URL) != "":
		httpClient := buildHTTPClient(srv)
		transport := &mcppkg.StreamableClientTransport{Endpoint: srv.URL, HTTPClient: httpClient}
		session, err = client.Connect(ctx, transport, nil)
	default:
		return aerr.New(aerr.Validation, "mcp server %q: neither command nor url configured", name)
	}
	if err != nil {
		return aerr.Wrap(aerr.Transport, err, "connect mcp server %q", name)
	}

	var registered []string
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			break
		}
		toolName := name + "-" + tool.Name
		if reg.Register(&mcpTool{toolName: toolName, session: session, tool: tool}) {
			registered = append(registered, toolName)
		}
	}

	m.mu.Lock()
	m.sessions[name] = session
	m.toolNames[name] = registered
	m.mu.Unlock()
	return nil
}

// ConnectAll fans Connect out across every configured server concurrently
// via errgroup, the same pattern the teacher's RunWARPP uses for
// independent parallel stages (internal/agent/warpp.go). The first
// connection failure cancels gctx and is returned; the rest are abandoned
// mid-flight rather than left to leak.
func (m *Manager) ConnectAll(ctx context.Context, reg tools.Registry, servers []config.MCPServerConfig) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			if err := m.Connect(gctx, reg, srv); err != nil {
				return fmt.Errorf("mcp server %q: %w", srv.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Disconnect closes the named server's session and unregisters its tools.
// A no-op if the server isn't currently connected.
func (m *Manager) Disconnect(name string, reg tools.Registry) {
	m.closeSession(name)
	m.mu.Lock()
	names, ok := m.toolNames[name]
	if ok {
		delete(m.toolNames, name)
	}
	m.mu.Unlock()
	if ok && reg != nil {
		for _, toolName := range names {
			reg.Unregister(toolName)
		}
	}
}

func (m *Manager) closeSession(name string) {
	m.mu.Lock()
	s, ok := m.sessions[name]
	if ok {
		delete(m.sessions, name)
	}
	m.mu.Unlock()
	if ok {
		_ = s.Close()
	}
}

func buildCommand(srv config.MCPServerConfig) *exec.Cmd {
	cmd := exec.Command(srv.Command, srv.Args...)
	if len(srv.Env) > 0 {
		env := os.Environ()
		for k, v := range srv.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return cmd
}

func buildHTTPClient(srv config.MCPServerConfig) *http.Client {
	return &http.Client{
		Timeout:   60 * time.Second,
		Transport: &headerRoundTripper{base: http.DefaultTransport, srv: srv},
	}
}

type headerRoundTripper struct {
	base http.RoundTripper
	srv  config.MCPServerConfig
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "application/json, text/event-stream")
	}
	if t.srv.Origin != "" && r.Header.Get("Origin") == "" {
		r.Header.Set("Origin", t.srv.Origin)
	}
	if t.srv.ProtocolVersion != "" && r.Header.Get("MCP-Protocol-Version") == "" {
		r.Header.Set("MCP-Protocol-Version", t.srv.ProtocolVersion)
	}
	for k, v := range t.srv.Headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	if t.srv.BearerToken != "" && r.Header.Get("Authorization") == "" {
		r.Header.Set("Authorization", "Bearer "+t.srv.BearerToken)
	}
	return t.base.RoundTrip(r)
}

// mcpTool adapts one remote MCP tool to tools.Tool.
type mcpTool struct {
	toolName string
	session  *mcppkg.ClientSession
	tool     *mcppkg.Tool
}

func (t *mcpTool) Descriptor() tools.Descriptor {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	if t.tool.InputSchema != nil {
		if b, err := json.Marshal(t.tool.InputSchema); err == nil {
			var m map[string]any
			if json.Unmarshal(b, &m) == nil {
				for k, v := range m {
					params[k] = v
				}
			}
		}
	}
	return tools.Descriptor{
		Name:        t.toolName,
		Description: t.tool.Description,
		Parameters:  params,
	}
}

func (t *mcpTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &args)
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := t.session.CallTool(ctx, &mcppkg.CallToolParams{Name: t.tool.Name, Arguments: args})
	if err != nil {
		return nil, aerr.Wrap(aerr.Transport, err, "call mcp tool %q", t.toolName)
	}

	var texts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcppkg.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return map[string]any{
		"ok":         !res.IsError,
		"text":       strings.Join(texts, "\n"),
		"structured": res.StructuredContent,
	}, nil
}
