package agent

import (
	"context"

	"ailoy/internal/config"
	"ailoy/internal/mcpclient"
	"ailoy/internal/tools"
)

// AddTool registers a native Go tool (`add_tool`). Returns false if a tool
// with the same name is already registered (spec §4.8).
func (e *Engine) AddTool(t tools.Tool) bool {
	return e.tools.Register(t)
}

// AddFunctionTool registers a native Go function under desc
// (`add_js_function_tool` in spec terms; this module has no embedded JS
// evaluator, so the same Func seam serves both native and
// script-evaluator-backed tools).
func (e *Engine) AddFunctionTool(desc tools.Descriptor, fn tools.Func) bool {
	return e.tools.Register(tools.NewFunctionTool(desc, fn))
}

// AddBuiltinTool registers a VM-operator-backed tool (`add_builtin_tool`).
func (e *Engine) AddBuiltinTool(def tools.BuiltinDefinition, invoke tools.OperatorInvoker) bool {
	return e.tools.Register(tools.NewBuiltinTool(def, invoke))
}

// AddRESTTool registers a REST-API-backed tool (`add_restapi_tool`).
func (e *Engine) AddRESTTool(def tools.RESTDefinition, invoke tools.HTTPInvoker) bool {
	return e.tools.Register(tools.NewRESTTool(def, invoke))
}

// AddToolsFromPreset loads a bundled or on-disk preset and registers every
// tool it describes (`add_tools_from_preset`). Returns the names that were
// actually registered; names colliding with an existing tool are skipped.
func (e *Engine) AddToolsFromPreset(dir, name string, opInvoke tools.OperatorInvoker, httpInvoke tools.HTTPInvoker) ([]string, error) {
	loaded, err := tools.LoadPreset(dir, name, opInvoke, httpInvoke)
	if err != nil {
		return nil, err
	}
	var registered []string
	for _, t := range loaded {
		if e.tools.Register(t) {
			registered = append(registered, t.Descriptor().Name)
		}
	}
	return registered, nil
}

// AddToolsFromMCPClient connects an MCP server and registers its tools
// under "<name>-<tool>" (`add_tools_from_mcp_client`).
func (e *Engine) AddToolsFromMCPClient(ctx context.Context, srv config.MCPServerConfig) error {
	return e.mcp.Connect(ctx, e.tools, srv)
}

// AddToolsFromMCPServers connects every configured server concurrently
// (mcpclient.Manager.ConnectAll) and registers each one's tools. Convenience
// wrapper over AddToolsFromMCPClient for startup-time bulk registration.
func (e *Engine) AddToolsFromMCPServers(ctx context.Context, servers []config.MCPServerConfig) error {
	return e.mcp.ConnectAll(ctx, e.tools, servers)
}

// RemoveMCPClient disconnects srvName's MCP session and unregisters its
// tools (`remove_mcp_client`).
func (e *Engine) RemoveMCPClient(srvName string) {
	e.mcp.Disconnect(srvName, e.tools)
}

// GetTools returns the registered tool descriptors (`get_tools`).
func (e *Engine) GetTools() []tools.Descriptor {
	return e.tools.Descriptors()
}

// ClearTools unregisters every tool (`clear_tools`).
func (e *Engine) ClearTools() {
	e.tools.Clear()
}

// MCPManager exposes the Engine's MCP client manager, e.g. for Close on
// shutdown.
func (e *Engine) MCPManager() *mcpclient.Manager {
	return e.mcp
}
