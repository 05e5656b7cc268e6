package tools

import (
	"embed"
	"encoding/json"
	"os"
	"path"
	"strings"

	"ailoy/internal/aerr"
)

//go:embed presets/*.json
var bundledPresets embed.FS

// presetDefinition is the on-disk shape of one entry in a preset JSON file:
// an object mapping tool name to a ToolDefinition of type builtin or restapi
// (spec §6: "Tool preset JSON ... object mapping tool-name → ToolDefinition").
type presetDefinition struct {
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Parameters  map[string]any    `json:"parameters"`
	Operator    string            `json:"operator,omitempty"`
	BaseURL     string            `json:"baseURL,omitempty"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	Accept      string            `json:"accept,omitempty"`
	OutputPath  string            `json:"outputPath,omitempty"`
}

// LoadPreset reads a named preset (bundled if present under presets/, else
// from dir if non-empty) and returns the Tools it describes, wired against
// the given invokers.
func LoadPreset(dir, name string, opInvoke OperatorInvoker, httpInvoke HTTPInvoker) ([]Tool, error) {
	data, err := readPresetFile(dir, name)
	if err != nil {
		return nil, err
	}

	var defs map[string]presetDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, aerr.Wrap(aerr.Validation, err, "parse preset %q", name)
	}

	tools := make([]Tool, 0, len(defs))
	for toolName, def := range defs {
		switch def.Type {
		case "builtin":
			tools = append(tools, NewBuiltinTool(BuiltinDefinition{
				Name:         toolName,
				Description:  def.Description,
				Parameters:   def.Parameters,
				OperatorName: def.Operator,
				OutputPath:   def.OutputPath,
			}, opInvoke))
		case "restapi":
			tools = append(tools, NewRESTTool(RESTDefinition{
				Name:        toolName,
				Description: def.Description,
				Parameters:  def.Parameters,
				BaseURL:     def.BaseURL,
				Method:      def.Method,
				Headers:     def.Headers,
				Body:        def.Body,
				Accept:      def.Accept,
				OutputPath:  def.OutputPath,
			}, httpInvoke))
		default:
			return nil, aerr.New(aerr.Validation, "preset %q: tool %q has unknown type %q", name, toolName, def.Type)
		}
	}
	return tools, nil
}

func readPresetFile(dir, name string) ([]byte, error) {
	fileName := name
	if !strings.HasSuffix(fileName, ".json") {
		fileName += ".json"
	}
	if dir != "" {
		if data, err := os.ReadFile(path.Join(dir, fileName)); err == nil {
			return data, nil
		}
	}
	data, err := bundledPresets.ReadFile(path.Join("presets", fileName))
	if err != nil {
		return nil, aerr.Wrap(aerr.NotFound, err, "preset %q not found", name)
	}
	return data, nil
}
