package tools

import (
	"context"
	"encoding/json"

	"ailoy/internal/aerr"
	jmp "ailoy/internal/jmespath"
	"ailoy/internal/value"
)

// OperatorInvoker calls a stateless VM operator by name — normally
// vm.VM.Call bound to a specific Runtime's VM.
type OperatorInvoker func(ctx context.Context, name string, inputs value.Value) (value.Value, error)

// BuiltinDefinition is a builtin ToolDefinition: a named VM operator plus an
// optional outputPath projection over its raw result (spec §3:
// "references a VM operator by name; outputPath? is a JMESPath projection").
type BuiltinDefinition struct {
	Name         string
	Description  string
	Parameters   map[string]any
	OperatorName string
	OutputPath   string
}

type builtinTool struct {
	def    BuiltinDefinition
	invoke OperatorInvoker
}

// NewBuiltinTool adapts a BuiltinDefinition into a Tool.
func NewBuiltinTool(def BuiltinDefinition, invoke OperatorInvoker) Tool {
	return &builtinTool{def: def, invoke: invoke}
}

func (t *builtinTool) Descriptor() Descriptor {
	return Descriptor{Name: t.def.Name, Description: t.def.Description, Parameters: t.def.Parameters}
}

func (t *builtinTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	inputs := value.Null()
	if len(raw) > 0 {
		v, err := value.ParseJSON(raw)
		if err != nil {
			return nil, aerr.Wrap(aerr.InvalidToolCall, err, "decode arguments for tool %q", t.def.Name)
		}
		inputs = v
	}

	out, err := t.invoke(ctx, t.def.OperatorName, inputs)
	if err != nil {
		return nil, err
	}

	outJSON, err := out.MarshalJSON()
	if err != nil {
		return nil, aerr.Wrap(aerr.Validation, err, "encode result for tool %q", t.def.Name)
	}
	var payload any
	if err := json.Unmarshal(outJSON, &payload); err != nil {
		return nil, aerr.Wrap(aerr.Validation, err, "decode result for tool %q", t.def.Name)
	}

	if t.def.OutputPath == "" {
		return payload, nil
	}
	return jmp.Search(t.def.OutputPath, payload)
}
