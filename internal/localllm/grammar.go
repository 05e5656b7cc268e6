package localllm

import (
	"ailoy/internal/aerr"
	"ailoy/internal/tensorrt"
)

// SetGrammarEngine binds the grammar compiler used by the set_*_grammar
// operations below. Separate from NewEngineOptions since not every
// engine needs tool_call/grammar support (spec §4.5, "Grammar binding").
func (e *Engine) SetGrammarEngine(g tensorrt.Engine) { e.grammarEngine = g }

// SetBuiltinGrammar implements set_builtin_grammar(mode, "json").
func (e *Engine) SetBuiltinGrammar(mode, kind string) error {
	if kind != "json" {
		return aerr.New(aerr.Validation, "unsupported builtin grammar kind %q", kind)
	}
	ge, err := e.requireGrammarEngine()
	if err != nil {
		return err
	}
	return e.compileAndBind(mode, ge.CompileBuiltinJSON)
}

// SetJSONSchemaGrammar implements set_json_schema_grammar(mode, schema).
func (e *Engine) SetJSONSchemaGrammar(mode string, schema []byte) error {
	ge, err := e.requireGrammarEngine()
	if err != nil {
		return err
	}
	return e.compileAndBind(mode, func() (tensorrt.Grammar, error) { return ge.CompileJSON(schema) })
}

// SetRegexGrammar implements set_regex_grammar(mode, pattern).
func (e *Engine) SetRegexGrammar(mode, pattern string) error {
	ge, err := e.requireGrammarEngine()
	if err != nil {
		return err
	}
	return e.compileAndBind(mode, func() (tensorrt.Grammar, error) { return ge.CompileRegex(pattern) })
}

// SetEBNFGrammar implements set_ebnf_grammar(mode, grammar).
func (e *Engine) SetEBNFGrammar(mode, grammar string) error {
	ge, err := e.requireGrammarEngine()
	if err != nil {
		return err
	}
	return e.compileAndBind(mode, func() (tensorrt.Grammar, error) { return ge.CompileEBNF(grammar) })
}

// ResetGrammar implements reset_grammar(mode).
func (e *Engine) ResetGrammar(mode string) {
	e.modes.ResetGrammar(mode)
}

func (e *Engine) compileAndBind(mode string, compile func() (tensorrt.Grammar, error)) error {
	if _, ok := e.modes.Get(mode); !ok {
		return aerr.New(aerr.Validation, "unknown stream mode %q", mode)
	}
	g, err := compile()
	if err != nil {
		return aerr.Wrap(aerr.IO, err, "compile grammar")
	}
	e.modes.SetGrammar(mode, g)
	return nil
}

func (e *Engine) requireGrammarEngine() (tensorrt.Engine, error) {
	if e.grammarEngine == nil {
		return nil, aerr.New(aerr.Validation, "set_*_grammar called without a grammar engine bound via SetGrammarEngine")
	}
	return e.grammarEngine, nil
}
