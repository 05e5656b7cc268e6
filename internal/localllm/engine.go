// Package localllm implements the Local LLM Decode Engine (spec C5,
// "the hardest subsystem"): it owns the model parameters, chat-template
// renderer, tokenizer and paged KV cache, and exposes a lazy `infer`
// operator that classifies decoded tokens into output_text/reasoning/
// tool_call stream modes with grammar-constrained sampling inside
// tool_call. No teacher subsystem runs a local decode loop (manifold
// only ever calls hosted completion APIs), so the prefill/decode/infer
// contracts here are built directly against spec §4.5; the surrounding
// ownership/scoping idiom (guaranteed KV forward-scope release, shared
// read-only tokenizer/template) follows the same acquire/release and
// interface-boundary shapes used throughout internal/kvcache and
// internal/tensorrt.
package localllm

import (
	"context"
	"math/rand"

	"ailoy/internal/aerr"
	"ailoy/internal/kvcache"
	"ailoy/internal/tensorrt"
	"ailoy/internal/tokenizer"
)

// Config mirrors mlc-chat-config.json's decode-relevant fields (spec
// §4.5 step 7).
type Config struct {
	Temperature      float64
	TopP             float64
	PrefillChunkSize int
}

// Engine owns one local model's decode state: parameters, tokenizer,
// template renderer, KV cache, and stream-mode registry.
type Engine struct {
	params   any
	packed   tensorrt.PackedFunctions
	kv       *kvcache.Cache
	tok      tokenizer.Tokenizer
	renderer *tokenizer.Renderer
	modes    *Registry
	config   Config
	defaults Config

	history     []int32
	currentMode string
	matcher     tensorrt.Matcher

	hiddenSize    int
	randSource    func() float64
	eosTokenID    int32
	grammarEngine tensorrt.Engine
}

// NewEngineOptions bundles Engine construction inputs (spec §4.5 steps
// 1-7; model/tokenizer-info/artifact resolution via C2/C3 is the
// caller's responsibility — this constructor assumes they're already
// resolved).
type NewEngineOptions struct {
	Params           any
	Packed           tensorrt.PackedFunctions
	KV               *kvcache.Cache
	Tokenizer        tokenizer.Tokenizer
	Renderer         *tokenizer.Renderer
	ReasoningOpen     []int32
	ReasoningClose    []int32
	ToolCallOpen      []int32
	ToolCallClose     []int32
	Config           Config
	HiddenSize       int
	EOSTokenID       int32
	UniformRandom    func() float64 // defaults to math/rand's auto-seeded Float64
}

// NewEngine constructs an Engine with the default stream-mode registry
// registered in the order output_text, reasoning, tool_call.
func NewEngine(opts NewEngineOptions) *Engine {
	rnd := opts.UniformRandom
	if rnd == nil {
		rnd = defaultUniformRandom
	}
	return &Engine{
		params:      opts.Params,
		packed:      opts.Packed,
		kv:          opts.KV,
		tok:         opts.Tokenizer,
		renderer:    opts.Renderer,
		modes:       NewDefaultRegistry(opts.ReasoningOpen, opts.ReasoningClose, opts.ToolCallOpen, opts.ToolCallClose),
		config:      opts.Config,
		defaults:    opts.Config,
		currentMode: "output_text",
		hiddenSize:  opts.HiddenSize,
		randSource:  rnd,
		eosTokenID:  opts.EOSTokenID,
	}
}

// Modes exposes the stream-mode registry for grammar-binding calls
// (set_builtin_grammar, set_json_schema_grammar, ...).
func (e *Engine) Modes() *Registry { return e.modes }

// ResetConfig restores temperature/top_p to the snapshot taken at
// construction (spec §4.5 step 7: "keep a snapshot default_config").
func (e *Engine) ResetConfig() { e.config = e.defaults }

// Prefill implements spec §4.5's prefill contract for input sequence T.
func (e *Engine) Prefill(ctx context.Context, tokens []int32) (int32, error) {
	if e.kv.TotalSequenceLength() != len(e.history) {
		if err := e.kv.Clear(); err != nil {
			return 0, err
		}
		e.history = nil
	}

	p := longestCommonPrefix(e.history, tokens)
	if p < len(e.history) {
		if err := e.kv.Popn(len(e.history) - p); err != nil {
			return 0, err
		}
	}

	newTokens := tokens[p:]
	if len(newTokens) == 0 {
		if len(e.history) == 0 {
			return 0, aerr.New(aerr.Validation, "prefill called with empty token sequence and no history")
		}
		return e.history[len(e.history)-1], nil
	}

	pageSize := 16
	if len(newTokens) >= e.kv.AvailablePages()*pageSize {
		return 0, aerr.New(aerr.ContextLengthLimit, "prefill input exceeds available KV pages")
	}

	chunkSize := e.config.PrefillChunkSize
	if chunkSize <= 0 {
		chunkSize = 512
	}
	for start := 0; start < len(newTokens); start += chunkSize {
		end := start + chunkSize
		if end > len(newTokens) {
			end = len(newTokens)
		}
		chunk := newTokens[start:end]

		embedding, err := e.packed.Embed(ctx, chunk, e.params)
		if err != nil {
			return 0, aerr.Wrap(aerr.IO, err, "embed")
		}

		scope, err := e.kv.BeginForward(len(chunk))
		if err != nil {
			return 0, err
		}
		prefillErr := e.packed.Prefill(ctx, embedding, kvBuiltinsAdapter{e.kv}, e.params)
		endErr := scope.End()
		if prefillErr != nil {
			return 0, aerr.Wrap(aerr.IO, prefillErr, "prefill")
		}
		if endErr != nil {
			return 0, endErr
		}
	}

	e.history = append([]int32(nil), tokens...)
	e.currentMode = "output_text"
	return e.history[len(e.history)-1], nil
}

func longestCommonPrefix(a, b []int32) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func defaultUniformRandom() float64 {
	// Used when the caller supplies no source of its own.
	return rand.Float64()
}

// kvBuiltinsAdapter satisfies tensorrt.PackedFunctions' kv argument for
// Prefill/Decode calls. Begin_forward/end_forward/popn are never invoked
// through it: the engine already drove those through e.kv directly
// (kvcache.Cache.BeginForward/ForwardScope.End/Popn) before calling the
// packed function, so by the time Prefill/Decode runs the forward scope
// is already open against sequence 0. The packed kernel only needs the
// handle to address that sequence's pages, not to manage its lifecycle
// a second time.
type kvBuiltinsAdapter struct{ c *kvcache.Cache }

func (kvBuiltinsAdapter) AddSequence(int) error       { return nil }
func (kvBuiltinsAdapter) RemoveSequence(int) error    { return nil }
func (kvBuiltinsAdapter) BeginForward(int, int) error { return nil }
func (kvBuiltinsAdapter) EndForward() error           { return nil }
func (kvBuiltinsAdapter) PopN(int, int) error         { return nil }
