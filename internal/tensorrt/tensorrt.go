// Package tensorrt defines the black-box interfaces spec §1 assumes are
// available: the tensor runtime (matrix kernels, device buffers, packed
// functions) and the grammar engine (grammar compile/match/bitmask). The
// spec explicitly scopes these out as "assumed available as a black-box
// offering" — this package is the seam, with no concrete implementation
// shipped, matching the teacher's own practice of defining thin Go
// interfaces at a vendor boundary (internal/llm.Provider is the same
// shape: an interface the concrete client packages satisfy, never
// implemented inline in the interface's own package).
package tensorrt

import "context"

// Tensor is an opaque device-resident buffer handle.
type Tensor interface {
	Shape() []int
}

// KVBuiltins is the paged-KV-cache builtin surface the tensor runtime
// exposes; internal/kvcache.Cache wraps exactly this surface.
type KVBuiltins interface {
	AddSequence(seqID int) error
	RemoveSequence(seqID int) error
	BeginForward(seqID, seqLen int) error
	EndForward() error
	PopN(seqID, k int) error
}

// PackedFunctions is the set of compiled-model entry points named in spec
// §4.5 step 2.
type PackedFunctions interface {
	Embed(ctx context.Context, tokenIDs []int32, params any) (Tensor, error)
	Prefill(ctx context.Context, embedding Tensor, kv KVBuiltins, params any) error
	Decode(ctx context.Context, embedding Tensor, kv KVBuiltins, params any) (Tensor, error)
	ApplyBitmaskInplace(ctx context.Context, logits Tensor, seqIDs []int, bitmask []uint32) error
	SampleTopPFromLogits(ctx context.Context, logits Tensor, temperature, topP, uniformRandom float64) (int32, error)
}

// ModelLibrary is a loaded compiled model library exposing its packed
// functions and parameter registration.
type ModelLibrary interface {
	PackedFunctions() PackedFunctions
	LoadParams(ctx context.Context, shardPaths []string) (any, error)
}

// Matcher is an instantiated grammar matcher bound to one stream-mode
// activation; a fresh Matcher is created on every transition into a
// grammar-bound mode (spec §4.5 "Grammar binding").
type Matcher interface {
	// FillBitmask writes the allow/deny bits for the next token into mask,
	// sized ceil(vocab/32) uint32 words.
	FillBitmask(mask []uint32) error
	// Accept advances the matcher state with a sampled token.
	Accept(tokenID int32) error
	// Terminated reports whether the matcher has reached an accepting state.
	Terminated() bool
}

// Grammar is a compiled grammar, ready to produce fresh Matchers.
type Grammar interface {
	NewMatcher() (Matcher, error)
}

// Engine compiles grammars against tokenizer vocabulary info.
type Engine interface {
	CompileJSON(schema []byte) (Grammar, error)
	CompileRegex(pattern string) (Grammar, error)
	CompileEBNF(grammar string) (Grammar, error)
	CompileBuiltinJSON() (Grammar, error)
}
