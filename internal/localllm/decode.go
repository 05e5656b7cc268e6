package localllm

import (
	"context"

	"github.com/bits-and-blooms/bitset"

	"ailoy/internal/aerr"
)

// decodeResult carries one decode step's outcome plus the stream-mode
// transition that followed it.
type decodeResult struct {
	nextToken    int32
	modeChanged  bool
	enteredMode  string
	exitedMode   string
}

// decodeStep implements spec §4.5's decode step contract.
func (e *Engine) decodeStep(ctx context.Context, lastToken int32) (decodeResult, error) {
	if e.kv.AvailablePages() < 1 {
		return decodeResult{}, aerr.New(aerr.ContextLengthLimit, "no available KV pages for decode")
	}

	embedding, err := e.packed.Embed(ctx, []int32{lastToken}, e.params)
	if err != nil {
		return decodeResult{}, aerr.Wrap(aerr.IO, err, "embed")
	}

	scope, err := e.kv.BeginForward(1)
	if err != nil {
		return decodeResult{}, err
	}
	logits, decodeErr := e.packed.Decode(ctx, embedding, kvBuiltinsAdapter{e.kv}, e.params)
	endErr := scope.End()
	if decodeErr != nil {
		return decodeResult{}, aerr.Wrap(aerr.IO, decodeErr, "decode")
	}
	if endErr != nil {
		return decodeResult{}, endErr
	}

	var mask []uint32
	if e.matcher != nil {
		// vocab size comes from the tokenizer; the mask is sized
		// ceil(vocab/32) uint32 words per spec §4.5 step 3.
		vocab := e.tok.VocabSize()
		mask = make([]uint32, (vocab+31)/32)
		if err := e.matcher.FillBitmask(mask); err != nil {
			return decodeResult{}, aerr.Wrap(aerr.IO, err, "fill_bitmask")
		}
		if err := e.packed.ApplyBitmaskInplace(ctx, logits, []int{0}, mask); err != nil {
			return decodeResult{}, aerr.Wrap(aerr.IO, err, "apply_bitmask_inplace")
		}
	}

	nextToken, err := e.packed.SampleTopPFromLogits(ctx, logits, e.config.Temperature, e.config.TopP, e.randSource())
	if err != nil {
		return decodeResult{}, aerr.Wrap(aerr.IO, err, "sample_top_p_from_logits")
	}
	if mask != nil && !maskAllows(mask, nextToken) {
		return decodeResult{}, aerr.New(aerr.Validation, "grammar safety violated: sampled token %d is outside the allowed set", nextToken)
	}
	e.history = append(e.history, nextToken)

	if e.matcher != nil {
		if err := e.matcher.Accept(nextToken); err != nil {
			return decodeResult{}, aerr.Wrap(aerr.IO, err, "matcher accept")
		}
		if e.matcher.Terminated() {
			e.matcher = nil
		}
	}

	res := decodeResult{nextToken: nextToken}
	e.transitionStreamMode(&res)
	return res, nil
}

// transitionStreamMode implements spec §4.5's stream-mode state machine,
// evaluated on the token-suffix of history after each decode step.
func (e *Engine) transitionStreamMode(res *decodeResult) {
	if e.currentMode == "output_text" {
		for _, mode := range e.modes.NonDefault() {
			if hasSuffix(e.history, mode.OpenIndicator) {
				e.currentMode = mode.Name
				res.modeChanged = true
				res.enteredMode = mode.Name
				if mode.Grammar != nil {
					if m, err := mode.Grammar.NewMatcher(); err == nil {
						e.matcher = m
					}
				}
				return
			}
		}
		return
	}

	mode, ok := e.modes.Get(e.currentMode)
	if !ok {
		return
	}
	if hasSuffix(e.history, mode.CloseIndicator) {
		e.matcher = nil
		res.modeChanged = true
		res.exitedMode = e.currentMode
		e.currentMode = "output_text"
	}
}

// maskAllows reports whether tokenID's bit is set in a vocabulary
// bitmask of ceil(vocab/32) uint32 words (spec §4.5 step 3), packing
// pairs of words into bitset.BitSet's native uint64 words.
func maskAllows(mask []uint32, tokenID int32) bool {
	words := make([]uint64, (len(mask)+1)/2)
	for i, w := range mask {
		words[i/2] |= uint64(w) << uint((i%2)*32)
	}
	return bitset.From(words).Test(uint(tokenID))
}
