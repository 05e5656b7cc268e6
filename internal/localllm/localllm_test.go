package localllm

import (
	"context"
	"testing"

	"ailoy/internal/kvcache"
	"ailoy/internal/tensorrt"
	"ailoy/internal/tokenizer"
)

type fakeTensor struct{ shape []int }

func (f fakeTensor) Shape() []int { return f.shape }

type fakeKV struct {
	addCalls  int
	popnCalls []int
}

func (f *fakeKV) AddSequence(int) error           { f.addCalls++; return nil }
func (f *fakeKV) RemoveSequence(int) error        { return nil }
func (f *fakeKV) BeginForward(int, int) error     { return nil }
func (f *fakeKV) EndForward() error               { return nil }
func (f *fakeKV) PopN(_ int, k int) error         { f.popnCalls = append(f.popnCalls, k); return nil }

type fakePacked struct {
	tokensToSample []int32
	sampleIdx      int
}

func (f *fakePacked) Embed(ctx context.Context, ids []int32, params any) (tensorrt.Tensor, error) {
	return fakeTensor{shape: []int{1, len(ids), 8}}, nil
}
func (f *fakePacked) Prefill(ctx context.Context, embedding tensorrt.Tensor, kv tensorrt.KVBuiltins, params any) error {
	return nil
}
func (f *fakePacked) Decode(ctx context.Context, embedding tensorrt.Tensor, kv tensorrt.KVBuiltins, params any) (tensorrt.Tensor, error) {
	return fakeTensor{shape: []int{1, 1, 8}}, nil
}
func (f *fakePacked) ApplyBitmaskInplace(ctx context.Context, logits tensorrt.Tensor, seqIDs []int, bitmask []uint32) error {
	return nil
}
func (f *fakePacked) SampleTopPFromLogits(ctx context.Context, logits tensorrt.Tensor, temperature, topP, rnd float64) (int32, error) {
	tok := f.tokensToSample[f.sampleIdx]
	f.sampleIdx++
	return tok, nil
}

// fakeTokenizer maps token ids 1:1 to single ASCII runes via a lookup, and
// treats id 0 as EOS (never produced as text).
type fakeTokenizer struct {
	idToText map[int32]string
}

func (t *fakeTokenizer) Encode(text string) ([]int32, error) {
	ids := make([]int32, len(text))
	for i, r := range text {
		ids[i] = int32(r)
	}
	return ids, nil
}
func (t *fakeTokenizer) Decode(ids []int32, skipSpecial bool) (string, error) {
	var s string
	for _, id := range ids {
		if txt, ok := t.idToText[id]; ok {
			s += txt
			continue
		}
		s += string(rune(id))
	}
	return s, nil
}
func (t *fakeTokenizer) VocabSize() int                      { return 256 }
func (t *fakeTokenizer) IDToPiece(id int32) (string, error)  { return string(rune(id)), nil }

func newTestEngine(t *testing.T, packed *fakePacked, tok tokenizer.Tokenizer, eos int32) *Engine {
	t.Helper()
	fk := &fakeKV{}
	kv, err := kvcache.New(fk, kvcache.Options{TotalPages: 1000, ContextWindowSize: 4096})
	if err != nil {
		t.Fatalf("kvcache.New: %v", err)
	}
	renderer, err := tokenizer.NewRenderer(tokenizer.TemplateConfig{}, "{{range .Messages}}{{.Content}} {{end}}")
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	return NewEngine(NewEngineOptions{
		Packed:    packed,
		KV:        kv,
		Tokenizer: tok,
		Renderer:  renderer,
		Config:    Config{Temperature: 0, TopP: 1, PrefillChunkSize: 512},
		EOSTokenID: eos,
	})
}

func TestPrefillSetsHistoryAndKVLength(t *testing.T) {
	packed := &fakePacked{}
	tok := &fakeTokenizer{}
	e := newTestEngine(t, packed, tok, 0)

	last, err := e.Prefill(context.Background(), []int32{1, 2, 3})
	if err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	if last != 3 {
		t.Fatalf("want last token 3, got %d", last)
	}
	if e.kv.TotalSequenceLength() != 3 {
		t.Fatalf("want KV length 3, got %d", e.kv.TotalSequenceLength())
	}
	if len(e.history) != 3 {
		t.Fatalf("want history length 3, got %d", len(e.history))
	}
}

func TestPrefillReusesLongestCommonPrefix(t *testing.T) {
	packed := &fakePacked{}
	tok := &fakeTokenizer{}
	e := newTestEngine(t, packed, tok, 0)

	if _, err := e.Prefill(context.Background(), []int32{1, 2, 3, 4}); err != nil {
		t.Fatalf("first Prefill: %v", err)
	}
	if _, err := e.Prefill(context.Background(), []int32{1, 2, 5, 6}); err != nil {
		t.Fatalf("second Prefill: %v", err)
	}
	if e.kv.TotalSequenceLength() != 4 {
		t.Fatalf("want final KV length 4, got %d", e.kv.TotalSequenceLength())
	}
}

func TestInferEmitsOutputTextThenStop(t *testing.T) {
	// tokens: 'h'=104, 'i'=105, then EOS=0
	eos := int32(0)
	packed := &fakePacked{tokensToSample: []int32{104, 105, eos}}
	tok := &fakeTokenizer{idToText: map[int32]string{104: "h", 105: "i"}}
	e := newTestEngine(t, packed, tok, eos)

	ch, err := e.Infer(context.Background(), InferRequest{
		Messages: []tokenizer.Message{{Role: "user", Content: []tokenizer.ContentPart{{Type: "text", Text: "hi"}}}},
	})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}

	var text string
	var finish string
	for f := range ch {
		for _, c := range f.Message.Content {
			text += c.Text
		}
		if f.FinishReason != "" {
			finish = f.FinishReason
		}
	}
	if finish != "stop" {
		t.Fatalf("want finish_reason stop, got %q", finish)
	}
	if text != "hi" {
		t.Fatalf("want emitted text \"hi\", got %q", text)
	}
}

func TestInferParsesToolCallJSON(t *testing.T) {
	// Registry: tool_call open/close indicators set to specific tokens.
	eos := int32(0)
	openTok := int32(1000)
	closeTok := int32(1001)
	jsonTokens := []int32{'{', '"', 'n', 'a', 'm', 'e', '"', ':', '"', 'a', 'd', 'd', '"', ',', '"', 'a', 'r', 'g', 'u', 'm', 'e', 'n', 't', 's', '"', ':', '{', '}', '}'}
	seq := append([]int32{openTok}, jsonTokens...)
	seq = append(seq, closeTok, eos)

	packed := &fakePacked{tokensToSample: seq}
	tok := &fakeTokenizer{}
	e := newTestEngine(t, packed, tok, eos)
	// Rebuild registry with explicit open/close indicators for this test.
	e.modes = NewDefaultRegistry(nil, nil, []int32{openTok}, []int32{closeTok})

	ch, err := e.Infer(context.Background(), InferRequest{
		Messages: []tokenizer.Message{{Role: "user", Content: []tokenizer.ContentPart{{Type: "text", Text: "x"}}}},
	})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}

	var gotCall *ToolCallFragment
	var finish string
	for f := range ch {
		if len(f.Message.ToolCalls) > 0 {
			c := f.Message.ToolCalls[0]
			gotCall = &c
		}
		if f.FinishReason != "" {
			finish = f.FinishReason
		}
	}
	if gotCall == nil {
		t.Fatal("want a tool call fragment emitted")
	}
	if gotCall.Name != "add" {
		t.Fatalf("want tool call name \"add\", got %q", gotCall.Name)
	}
	if finish != "tool_calls" {
		t.Fatalf("want finish_reason tool_calls, got %q", finish)
	}
}

func TestInferFailsOnInvalidToolCallJSON(t *testing.T) {
	eos := int32(0)
	openTok := int32(1000)
	closeTok := int32(1001)
	badJSON := []int32{'n', 'o', 't', '-', 'j', 's', 'o', 'n'}
	seq := append([]int32{openTok}, badJSON...)
	seq = append(seq, closeTok, eos)

	packed := &fakePacked{tokensToSample: seq}
	tok := &fakeTokenizer{}
	e := newTestEngine(t, packed, tok, eos)
	e.modes = NewDefaultRegistry(nil, nil, []int32{openTok}, []int32{closeTok})

	ch, err := e.Infer(context.Background(), InferRequest{
		Messages: []tokenizer.Message{{Role: "user", Content: []tokenizer.ContentPart{{Type: "text", Text: "x"}}}},
	})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}

	var finish string
	for f := range ch {
		if f.FinishReason != "" {
			finish = f.FinishReason
		}
	}
	if finish != "invalid_tool_call" {
		t.Fatalf("want finish_reason invalid_tool_call, got %q", finish)
	}
}

type fakeMatcher struct{}

func (fakeMatcher) FillBitmask([]uint32) error { return nil }
func (fakeMatcher) Accept(int32) error         { return nil }
func (fakeMatcher) Terminated() bool           { return false }

type fakeGrammar struct{}

func (fakeGrammar) NewMatcher() (tensorrt.Matcher, error) { return fakeMatcher{}, nil }

type fakeGrammarEngine struct{}

func (fakeGrammarEngine) CompileJSON([]byte) (tensorrt.Grammar, error)    { return fakeGrammar{}, nil }
func (fakeGrammarEngine) CompileRegex(string) (tensorrt.Grammar, error)   { return fakeGrammar{}, nil }
func (fakeGrammarEngine) CompileEBNF(string) (tensorrt.Grammar, error)    { return fakeGrammar{}, nil }
func (fakeGrammarEngine) CompileBuiltinJSON() (tensorrt.Grammar, error)   { return fakeGrammar{}, nil }

func TestSetBuiltinGrammarBindsAndResetGrammarClears(t *testing.T) {
	packed := &fakePacked{}
	tok := &fakeTokenizer{}
	e := newTestEngine(t, packed, tok, 0)
	e.SetGrammarEngine(fakeGrammarEngine{})

	if err := e.SetBuiltinGrammar("tool_call", "json"); err != nil {
		t.Fatalf("SetBuiltinGrammar: %v", err)
	}
	mode, ok := e.modes.Get("tool_call")
	if !ok || mode.Grammar == nil {
		t.Fatal("want tool_call mode to carry a bound grammar")
	}

	e.ResetGrammar("tool_call")
	mode, _ = e.modes.Get("tool_call")
	if mode.Grammar != nil {
		t.Fatal("want grammar cleared after ResetGrammar")
	}
}

func TestSetBuiltinGrammarRejectsUnknownMode(t *testing.T) {
	packed := &fakePacked{}
	tok := &fakeTokenizer{}
	e := newTestEngine(t, packed, tok, 0)
	e.SetGrammarEngine(fakeGrammarEngine{})

	if err := e.SetBuiltinGrammar("not_a_mode", "json"); err == nil {
		t.Fatal("want error for unknown stream mode")
	}
}

func TestSetBuiltinGrammarRequiresGrammarEngine(t *testing.T) {
	packed := &fakePacked{}
	tok := &fakeTokenizer{}
	e := newTestEngine(t, packed, tok, 0)

	if err := e.SetBuiltinGrammar("tool_call", "json"); err == nil {
		t.Fatal("want error when no grammar engine is bound")
	}
}

func TestMaskAllowsReadsBitAcrossWordBoundary(t *testing.T) {
	// 64 tokens, two uint32 words; token 40 lives in the second word.
	mask := make([]uint32, 2)
	mask[1] |= 1 << uint(40-32)

	if maskAllows(mask, 0) {
		t.Fatal("want token 0 disallowed")
	}
	if !maskAllows(mask, 40) {
		t.Fatal("want token 40 allowed")
	}
}
