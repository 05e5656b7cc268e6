// Package kvcache implements the Paged KV Cache (spec C4): a thin,
// invariant-enforcing wrapper around the tensor-runtime's paged
// KV-cache builtins (internal/tensorrt.KVBuiltins). Grounded on spec
// §4.4's page/forward-scope contract; ForwardScope's acquire-then-
// guaranteed-release shape is modeled after the teacher's context-scoped
// logger/span lifetime pattern in internal/observability (a value is
// acquired, used, and released via defer regardless of the exit path).
package kvcache

import (
	"ailoy/internal/aerr"
	"ailoy/internal/tensorrt"
)

const pageSize = 16

// Cache wraps a single logical sequence (sequence 0) backed by fixed-size
// pages, delegating storage to the tensor runtime's paged KV builtins.
type Cache struct {
	builtins tensorrt.KVBuiltins

	totalPages            int
	slidingWindowSize     int
	contextWindowSize     int
	totalSequenceLength   int
	forwardOpen           bool
}

// Options configures cache construction.
type Options struct {
	TotalPages        int
	SlidingWindowSize int // 0 disables sliding-window mode
	ContextWindowSize int
}

// New constructs a Cache and adds its sole sequence (id 0).
func New(builtins tensorrt.KVBuiltins, opts Options) (*Cache, error) {
	c := &Cache{
		builtins:          builtins,
		totalPages:        opts.TotalPages,
		slidingWindowSize: opts.SlidingWindowSize,
		contextWindowSize: opts.ContextWindowSize,
	}
	if err := builtins.AddSequence(0); err != nil {
		return nil, aerr.Wrap(aerr.IO, err, "add_sequence")
	}
	return c, nil
}

// MaxTotalSequenceLength implements spec §4.4: sliding_window_size if
// positive, else context_window_size.
func (c *Cache) MaxTotalSequenceLength() int {
	if c.slidingWindowSize > 0 {
		return c.slidingWindowSize
	}
	return c.contextWindowSize
}

// TotalSequenceLength returns L, the logical length of sequence 0.
func (c *Cache) TotalSequenceLength() int { return c.totalSequenceLength }

// AvailablePages returns the number of unallocated pages.
func (c *Cache) AvailablePages() int {
	used := (c.totalSequenceLength + pageSize - 1) / pageSize
	avail := c.totalPages - used
	if avail < 0 {
		return 0
	}
	return avail
}

// Clear removes all sequences and re-adds a fresh sequence 0.
func (c *Cache) Clear() error {
	if err := c.builtins.RemoveSequence(0); err != nil {
		return aerr.Wrap(aerr.IO, err, "remove_sequence")
	}
	if err := c.builtins.AddSequence(0); err != nil {
		return aerr.Wrap(aerr.IO, err, "add_sequence")
	}
	c.totalSequenceLength = 0
	return nil
}

// ForwardScope represents one begin_forward/end_forward pairing, guaranteed
// to release even when the caller's work fails partway through.
type ForwardScope struct {
	cache *Cache
	ended bool
}

// BeginForward acquires a forward scope over seqLen new tokens. Callers
// MUST defer scope.End() immediately upon success.
func (c *Cache) BeginForward(seqLen int) (*ForwardScope, error) {
	if c.forwardOpen {
		return nil, aerr.New(aerr.Validation, "begin_forward called while a forward scope is already open")
	}
	if err := c.builtins.BeginForward(0, seqLen); err != nil {
		return nil, aerr.Wrap(aerr.IO, err, "begin_forward")
	}
	c.forwardOpen = true
	c.totalSequenceLength += seqLen
	return &ForwardScope{cache: c}, nil
}

// End releases the forward scope. Safe to call multiple times.
func (s *ForwardScope) End() error {
	if s.ended {
		return nil
	}
	s.ended = true
	s.cache.forwardOpen = false
	if err := s.cache.builtins.EndForward(); err != nil {
		return aerr.Wrap(aerr.IO, err, "end_forward")
	}
	return nil
}

// Popn implements spec §4.4's popn(k): L := L-k.
func (c *Cache) Popn(k int) error {
	if k <= 0 {
		return nil
	}
	if err := c.builtins.PopN(0, k); err != nil {
		return aerr.Wrap(aerr.IO, err, "popn")
	}
	c.totalSequenceLength -= k
	if c.totalSequenceLength < 0 {
		c.totalSequenceLength = 0
	}
	return nil
}
