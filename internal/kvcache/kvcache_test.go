package kvcache

import "testing"

type fakeBuiltins struct {
	addCalls    int
	removeCalls int
	beginCalls  int
	endCalls    int
	popnCalls   []int
}

func (f *fakeBuiltins) AddSequence(seqID int) error    { f.addCalls++; return nil }
func (f *fakeBuiltins) RemoveSequence(seqID int) error { f.removeCalls++; return nil }
func (f *fakeBuiltins) BeginForward(seqID, seqLen int) error {
	f.beginCalls++
	return nil
}
func (f *fakeBuiltins) EndForward() error { f.endCalls++; return nil }
func (f *fakeBuiltins) PopN(seqID, k int) error {
	f.popnCalls = append(f.popnCalls, k)
	return nil
}

func TestBeginEndForwardGrowsSequenceLength(t *testing.T) {
	fb := &fakeBuiltins{}
	c, err := New(fb, Options{TotalPages: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	scope, err := c.BeginForward(5)
	if err != nil {
		t.Fatalf("BeginForward: %v", err)
	}
	if c.TotalSequenceLength() != 5 {
		t.Fatalf("want length 5, got %d", c.TotalSequenceLength())
	}
	if err := scope.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if fb.beginCalls != 1 || fb.endCalls != 1 {
		t.Fatalf("want 1 begin/end call each, got %d/%d", fb.beginCalls, fb.endCalls)
	}
}

func TestBeginForwardRejectsReentrant(t *testing.T) {
	fb := &fakeBuiltins{}
	c, _ := New(fb, Options{TotalPages: 10})
	if _, err := c.BeginForward(1); err != nil {
		t.Fatalf("first BeginForward: %v", err)
	}
	if _, err := c.BeginForward(1); err == nil {
		t.Fatal("want error from reentrant BeginForward")
	}
}

func TestPopnShrinksLength(t *testing.T) {
	fb := &fakeBuiltins{}
	c, _ := New(fb, Options{TotalPages: 10})
	scope, _ := c.BeginForward(8)
	_ = scope.End()
	if err := c.Popn(3); err != nil {
		t.Fatalf("Popn: %v", err)
	}
	if c.TotalSequenceLength() != 5 {
		t.Fatalf("want length 5 after popn, got %d", c.TotalSequenceLength())
	}
}

func TestClearResetsSequence(t *testing.T) {
	fb := &fakeBuiltins{}
	c, _ := New(fb, Options{TotalPages: 10})
	scope, _ := c.BeginForward(4)
	_ = scope.End()
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if c.TotalSequenceLength() != 0 {
		t.Fatalf("want length 0 after clear, got %d", c.TotalSequenceLength())
	}
	if fb.removeCalls != 1 || fb.addCalls != 2 {
		t.Fatalf("want 1 remove and 2 add calls, got %d/%d", fb.removeCalls, fb.addCalls)
	}
}

func TestMaxTotalSequenceLengthPrefersSlidingWindow(t *testing.T) {
	fb := &fakeBuiltins{}
	c, _ := New(fb, Options{TotalPages: 10, SlidingWindowSize: 128, ContextWindowSize: 4096})
	if got := c.MaxTotalSequenceLength(); got != 128 {
		t.Fatalf("want sliding window 128, got %d", got)
	}
	c2, _ := New(fb, Options{TotalPages: 10, ContextWindowSize: 4096})
	if got := c2.MaxTotalSequenceLength(); got != 4096 {
		t.Fatalf("want context window 4096, got %d", got)
	}
}

func TestAvailablePagesAccountsForPageSize(t *testing.T) {
	fb := &fakeBuiltins{}
	c, _ := New(fb, Options{TotalPages: 4})
	scope, _ := c.BeginForward(16) // exactly one page
	_ = scope.End()
	if got := c.AvailablePages(); got != 3 {
		t.Fatalf("want 3 available pages, got %d", got)
	}
}
