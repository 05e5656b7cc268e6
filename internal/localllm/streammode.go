package localllm

import "ailoy/internal/tensorrt"

// StreamMode is one entry of the stream-mode registry (spec §3, §4.5).
type StreamMode struct {
	Name           string
	OpenIndicator  []int32
	CloseIndicator []int32
	Grammar        tensorrt.Grammar // nil if ungrammared
}

// Registry holds stream modes in registration order; iteration order is
// the tie-break for overlapping open_indicator prefixes (spec §4.5,
// Open Question #2 — decided: explicit ordered slice, not a map).
type Registry struct {
	modes []StreamMode
}

// NewDefaultRegistry registers output_text, reasoning, tool_call in that
// order, per spec §4.5 step 6.
func NewDefaultRegistry(reasoningOpen, reasoningClose, toolCallOpen, toolCallClose []int32) *Registry {
	r := &Registry{}
	r.modes = append(r.modes, StreamMode{Name: "output_text"})
	r.modes = append(r.modes, StreamMode{Name: "reasoning", OpenIndicator: reasoningOpen, CloseIndicator: reasoningClose})
	r.modes = append(r.modes, StreamMode{Name: "tool_call", OpenIndicator: toolCallOpen, CloseIndicator: toolCallClose})
	return r
}

// Add registers a user-defined mode after the defaults, preserving
// registration order.
func (r *Registry) Add(mode StreamMode) {
	r.modes = append(r.modes, mode)
}

// NonDefault returns every mode after output_text, in registration order.
func (r *Registry) NonDefault() []StreamMode {
	if len(r.modes) == 0 {
		return nil
	}
	return r.modes[1:]
}

// Get returns the mode with the given name.
func (r *Registry) Get(name string) (StreamMode, bool) {
	for _, m := range r.modes {
		if m.Name == name {
			return m, true
		}
	}
	return StreamMode{}, false
}

// SetGrammar attaches or replaces the grammar bound to mode.
func (r *Registry) SetGrammar(name string, g tensorrt.Grammar) {
	for i := range r.modes {
		if r.modes[i].Name == name {
			r.modes[i].Grammar = g
			return
		}
	}
}

// ResetGrammar clears the grammar bound to mode.
func (r *Registry) ResetGrammar(name string) {
	r.SetGrammar(name, nil)
}

// hasSuffix reports whether history ends with indicator (non-empty).
func hasSuffix(history []int32, indicator []int32) bool {
	if len(indicator) == 0 || len(history) < len(indicator) {
		return false
	}
	tail := history[len(history)-len(indicator):]
	for i := range indicator {
		if tail[i] != indicator[i] {
			return false
		}
	}
	return true
}
