package index

import "sync/atomic"

// Handle publishes the current index generation to readers. A rebuild
// constructs a new Index and swaps it in; readers holding the old one keep
// using it undisturbed.
type Handle struct {
	current atomic.Pointer[Index]
}

// NewHandle returns a handle publishing idx, which may be nil.
func NewHandle(idx *Index) *Handle {
	h := &Handle{}
	if idx != nil {
		h.current.Store(idx)
	}
	return h
}

// Publish makes idx the current generation and returns the previous one.
func (h *Handle) Publish(idx *Index) *Index {
	return h.current.Swap(idx)
}

// Current returns the published index, or nil before the first Publish.
func (h *Handle) Current() *Index {
	return h.current.Load()
}
