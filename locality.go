package tbtree

import "sync/atomic"

// localityHint remembers the leaf a B-tree last inserted into or last
// read from, so the next Get or Insert can try it directly before
// falling back to a full descent.
// Go has no supported thread-local storage, so this is a single atomic
// 64-bit cell per index rather than true per-goroutine state.
type localityHint struct {
	node atomic.Uint64
	set  atomic.Bool
}

func (h *localityHint) record(id NodeID) {
	h.node.Store(uint64(id))
	h.set.Store(true)
}

func (h *localityHint) get() (NodeID, bool) {
	if !h.set.Load() {
		return 0, false
	}
	return NodeID(h.node.Load()), true
}

func (h *localityHint) clear() {
	h.set.Store(false)
}
