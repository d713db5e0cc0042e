package tbtree

import (
	"container/list"
	"sync"
)

// BlockID identifies a tuple block: the byte offset of its header within
// the owning PagedRegion (variable store), or its fixed stride offset
// (fixed store).
type BlockID uint64

// blockCacheEntry is the shared, immutable snapshot held per cached block.
type blockCacheEntry[T any] struct {
	id    BlockID
	value T
}

// blockCache is a bounded, most-recently-used cache from BlockID to a
// deserialized snapshot. Eviction is strictly oldest-first once the bound
// is exceeded. Put blocks on contention; Get uses a try-lock and reports
// a miss rather than block, so callers fall back to reading the mapping
// directly.
type blockCache[T any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	index    map[BlockID]*list.Element
}

func newBlockCache[T any](capacity int) *blockCache[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &blockCache[T]{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[BlockID]*list.Element),
	}
}

// Put inserts or updates the cached snapshot for id, evicting the oldest
// entry if the bound is exceeded. Blocking: a writer must land its update
// rather than silently skip the cache under contention.
func (c *blockCache[T]) Put(id BlockID, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[id]; ok {
		el.Value.(*blockCacheEntry[T]).value = value
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&blockCacheEntry[T]{id: id, value: value})
	c.index[id] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*blockCacheEntry[T]).id)
	}
}

// Get returns the cached value for id and marks it most-recently-used.
// ok is false on a miss or on lock contention: a reader never blocks on
// the cache, it falls back to reading the mapping directly instead.
func (c *blockCache[T]) Get(id BlockID) (value T, ok bool) {
	if !c.mu.TryLock() {
		var zero T
		return zero, false
	}
	defer c.mu.Unlock()

	el, found := c.index[id]
	if !found {
		var zero T
		return zero, false
	}

	c.order.MoveToFront(el)
	return el.Value.(*blockCacheEntry[T]).value, true
}

// Remove drops any cached snapshot for id, used when a block relocates
// so a stale value under the old id is never returned.
func (c *blockCache[T]) Remove(id BlockID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[id]; ok {
		c.order.Remove(el)
		delete(c.index, id)
	}
}
