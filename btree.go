package tbtree

import "sync/atomic"

// BTree is a root-rooted ordered map: search, insert, split, and range
// iteration layered over a NodePageStore, with key and value tuple
// stores handling out-of-line storage.
type BTree[K any, V any] struct {
	cfg Config
	cmp CompareFunc[K]

	nodes  *NodePageStore[K]
	values tupleStore[V]

	root   atomic.Uint64
	length atomic.Int64

	hint localityHint
}

func newNodesRegion(capacityHint int) (*PagedRegion, error) {
	bytes := capacityHint * PageSize
	if bytes < PageSize {
		bytes = PageSize
	}
	return NewPagedRegion(bytes)
}

func newTupleRegion(capacityHint int) (*PagedRegion, error) {
	bytes := capacityHint
	if bytes < PageSize {
		bytes = PageSize
	}
	return NewPagedRegion(bytes)
}

// buildTupleStore routes to the FixedTupleStore or VariableTupleStore
// depending on sizing, preferring a FixedWidth codec's own declared
// width over the sizing hint when both are present.
func buildTupleStore[T any](sizing Sizing, cacheSize int, region *PagedRegion, codec Codec[T]) (tupleStore[T], error) {
	switch sizing.Kind {
	case SizingFixed:
		width := sizing.N
		if fw, ok := codec.(FixedWidth); ok {
			width = fw.Width()
		}
		return NewFixedTupleStore[T](region, codec, width), nil
	default:
		return NewVariableTupleStore[T](region, codec, cacheSize), nil
	}
}

// NewWithInlineKeys builds an index in fixed-key mode: keyCodec's values
// are stored directly in node key slots.
func NewWithInlineKeys[K any, V any](cfg Config, capacityHint int, cmp CompareFunc[K], keyCodec InlineCodec[K], valueCodec Codec[V]) (*BTree[K, V], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	nodesRegion, err := newNodesRegion(capacityHint)
	if err != nil {
		return nil, err
	}

	valuesRegion, err := newTupleRegion(capacityHint)
	if err != nil {
		return nil, err
	}

	values, err := buildTupleStore[V](cfg.ValueSizing, cfg.BlockCacheSize, valuesRegion, valueCodec)
	if err != nil {
		return nil, err
	}

	keys := NewInlineKeyStore[K](keyCodec)
	nodes := NewNodePageStore[K](nodesRegion, keys)

	return newBTree[K, V](cfg, cmp, nodes, values)
}

// NewWithIndirectKeys builds an index in variable-key mode: keyCodec's
// values are serialized out-of-line into their own tuple store, and node
// key slots hold only the resulting block ID.
func NewWithIndirectKeys[K any, V any](cfg Config, capacityHint int, cmp CompareFunc[K], keyCodec Codec[K], valueCodec Codec[V]) (*BTree[K, V], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	nodesRegion, err := newNodesRegion(capacityHint)
	if err != nil {
		return nil, err
	}

	keysRegion, err := newTupleRegion(capacityHint)
	if err != nil {
		return nil, err
	}

	keyTuples, err := buildTupleStore[K](cfg.KeySizing, cfg.BlockCacheSize, keysRegion, keyCodec)
	if err != nil {
		return nil, err
	}

	valuesRegion, err := newTupleRegion(capacityHint)
	if err != nil {
		return nil, err
	}

	values, err := buildTupleStore[V](cfg.ValueSizing, cfg.BlockCacheSize, valuesRegion, valueCodec)
	if err != nil {
		return nil, err
	}

	keys := NewIndirectKeyStore[K](keyTuples)
	nodes := NewNodePageStore[K](nodesRegion, keys)

	return newBTree[K, V](cfg, cmp, nodes, values)
}

func newBTree[K any, V any](cfg Config, cmp CompareFunc[K], nodes *NodePageStore[K], values tupleStore[V]) (*BTree[K, V], error) {
	t := &BTree[K, V]{cfg: cfg, cmp: cmp, nodes: nodes, values: values}

	root, err := nodes.AllocateNewNode()
	if err != nil {
		return nil, err
	}
	t.root.Store(uint64(root))

	return t, nil
}

// Len returns the exact number of entries in the index.
func (t *BTree[K, V]) Len() int { return int(t.length.Load()) }

// IsEmpty reports whether the index holds no entries.
func (t *BTree[K, V]) IsEmpty() bool { return t.Len() == 0 }

// keyWithinNodeBounds reports whether k lies within node's own
// [keys[0], keys[n-1]] range, the condition the locality hint and the
// last-insert fast path both use to confirm node is the correct leaf
// without a root descent.
func (t *BTree[K, V]) keyWithinNodeBounds(node NodeID, k K) (bool, error) {
	n, err := t.nodes.NumKeys(node)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	lo, err := t.nodes.GetKey(node, 0)
	if err != nil {
		return false, err
	}
	hi, err := t.nodes.GetKey(node, n-1)
	if err != nil {
		return false, err
	}

	return t.cmp(k, lo) >= 0 && t.cmp(k, hi) <= 0, nil
}

// Get returns the value stored for k, consulting the locality hint
// before falling through to a root descent.
func (t *BTree[K, V]) Get(k K) (V, bool, error) {
	if hinted, ok := t.hint.get(); ok {
		leaf, err := t.nodes.IsLeaf(hinted)
		if err == nil && leaf {
			within, boundsErr := t.keyWithinNodeBounds(hinted, k)
			if boundsErr == nil && within {
				return t.getAtLeaf(hinted, k)
			}
		}
	}

	return t.getFromRoot(k)
}

func (t *BTree[K, V]) getAtLeaf(node NodeID, k K) (V, bool, error) {
	var zero V

	found, idx, err := t.nodes.BinarySearch(node, k, t.cmp)
	if err != nil {
		return zero, false, err
	}
	if !found {
		t.hint.record(node)
		return zero, false, nil
	}

	payload, err := t.nodes.GetPayload(node, idx)
	if err != nil {
		return zero, false, err
	}
	value, err := t.values.Get(payload)
	if err != nil {
		return zero, false, err
	}

	t.hint.record(node)
	return value, true, nil
}

func (t *BTree[K, V]) getFromRoot(k K) (V, bool, error) {
	var zero V

	node := NodeID(t.root.Load())
	for {
		found, idx, err := t.nodes.BinarySearch(node, k, t.cmp)
		if err != nil {
			return zero, false, err
		}

		if found {
			payload, payloadErr := t.nodes.GetPayload(node, idx)
			if payloadErr != nil {
				return zero, false, payloadErr
			}
			value, valueErr := t.values.Get(payload)
			if valueErr != nil {
				return zero, false, valueErr
			}

			if leaf, leafErr := t.nodes.IsLeaf(node); leafErr == nil && leaf {
				t.hint.record(node)
			}
			return value, true, nil
		}

		leaf, err := t.nodes.IsLeaf(node)
		if err != nil {
			return zero, false, err
		}
		if leaf {
			t.hint.record(node)
			return zero, false, nil
		}

		child, err := t.nodes.GetChild(node, idx)
		if err != nil {
			return zero, false, err
		}
		node = child
	}
}

// ContainsKey reports whether k is present, without touching the value
// tuple store.
func (t *BTree[K, V]) ContainsKey(k K) (bool, error) {
	node := NodeID(t.root.Load())
	for {
		found, idx, err := t.nodes.BinarySearch(node, k, t.cmp)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}

		leaf, err := t.nodes.IsLeaf(node)
		if err != nil {
			return false, err
		}
		if leaf {
			return false, nil
		}

		child, err := t.nodes.GetChild(node, idx)
		if err != nil {
			return false, err
		}
		node = child
	}
}

// fastPathEligible reports whether node is a non-full leaf whose own key
// range brackets k, the precondition for the last-insert fast path: the
// key must land in that leaf if a descent from the root would visit it.
func (t *BTree[K, V]) fastPathEligible(node NodeID, k K) (bool, error) {
	leaf, err := t.nodes.IsLeaf(node)
	if err != nil || !leaf {
		return false, err
	}

	within, err := t.keyWithinNodeBounds(node, k)
	if err != nil || !within {
		return false, err
	}

	n, err := t.nodes.NumKeys(node)
	if err != nil {
		return false, err
	}

	return n < 2*t.cfg.Order-1, nil
}

// Insert performs a preemptive top-down split insert: the last-insert
// fast path is tried first, then the root is split if full, then
// insertNonfull descends and splits any full child it would otherwise
// recurse into.
func (t *BTree[K, V]) Insert(k K, v V) (V, bool, error) {
	var zero V

	if hinted, ok := t.hint.get(); ok {
		if eligible, err := t.fastPathEligible(hinted, k); err == nil && eligible {
			return t.insertNonfull(hinted, k, v)
		}
	}

	order := t.cfg.Order
	root := NodeID(t.root.Load())

	rootKeys, err := t.nodes.NumKeys(root)
	if err != nil {
		return zero, false, err
	}

	if rootKeys == 2*order-1 {
		newRoot, splitErr := t.nodes.SplitRoot(root, order)
		if splitErr != nil {
			return zero, false, splitErr
		}
		t.root.Store(uint64(newRoot))
		root = newRoot
	}

	return t.insertNonfull(root, k, v)
}

func (t *BTree[K, V]) insertNonfull(node NodeID, k K, v V) (V, bool, error) {
	var zero V

	found, idx, err := t.nodes.BinarySearch(node, k, t.cmp)
	if err != nil {
		return zero, false, err
	}

	if found {
		return t.overwriteAt(node, idx, v)
	}

	leaf, err := t.nodes.IsLeaf(node)
	if err != nil {
		return zero, false, err
	}

	if leaf {
		return t.insertIntoLeaf(node, idx, k, v)
	}

	child, err := t.nodes.GetChild(node, idx)
	if err != nil {
		return zero, false, err
	}

	childKeys, err := t.nodes.NumKeys(child)
	if err != nil {
		return zero, false, err
	}

	if childKeys != 2*t.cfg.Order-1 {
		return t.insertNonfull(child, k, v)
	}

	if _, _, splitErr := t.nodes.SplitChild(node, idx, t.cfg.Order); splitErr != nil {
		return zero, false, splitErr
	}

	promoted, err := t.nodes.GetKey(node, idx)
	if err != nil {
		return zero, false, err
	}

	switch c := t.cmp(k, promoted); {
	case c == 0:
		return t.overwriteAt(node, idx, v)
	case c > 0:
		right, getErr := t.nodes.GetChild(node, idx+1)
		if getErr != nil {
			return zero, false, getErr
		}
		return t.insertNonfull(right, k, v)
	default:
		left, getErr := t.nodes.GetChild(node, idx)
		if getErr != nil {
			return zero, false, getErr
		}
		return t.insertNonfull(left, k, v)
	}
}

func (t *BTree[K, V]) overwriteAt(node NodeID, idx int, v V) (V, bool, error) {
	var zero V

	oldPayload, err := t.nodes.GetPayload(node, idx)
	if err != nil {
		return zero, false, err
	}

	oldValue, err := t.values.GetOwned(oldPayload)
	if err != nil {
		return zero, false, err
	}

	newPayload, err := t.values.Put(oldPayload, v)
	if err != nil {
		return zero, false, err
	}

	if newPayload != oldPayload {
		if setErr := t.nodes.SetPayload(node, idx, newPayload); setErr != nil {
			return zero, false, setErr
		}
	}

	return oldValue, true, nil
}

func (t *BTree[K, V]) insertIntoLeaf(node NodeID, idx int, k K, v V) (V, bool, error) {
	var zero V

	payloadID, err := t.values.AllocateBlock(t.values.SerializedSize(v))
	if err != nil {
		return zero, false, err
	}
	if _, err := t.values.Put(payloadID, v); err != nil {
		return zero, false, err
	}

	n, err := t.nodes.NumKeys(node)
	if err != nil {
		return zero, false, err
	}

	for j := n; j > idx; j-- {
		shiftKey, getErr := t.nodes.GetKey(node, j-1)
		if getErr != nil {
			return zero, false, getErr
		}
		shiftPayload, getErr := t.nodes.GetPayload(node, j-1)
		if getErr != nil {
			return zero, false, getErr
		}
		if setErr := t.nodes.SetKey(node, j, shiftKey); setErr != nil {
			return zero, false, setErr
		}
		if setErr := t.nodes.SetPayload(node, j, shiftPayload); setErr != nil {
			return zero, false, setErr
		}
	}

	if err := t.nodes.SetKey(node, idx, k); err != nil {
		return zero, false, err
	}
	if err := t.nodes.SetPayload(node, idx, payloadID); err != nil {
		return zero, false, err
	}
	t.nodes.setNumKeys(node, n+1)

	t.length.Add(1)
	t.hint.record(node)

	return zero, false, nil
}

// locate descends from the root and returns the node/slot holding k, if present.
func (t *BTree[K, V]) locate(k K) (node NodeID, idx int, found bool, err error) {
	node = NodeID(t.root.Load())
	for {
		var f bool
		f, idx, err = t.nodes.BinarySearch(node, k, t.cmp)
		if err != nil {
			return 0, 0, false, err
		}
		if f {
			return node, idx, true, nil
		}

		leaf, leafErr := t.nodes.IsLeaf(node)
		if leafErr != nil {
			return 0, 0, false, leafErr
		}
		if leaf {
			return 0, 0, false, nil
		}

		child, childErr := t.nodes.GetChild(node, idx)
		if childErr != nil {
			return 0, 0, false, childErr
		}
		node = child
	}
}

// Swap exchanges the payload IDs stored at two existing keys, without
// touching either value's serialized bytes.
func (t *BTree[K, V]) Swap(a, b K) error {
	nodeA, idxA, foundA, err := t.locate(a)
	if err != nil {
		return err
	}
	if !foundA {
		return newErr(NonExistingKey, "swap: first key not present")
	}

	nodeB, idxB, foundB, err := t.locate(b)
	if err != nil {
		return err
	}
	if !foundB {
		return newErr(NonExistingKey, "swap: second key not present")
	}

	payloadA, err := t.nodes.GetPayload(nodeA, idxA)
	if err != nil {
		return err
	}
	payloadB, err := t.nodes.GetPayload(nodeB, idxB)
	if err != nil {
		return err
	}

	if err := t.nodes.SetPayload(nodeA, idxA, payloadB); err != nil {
		return err
	}
	return t.nodes.SetPayload(nodeB, idxB, payloadA)
}

// Range returns a lazy ordered iterator over all entries within r.
func (t *BTree[K, V]) Range(r KeyRange[K]) (*RangeIter[K, V], error) {
	root := NodeID(t.root.Load())

	entries, err := t.nodes.FindRange(root, r, t.cmp)
	if err != nil {
		return nil, err
	}

	return &RangeIter[K, V]{tree: t, r: r, stack: reverseStackEntries(entries)}, nil
}

func reverseStackEntries(entries []StackEntry) []StackEntry {
	out := make([]StackEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}
