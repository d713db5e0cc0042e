package tbtree

// RangeIter is a lazy ordered iterator over a KeyRange, driven by an
// explicit stack of pending work units rather than recursion. Each pop
// either yields a key or pushes its child's restricted FindRange result
// on top, in reverse, so the smallest pending candidate is always at the
// top of the stack.
type RangeIter[K any, V any] struct {
	tree  *BTree[K, V]
	r     KeyRange[K]
	stack []StackEntry
}

// Next returns the next (key, value) pair in ascending order, or
// ok=false once the range is exhausted.
func (it *RangeIter[K, V]) Next() (K, V, bool, error) {
	var zeroK K
	var zeroV V

	for len(it.stack) > 0 {
		top := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]

		switch top.Kind {
		case StackEntryKey:
			key, err := it.tree.nodes.GetKey(top.Node, top.Idx)
			if err != nil {
				return zeroK, zeroV, false, err
			}
			payload, err := it.tree.nodes.GetPayload(top.Node, top.Idx)
			if err != nil {
				return zeroK, zeroV, false, err
			}
			value, err := it.tree.values.Get(payload)
			if err != nil {
				return zeroK, zeroV, false, err
			}
			return key, value, true, nil

		case StackEntryChild:
			child, err := it.tree.nodes.GetChild(top.Node, top.Idx)
			if err != nil {
				return zeroK, zeroV, false, err
			}

			entries, err := it.tree.nodes.FindRange(child, it.r, it.tree.cmp)
			if err != nil {
				return zeroK, zeroV, false, err
			}

			it.stack = append(it.stack, reverseStackEntries(entries)...)
		}
	}

	return zeroK, zeroV, false, nil
}
