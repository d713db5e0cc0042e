package tbtree

import (
	"encoding/binary"
	"sync"
)

// MAX is the number of key/payload slots a node page holds. It is fixed
// so that MAX=2*DefaultOrder+1 keeps the logical page layout
// within one 4 KiB physical stride; constructing an index with an order
// above MaxOrder fails with OrderTooLarge.
const MAX = 2*DefaultOrder + 1

// MaxOrder is the largest order t accepted at construction, MAX/2 (84).
// At that order a node holds up to 2t-1 = 167 keys, within MAX.
const MaxOrder = MAX / 2

const (
	nodeIDOff       = 0
	nodeNumKeysOff  = 8
	nodeIsLeafOff   = 16
	nodeKeysOff     = 17
	nodePayloadsOff = nodeKeysOff + MAX*8
	nodeChildrenOff = nodePayloadsOff + MAX*8
	// nodeLogicalSize is the field-sum layout size; the physical stride
	// between pages is the next power of two at or above it (PageSize,
	// 4096 by convention).
	nodeLogicalSize = nodeChildrenOff + (MAX+1)*8
)

// NodePageStore manages B-tree node pages as fixed-width, page-aligned
// slots in a PagedRegion. It is generic over the key type K only;
// payloads are always BlockIDs into a value tuple store.
type NodePageStore[K any] struct {
	region *PagedRegion
	keys   KeyStore[K]

	freeMu sync.Mutex
	free   uint64
}

// NewNodePageStore creates a node page store backed by region, reading
// and writing keys through keys (either inline or indirect, chosen once
// for the index's lifetime).
func NewNodePageStore[K any](region *PagedRegion, keys KeyStore[K]) *NodePageStore[K] {
	return &NodePageStore[K]{region: region, keys: keys}
}

func nodeOffset(id NodeID) int { return int(id) * PageSize }

// AllocateNewNode advances the free offset by one page and writes an
// empty leaf header (num_keys=0, is_leaf=1).
func (s *NodePageStore[K]) AllocateNewNode() (NodeID, error) {
	s.freeMu.Lock()
	defer s.freeMu.Unlock()

	id := NodeID(s.free)
	off := nodeOffset(id)

	if err := s.region.EnsureCapacity(off + nodeLogicalSize); err != nil {
		return 0, err
	}

	buf := make([]byte, nodeLogicalSize)
	binary.LittleEndian.PutUint64(buf[nodeIDOff:], uint64(id))
	binary.LittleEndian.PutUint64(buf[nodeNumKeysOff:], 0)
	buf[nodeIsLeafOff] = 1
	s.region.WriteAt(off, buf)

	s.free++
	return id, nil
}

// NumKeys returns the node's occupied key-slot count.
func (s *NodePageStore[K]) NumKeys(id NodeID) (int, error) {
	b := s.region.ReadAt(nodeOffset(id)+nodeNumKeysOff, 8)
	return int(binary.LittleEndian.Uint64(b)), nil
}

func (s *NodePageStore[K]) setNumKeys(id NodeID, n int) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(n))
	s.region.WriteAt(nodeOffset(id)+nodeNumKeysOff, buf)
}

// IsLeaf reports whether the node has zero children.
func (s *NodePageStore[K]) IsLeaf(id NodeID) (bool, error) {
	b := s.region.ReadAt(nodeOffset(id)+nodeIsLeafOff, 1)
	return b[0] != 0, nil
}

func (s *NodePageStore[K]) setLeaf(id NodeID, leaf bool) {
	v := byte(0)
	if leaf {
		v = 1
	}
	s.region.WriteAt(nodeOffset(id)+nodeIsLeafOff, []byte{v})
}

// NumChildren returns 0 for a leaf, or NumKeys+1 for an internal node.
func (s *NodePageStore[K]) NumChildren(id NodeID) (int, error) {
	leaf, err := s.IsLeaf(id)
	if err != nil {
		return 0, err
	}
	if leaf {
		return 0, nil
	}

	n, err := s.NumKeys(id)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

func (s *NodePageStore[K]) keySlot(id NodeID, i int) uint64 {
	b := s.region.ReadAt(nodeOffset(id)+nodeKeysOff+i*8, 8)
	return binary.LittleEndian.Uint64(b)
}

func (s *NodePageStore[K]) setKeySlot(id NodeID, i int, v uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	s.region.WriteAt(nodeOffset(id)+nodeKeysOff+i*8, buf)
}

func (s *NodePageStore[K]) payloadSlot(id NodeID, i int) uint64 {
	b := s.region.ReadAt(nodeOffset(id)+nodePayloadsOff+i*8, 8)
	return binary.LittleEndian.Uint64(b)
}

func (s *NodePageStore[K]) setPayloadSlot(id NodeID, i int, v uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	s.region.WriteAt(nodeOffset(id)+nodePayloadsOff+i*8, buf)
}

func (s *NodePageStore[K]) childSlot(id NodeID, i int) uint64 {
	b := s.region.ReadAt(nodeOffset(id)+nodeChildrenOff+i*8, 8)
	return binary.LittleEndian.Uint64(b)
}

func (s *NodePageStore[K]) setChildSlot(id NodeID, i int, v uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	s.region.WriteAt(nodeOffset(id)+nodeChildrenOff+i*8, buf)
}

// GetKey reads and (for indirect mode) deserializes keys[i]. i must be a
// currently occupied slot (< num_keys).
func (s *NodePageStore[K]) GetKey(id NodeID, i int) (K, error) {
	var zero K

	n, err := s.NumKeys(id)
	if err != nil {
		return zero, err
	}
	if i < 0 || i >= n {
		return zero, newErr(KeyIndexOutOfBounds, "get_key index out of bounds")
	}

	return s.keys.ReadKey(s.keySlot(id, i))
}

// SetKey writes keys[i], allocating a key tuple block first in indirect
// mode. i must be within [0, MAX).
func (s *NodePageStore[K]) SetKey(id NodeID, i int, key K) error {
	if i < 0 || i >= MAX {
		return newErr(KeyIndexOutOfBounds, "set_key index out of bounds")
	}

	slot, err := s.keys.WriteKey(key)
	if err != nil {
		return err
	}

	s.setKeySlot(id, i, slot)
	return nil
}

// GetPayload reads payloads[i]. i must be a currently occupied slot.
func (s *NodePageStore[K]) GetPayload(id NodeID, i int) (BlockID, error) {
	n, err := s.NumKeys(id)
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= n {
		return 0, newErr(KeyIndexOutOfBounds, "get_payload index out of bounds")
	}

	return BlockID(s.payloadSlot(id, i)), nil
}

// SetPayload writes payloads[i]. i must be within [0, MAX).
func (s *NodePageStore[K]) SetPayload(id NodeID, i int, payload BlockID) error {
	if i < 0 || i >= MAX {
		return newErr(KeyIndexOutOfBounds, "set_payload index out of bounds")
	}

	s.setPayloadSlot(id, i, uint64(payload))
	return nil
}

// GetChild reads children[i]. i must be within [0, num_keys].
func (s *NodePageStore[K]) GetChild(id NodeID, i int) (NodeID, error) {
	n, err := s.NumKeys(id)
	if err != nil {
		return 0, err
	}
	if i < 0 || i > n {
		return 0, newErr(KeyIndexOutOfBounds, "get_child index out of bounds")
	}

	return NodeID(s.childSlot(id, i)), nil
}

// SetChild writes children[i] and clears the node's is_leaf flag. i must
// be within [0, MAX].
func (s *NodePageStore[K]) SetChild(id NodeID, i int, child NodeID) error {
	if i < 0 || i > MAX {
		return newErr(KeyIndexOutOfBounds, "set_child index out of bounds")
	}

	s.setChildSlot(id, i, uint64(child))
	s.setLeaf(id, false)
	return nil
}

// BinarySearch performs a classic binary search over the node's
// num_keys keys. It returns (true, i) if keys[i] == key, otherwise
// (false, i) where i is the insertion position.
func (s *NodePageStore[K]) BinarySearch(id NodeID, key K, cmp CompareFunc[K]) (found bool, idx int, err error) {
	n, err := s.NumKeys(id)
	if err != nil {
		return false, 0, err
	}

	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2

		midKey, getErr := s.GetKey(id, mid)
		if getErr != nil {
			return false, 0, getErr
		}

		switch c := cmp(key, midKey); {
		case c == 0:
			return true, mid, nil
		case c < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}

	return false, lo, nil
}

// SplitChild splits children[childIdx] of parent, which must hold
// exactly 2t-1 keys. It allocates a new sibling, moves the upper t-1
// keys/payloads (and t children, if internal) into it, and promotes the
// median key/payload into parent at position childIdx.
func (s *NodePageStore[K]) SplitChild(parent NodeID, childIdx, t int) (oldChild, newSibling NodeID, err error) {
	child, err := s.GetChild(parent, childIdx)
	if err != nil {
		return 0, 0, err
	}

	childKeys, err := s.NumKeys(child)
	if err != nil {
		return 0, 0, err
	}
	if childKeys == 0 {
		return 0, 0, newErr(EmptyChildNodeInSplit, "split_child called on an empty node")
	}

	childIsLeaf, err := s.IsLeaf(child)
	if err != nil {
		return 0, 0, err
	}

	sibling, err := s.AllocateNewNode()
	if err != nil {
		return 0, 0, err
	}

	for j := 0; j < t-1; j++ {
		k, getErr := s.GetKey(child, t+j)
		if getErr != nil {
			return 0, 0, getErr
		}
		p, getErr := s.GetPayload(child, t+j)
		if getErr != nil {
			return 0, 0, getErr
		}
		if setErr := s.SetKey(sibling, j, k); setErr != nil {
			return 0, 0, setErr
		}
		if setErr := s.SetPayload(sibling, j, p); setErr != nil {
			return 0, 0, setErr
		}
	}
	s.setNumKeys(sibling, t-1)

	if !childIsLeaf {
		for j := 0; j < t; j++ {
			c, getErr := s.GetChild(child, t+j)
			if getErr != nil {
				return 0, 0, getErr
			}
			if setErr := s.SetChild(sibling, j, c); setErr != nil {
				return 0, 0, setErr
			}
		}
	}

	medianKey, err := s.GetKey(child, t-1)
	if err != nil {
		return 0, 0, err
	}
	medianPayload, err := s.GetPayload(child, t-1)
	if err != nil {
		return 0, 0, err
	}

	parentKeys, err := s.NumKeys(parent)
	if err != nil {
		return 0, 0, err
	}

	for j := parentKeys; j > childIdx; j-- {
		k, getErr := s.GetKey(parent, j-1)
		if getErr != nil {
			return 0, 0, getErr
		}
		p, getErr := s.GetPayload(parent, j-1)
		if getErr != nil {
			return 0, 0, getErr
		}
		if setErr := s.SetKey(parent, j, k); setErr != nil {
			return 0, 0, setErr
		}
		if setErr := s.SetPayload(parent, j, p); setErr != nil {
			return 0, 0, setErr
		}
	}

	for j := parentKeys + 1; j > childIdx+1; j-- {
		c, getErr := s.GetChild(parent, j-1)
		if getErr != nil {
			return 0, 0, getErr
		}
		if setErr := s.SetChild(parent, j, c); setErr != nil {
			return 0, 0, setErr
		}
	}

	if err := s.SetKey(parent, childIdx, medianKey); err != nil {
		return 0, 0, err
	}
	if err := s.SetPayload(parent, childIdx, medianPayload); err != nil {
		return 0, 0, err
	}
	if err := s.SetChild(parent, childIdx+1, sibling); err != nil {
		return 0, 0, err
	}
	s.setNumKeys(parent, parentKeys+1)

	s.setNumKeys(child, t-1)

	return child, sibling, nil
}

// SplitRoot allocates a fresh root whose only child is oldRoot, then
// splits it, which promotes oldRoot's median into the new root at slot 0
// and wires children[0]=oldRoot, children[1]=the new sibling.
func (s *NodePageStore[K]) SplitRoot(oldRoot NodeID, t int) (newRoot NodeID, err error) {
	newRoot, err = s.AllocateNewNode()
	if err != nil {
		return 0, err
	}

	if err := s.SetChild(newRoot, 0, oldRoot); err != nil {
		return 0, err
	}

	if _, _, err := s.SplitChild(newRoot, 0, t); err != nil {
		return 0, err
	}

	return newRoot, nil
}

// FindRange produces the ascending in-order interleaving of children and
// keys of id, restricted to r, as a list of pending work units. Children
// whose entire subtree provably falls outside r are pruned using the
// node's own keys as subtree bounds.
func (s *NodePageStore[K]) FindRange(id NodeID, r KeyRange[K], cmp CompareFunc[K]) ([]StackEntry, error) {
	n, err := s.NumKeys(id)
	if err != nil {
		return nil, err
	}

	leaf, err := s.IsLeaf(id)
	if err != nil {
		return nil, err
	}

	var entries []StackEntry

	for i := 0; i <= n; i++ {
		if !leaf {
			include, inErr := s.childMayOverlap(id, i, n, r, cmp)
			if inErr != nil {
				return nil, inErr
			}
			if include {
				entries = append(entries, StackEntry{Kind: StackEntryChild, Node: id, Idx: i})
			}
		}

		if i < n {
			key, getErr := s.GetKey(id, i)
			if getErr != nil {
				return nil, getErr
			}
			if r.contains(key, cmp) {
				entries = append(entries, StackEntry{Kind: StackEntryKey, Node: id, Idx: i})
			}
		}
	}

	return entries, nil
}

// childMayOverlap reports whether child i's subtree could contain a key
// within r, using the node's own adjacent keys as the subtree's open
// bounds.
func (s *NodePageStore[K]) childMayOverlap(id NodeID, i, n int, r KeyRange[K], cmp CompareFunc[K]) (bool, error) {
	if i > 0 {
		pred, err := s.GetKey(id, i-1)
		if err != nil {
			return false, err
		}
		if r.Hi.Kind != Unbounded && cmp(pred, r.Hi.Value) >= 0 {
			return false, nil
		}
	}

	if i < n {
		next, err := s.GetKey(id, i)
		if err != nil {
			return false, err
		}
		if r.Lo.Kind != Unbounded && cmp(next, r.Lo.Value) <= 0 {
			return false, nil
		}
	}

	return true, nil
}
