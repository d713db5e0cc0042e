package tbtree

// tupleStore is the common surface shared by VariableTupleStore[T] and
// FixedTupleStore[T]. It lets the node page store's indirect-key path
// and the B-tree's value path share one abstraction regardless of which
// concrete store backs a given T.
type tupleStore[T any] interface {
	AllocateBlock(capacity int) (BlockID, error)
	Put(id BlockID, v T) (BlockID, error)
	Get(id BlockID) (T, error)
	GetOwned(id BlockID) (T, error)
	SerializedSize(v T) int
}

// KeyStore is how a NodePageStore reads and writes the key held in a
// node slot. A given index picks exactly one implementation at
// construction and never switches: inline (the slot bits are the key)
// or indirect (the slot holds a tuple block ID).
type KeyStore[K any] interface {
	// WriteKey installs k and returns the raw 64-bit value to store in the slot.
	WriteKey(k K) (uint64, error)
	// ReadKey reconstructs a key from a slot's raw 64-bit value.
	ReadKey(slot uint64) (K, error)
	// IsInline reports whether this is the inline (fixed-key) mode.
	IsInline() bool
}

// inlineKeyStore stores the key directly in the node slot.
type inlineKeyStore[K any] struct {
	codec InlineCodec[K]
}

// NewInlineKeyStore builds a KeyStore that keeps keys directly in node
// slots via codec, putting the index into fixed-key mode.
func NewInlineKeyStore[K any](codec InlineCodec[K]) KeyStore[K] {
	return inlineKeyStore[K]{codec: codec}
}

func (s inlineKeyStore[K]) WriteKey(k K) (uint64, error) { return s.codec.ToSlot(k), nil }
func (s inlineKeyStore[K]) ReadKey(slot uint64) (K, error) { return s.codec.FromSlot(slot), nil }
func (s inlineKeyStore[K]) IsInline() bool                 { return true }

// indirectKeyStore stores the key out-of-line in a companion tuple store
// and keeps only the block ID in the node slot.
type indirectKeyStore[K any] struct {
	store tupleStore[K]
}

// NewIndirectKeyStore builds a KeyStore that serializes keys into store
// and keeps only the resulting block ID in node slots, putting the index
// into variable-key mode.
func NewIndirectKeyStore[K any](store tupleStore[K]) KeyStore[K] {
	return indirectKeyStore[K]{store: store}
}

func (s indirectKeyStore[K]) WriteKey(k K) (uint64, error) {
	size := s.store.SerializedSize(k)

	id, allocErr := s.store.AllocateBlock(size)
	if allocErr != nil {
		return 0, allocErr
	}

	if _, putErr := s.store.Put(id, k); putErr != nil {
		return 0, putErr
	}

	return uint64(id), nil
}

func (s indirectKeyStore[K]) ReadKey(slot uint64) (K, error) {
	return s.store.Get(BlockID(slot))
}

func (s indirectKeyStore[K]) IsInline() bool { return false }
