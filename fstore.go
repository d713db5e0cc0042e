package tbtree

import "sync"

// FixedTupleStore hosts records of a declared fixed serialized width W.
// There is no header, no relocation, and no cache: every block is
// exactly W bytes and reads/writes go straight to the mapping.
type FixedTupleStore[T any] struct {
	region *PagedRegion
	codec  Codec[T]
	width  int

	freeMu sync.Mutex
	free   uint64
}

// NewFixedTupleStore creates a store backed by region for records of
// exactly width bytes.
func NewFixedTupleStore[T any](region *PagedRegion, codec Codec[T], width int) *FixedTupleStore[T] {
	return &FixedTupleStore[T]{region: region, codec: codec, width: width}
}

// SerializedSize always returns the store's declared width.
func (s *FixedTupleStore[T]) SerializedSize(T) int { return s.width }

// AllocateBlock returns the current free offset and advances it by
// exactly the store's width. w must equal that width.
func (s *FixedTupleStore[T]) AllocateBlock(w int) (BlockID, error) {
	if w != s.width {
		return 0, newErr(InvalidCapacity, "fixed tuple store allocate called with mismatched width")
	}

	s.freeMu.Lock()
	defer s.freeMu.Unlock()

	offset := s.free
	end := int(offset) + s.width

	if err := s.region.EnsureCapacity(end); err != nil {
		return 0, err
	}

	s.free = uint64(end)
	return BlockID(offset), nil
}

// Put writes exactly width bytes obtained from value's fixed encoding.
func (s *FixedTupleStore[T]) Put(id BlockID, value T) (BlockID, error) {
	buf := make([]byte, s.width)
	if err := s.codec.SerializeInto(buf, value); err != nil {
		return 0, wrapErr(DeserializeBlock, "fixed tuple serialize failed", err)
	}

	s.region.WriteAt(int(id), buf)
	return id, nil
}

// Get reads exactly width bytes and reconstructs the value.
func (s *FixedTupleStore[T]) Get(id BlockID) (T, error) {
	var zero T

	buf := s.region.ReadAt(int(id), s.width)
	v, err := s.codec.Deserialize(buf)
	if err != nil {
		return zero, wrapErr(DeserializeBlock, "fixed tuple store deserialize failed", err)
	}

	return v, nil
}

// GetOwned behaves identically to Get; fixed-width records are always
// reconstructed fresh from the mapping.
func (s *FixedTupleStore[T]) GetOwned(id BlockID) (T, error) {
	return s.Get(id)
}
