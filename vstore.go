package tbtree

import (
	"encoding/binary"
	"sync"
)

const (
	// PageSize is the layout constant pages and relocated blocks align to.
	PageSize = 4096
	// varBlockHeaderSize is the {capacity uint64, used uint64} header
	// preceding every variable tuple block.
	varBlockHeaderSize = 16
)

// VariableTupleStore hosts variable-width serialized records in
// length-prefixed blocks within a PagedRegion. It transparently relocates
// blocks that outgrow their allocated capacity and keeps a bounded LRU
// cache of deserialized snapshots.
type VariableTupleStore[T any] struct {
	region *PagedRegion
	codec  Codec[T]

	freeMu sync.Mutex
	free   uint64

	relocMu     sync.Mutex
	relocations map[BlockID]BlockID

	cache *blockCache[T]
}

// NewVariableTupleStore creates a store backed by region, using codec to
// (de)serialize T and bounding the block cache to cacheSize entries.
func NewVariableTupleStore[T any](region *PagedRegion, codec Codec[T], cacheSize int) *VariableTupleStore[T] {
	return &VariableTupleStore[T]{
		region:      region,
		codec:       codec,
		relocations: make(map[BlockID]BlockID),
		cache:       newBlockCache[T](cacheSize),
	}
}

// SerializedSize returns the number of bytes the codec would emit for v.
func (s *VariableTupleStore[T]) SerializedSize(v T) int {
	return s.codec.SerializedSize(v)
}

// AllocateBlock appends a header plus capacity payload bytes at the
// store's free offset and returns the header's byte offset as the block
// ID.
func (s *VariableTupleStore[T]) AllocateBlock(capacity int) (BlockID, error) {
	s.freeMu.Lock()
	defer s.freeMu.Unlock()

	offset := s.free
	end := int(offset) + varBlockHeaderSize + capacity

	if err := s.region.EnsureCapacity(end); err != nil {
		return 0, err
	}

	header := make([]byte, varBlockHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], uint64(capacity))
	binary.LittleEndian.PutUint64(header[8:16], 0)
	s.region.WriteAt(int(offset), header)

	s.free = uint64(end)
	return BlockID(offset), nil
}

// Put resolves relocation, then serializes value in place if it fits the
// block's capacity; otherwise it allocates a new, page-aligned block,
// serializes into it, and installs a flat (non-chaining) relocation entry
// for the original ID.
func (s *VariableTupleStore[T]) Put(id BlockID, value T) (BlockID, error) {
	resolved := s.resolve(id)

	needed := s.codec.SerializedSize(value)
	capacity, _, headerErr := s.readHeader(resolved)
	if headerErr != nil {
		return 0, headerErr
	}

	target := resolved
	if needed > capacity {
		newCapacity := pageAligned(2 * needed)

		newID, allocErr := s.AllocateBlock(newCapacity)
		if allocErr != nil {
			return 0, allocErr
		}

		s.installRelocation(id, newID)
		target = newID
		capacity = newCapacity
	}

	buf := make([]byte, needed)
	if err := s.codec.SerializeInto(buf, value); err != nil {
		return 0, wrapErr(DeserializeBlock, "serialize failed", err)
	}

	s.writeUsed(target, buf, capacity)
	s.cache.Put(target, value)

	return target, nil
}

// Get resolves relocation, returns the cached snapshot on a hit (marking
// it most-recently-used), and otherwise deserializes directly from the
// mapping.
func (s *VariableTupleStore[T]) Get(id BlockID) (T, error) {
	resolved := s.resolve(id)

	if v, ok := s.cache.Get(resolved); ok {
		return v, nil
	}

	return s.readFromMapping(resolved)
}

// GetOwned resolves relocation and always deserializes a fresh value
// from the mapping, bypassing the block cache, so with the built-in
// codecs the result shares no memory with any cached snapshot.
func (s *VariableTupleStore[T]) GetOwned(id BlockID) (T, error) {
	var zero T

	resolved := s.resolve(id)
	_, used, headerErr := s.readHeader(resolved)
	if headerErr != nil {
		return zero, headerErr
	}

	payload := s.region.ReadAt(int(resolved)+varBlockHeaderSize, used)
	value, decErr := s.codec.Deserialize(payload)
	if decErr != nil {
		return zero, wrapErr(DeserializeBlock, "variable tuple store deserialize failed", decErr)
	}
	return value, nil
}

func (s *VariableTupleStore[T]) readFromMapping(id BlockID) (T, error) {
	var zero T

	capacity, used, headerErr := s.readHeader(id)
	if headerErr != nil {
		return zero, headerErr
	}
	_ = capacity

	payload := s.region.ReadAt(int(id)+varBlockHeaderSize, int(used))
	value, decErr := s.codec.Deserialize(payload)
	if decErr != nil {
		return zero, wrapErr(DeserializeBlock, "variable tuple store deserialize failed", decErr)
	}

	s.cache.Put(id, value)
	return value, nil
}

func (s *VariableTupleStore[T]) readHeader(id BlockID) (capacity int, used int, err error) {
	header := s.region.ReadAt(int(id), varBlockHeaderSize)
	capacity = int(binary.LittleEndian.Uint64(header[0:8]))
	used = int(binary.LittleEndian.Uint64(header[8:16]))
	return capacity, used, nil
}

func (s *VariableTupleStore[T]) writeUsed(id BlockID, payload []byte, capacity int) {
	header := make([]byte, varBlockHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], uint64(capacity))
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(payload)))
	s.region.WriteAt(int(id), header)
	s.region.WriteAt(int(id)+varBlockHeaderSize, payload)
}

// resolve follows the relocation table. The map is flat: a relocated
// block that overflows again is re-pointed directly at the newest block,
// never chained.
func (s *VariableTupleStore[T]) resolve(id BlockID) BlockID {
	s.relocMu.Lock()
	defer s.relocMu.Unlock()

	if next, ok := s.relocations[id]; ok {
		return next
	}
	return id
}

func (s *VariableTupleStore[T]) installRelocation(oldID, newID BlockID) {
	s.relocMu.Lock()
	defer s.relocMu.Unlock()

	s.relocations[oldID] = newID
	s.cache.Remove(oldID)
}

// pageAligned rounds n up to fill an integer number of PageSize pages,
// minus the block header, so a relocated block exactly fills its pages.
func pageAligned(n int) int {
	pages := (n + PageSize - 1) / PageSize
	return pages*PageSize - varBlockHeaderSize
}
