package tbtree

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// MMap is the byte-array view of an anonymous memory-mapped region.
type MMap []byte

// PagedRegion is a grow-only, anonymous (not file-backed) byte region.
// It doubles in size on exhaustion and preserves the prefix bytes across
// a grow, so that block/node IDs recorded as offsets into the region
// remain valid across any number of grows.
type PagedRegion struct {
	// data holds the live MMap; swapped out wholesale on Grow.
	data atomic.Value

	// growLock serializes Grow against itself and against ReadAt/WriteAt,
	// mirroring the teacher's RWResizeLock in IOUtils.go: growers take the
	// exclusive lock, readers/writers of the live mapping take the shared one.
	growLock sync.RWMutex

	closed bool
}

// NewPagedRegion allocates an anonymous mapping of exactly
// max(initialBytes, 1) bytes.
func NewPagedRegion(initialBytes int) (*PagedRegion, error) {
	size := initialBytes
	if size < 1 {
		size = 1
	}

	mapping, mmapErr := anonMmap(size)
	if mmapErr != nil {
		return nil, wrapErr(IOError, "failed to allocate anonymous mapping", mmapErr)
	}

	r := &PagedRegion{}
	r.data.Store(MMap(mapping))

	return r, nil
}

// Len returns the current byte length of the region.
func (r *PagedRegion) Len() int {
	r.growLock.RLock()
	defer r.growLock.RUnlock()

	return len(r.data.Load().(MMap))
}

// Grow is a no-op if minBytes <= Len(); otherwise it allocates a new
// anonymous mapping of max(minBytes, 2*Len()) bytes, copies the old
// content into its prefix, and replaces the live mapping. The old
// mapping remains valid (and the region unchanged) if the new allocation
// fails.
func (r *PagedRegion) Grow(minBytes int) error {
	r.growLock.Lock()
	defer r.growLock.Unlock()

	curr := r.data.Load().(MMap)
	if minBytes <= len(curr) {
		return nil
	}

	newSize := minBytes
	if doubled := len(curr) * 2; doubled > newSize {
		newSize = doubled
	}

	next, mmapErr := anonMmap(newSize)
	if mmapErr != nil {
		return wrapErr(IOError, "failed to grow anonymous mapping", mmapErr)
	}

	copy(next, curr)

	if unmapErr := unix.Munmap(curr); unmapErr != nil {
		return wrapErr(IOError, "failed to unmap previous region", unmapErr)
	}

	r.data.Store(MMap(next))
	return nil
}

// ReadAt returns a slice view of n bytes starting at off. The slice
// aliases the live mapping and must not be retained across a Grow.
func (r *PagedRegion) ReadAt(off, n int) []byte {
	r.growLock.RLock()
	defer r.growLock.RUnlock()

	mm := r.data.Load().(MMap)
	return mm[off : off+n]
}

// WriteAt copies b into the region starting at off. The caller is
// responsible for having grown the region to fit beforehand.
func (r *PagedRegion) WriteAt(off int, b []byte) {
	r.growLock.RLock()
	defer r.growLock.RUnlock()

	mm := r.data.Load().(MMap)
	copy(mm[off:off+len(b)], b)
}

// EnsureCapacity grows the region if end exceeds its current length.
func (r *PagedRegion) EnsureCapacity(end int) error {
	if end <= r.Len() {
		return nil
	}
	return r.Grow(end)
}

// Close unmaps the region. The region must not be used afterward.
func (r *PagedRegion) Close() error {
	r.growLock.Lock()
	defer r.growLock.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	mm := r.data.Load().(MMap)
	if len(mm) == 0 {
		return nil
	}

	if unmapErr := unix.Munmap(mm); unmapErr != nil {
		return wrapErr(IOError, "failed to unmap region", unmapErr)
	}
	return nil
}

// anonMmap allocates a new anonymous, process-private mapping. Unlike the
// teacher's Map (sirgallo/utils), which maps an *os.File, this index has
// no backing file: every region is anonymous for its entire lifetime.
func anonMmap(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}
