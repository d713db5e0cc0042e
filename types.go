package tbtree

// NodeID is the page index of a node within the NodePageStore. Node
// identifiers never change once assigned; nodes are never destroyed or
// relocated.
type NodeID uint64

// CompareFunc orders two keys the way the B-tree's ordering requires:
// negative if a < b, zero if equal, positive if a > b. Mirrors the
// stdlib cmp.Compare contract.
type CompareFunc[K any] func(a, b K) int

// BoundKind classifies one endpoint of a KeyRange.
type BoundKind uint8

const (
	Unbounded BoundKind = iota
	Included
	Excluded
)

// Bound is one endpoint of a KeyRange: unbounded, or inclusive/exclusive
// of Value.
type Bound[K any] struct {
	Kind  BoundKind
	Value K
}

// Incl builds an inclusive bound.
func Incl[K any](v K) Bound[K] { return Bound[K]{Kind: Included, Value: v} }

// Excl builds an exclusive bound.
func Excl[K any](v K) Bound[K] { return Bound[K]{Kind: Excluded, Value: v} }

// Unbound builds an unbounded endpoint.
func Unbound[K any]() Bound[K] { return Bound[K]{Kind: Unbounded} }

// KeyRange describes any half-open, closed, or unbounded range over keys.
type KeyRange[K any] struct {
	Lo Bound[K]
	Hi Bound[K]
}

// RangeAll is the unbounded range, equivalent to Rust's `..`.
func RangeAll[K any]() KeyRange[K] {
	return KeyRange[K]{Lo: Unbound[K](), Hi: Unbound[K]()}
}

// RangeHalfOpen is [lo, hi), equivalent to Rust's `lo..hi`.
func RangeHalfOpen[K any](lo, hi K) KeyRange[K] {
	return KeyRange[K]{Lo: Incl(lo), Hi: Excl(hi)}
}

// RangeInclusive is [lo, hi], equivalent to Rust's `lo..=hi`.
func RangeInclusive[K any](lo, hi K) KeyRange[K] {
	return KeyRange[K]{Lo: Incl(lo), Hi: Incl(hi)}
}

// RangeFrom is [lo, +inf), equivalent to Rust's `lo..`.
func RangeFrom[K any](lo K) KeyRange[K] {
	return KeyRange[K]{Lo: Incl(lo), Hi: Unbound[K]()}
}

// RangeTo is (-inf, hi), equivalent to Rust's `..hi`.
func RangeTo[K any](hi K) KeyRange[K] {
	return KeyRange[K]{Lo: Unbound[K](), Hi: Excl(hi)}
}

func (b Bound[K]) satisfiesLower(k K, cmp CompareFunc[K]) bool {
	switch b.Kind {
	case Unbounded:
		return true
	case Included:
		return cmp(k, b.Value) >= 0
	default: // Excluded
		return cmp(k, b.Value) > 0
	}
}

func (b Bound[K]) satisfiesUpper(k K, cmp CompareFunc[K]) bool {
	switch b.Kind {
	case Unbounded:
		return true
	case Included:
		return cmp(k, b.Value) <= 0
	default: // Excluded
		return cmp(k, b.Value) < 0
	}
}

// contains reports whether k lies within r under cmp.
func (r KeyRange[K]) contains(k K, cmp CompareFunc[K]) bool {
	return r.Lo.satisfiesLower(k, cmp) && r.Hi.satisfiesUpper(k, cmp)
}

// StackEntryKind distinguishes the two kinds of pending work unit
// produced by FindRange.
type StackEntryKind uint8

const (
	// StackEntryChild is a pending descent into child Idx of Node.
	StackEntryChild StackEntryKind = iota
	// StackEntryKey is a yield point for keys[Idx] of Node.
	StackEntryKey
)

// StackEntry is one unit of pending range-iteration work: either a
// descent into a child, or a key ready to yield.
type StackEntry struct {
	Kind StackEntryKind
	// Node is the parent node for a child entry, and the node holding the
	// key for a key entry.
	Node NodeID
	Idx  int
}
