package tbtree

import (
	"bytes"
	"testing"
)

func TestPagedRegionWriteReadRoundTrip(t *testing.T) {
	region, err := NewPagedRegion(64)
	if err != nil {
		t.Fatalf("NewPagedRegion: %v", err)
	}
	defer region.Close()

	want := []byte("hello, paged region")
	region.WriteAt(8, want)

	got := region.ReadAt(8, len(want))
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadAt = %q, want %q", got, want)
	}
}

func TestPagedRegionGrowPreservesPrefix(t *testing.T) {
	region, err := NewPagedRegion(16)
	if err != nil {
		t.Fatalf("NewPagedRegion: %v", err)
	}
	defer region.Close()

	prefix := []byte("0123456789abcdef")
	region.WriteAt(0, prefix)

	originalLen := region.Len()

	if err := region.Grow(4096); err != nil {
		t.Fatalf("Grow: %v", err)
	}

	if region.Len() < 4096 {
		t.Fatalf("Len() = %d, want at least 4096", region.Len())
	}

	got := region.ReadAt(0, originalLen)
	if !bytes.Equal(got, prefix) {
		t.Fatalf("prefix after grow = %q, want %q", got, prefix)
	}
}

func TestPagedRegionGrowDoubles(t *testing.T) {
	region, err := NewPagedRegion(16)
	if err != nil {
		t.Fatalf("NewPagedRegion: %v", err)
	}
	defer region.Close()

	if err := region.Grow(17); err != nil {
		t.Fatalf("Grow: %v", err)
	}

	if region.Len() != 32 {
		t.Fatalf("Len() = %d, want 32 (doubled from 16)", region.Len())
	}
}

func TestPagedRegionEnsureCapacityIsNoopWhenSufficient(t *testing.T) {
	region, err := NewPagedRegion(4096)
	if err != nil {
		t.Fatalf("NewPagedRegion: %v", err)
	}
	defer region.Close()

	before := region.Len()
	if err := region.EnsureCapacity(100); err != nil {
		t.Fatalf("EnsureCapacity: %v", err)
	}
	if region.Len() != before {
		t.Fatalf("EnsureCapacity grew an already-sufficient region: %d -> %d", before, region.Len())
	}
}
