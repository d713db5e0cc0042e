package tbtree

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
)

func newUint64Tree(t *testing.T, order int) *BTree[uint64, uint64] {
	t.Helper()

	cfg := DefaultConfig().WithOrder(order)
	cfg.ValueSizing = Fixed(8)

	tree, err := NewWithInlineKeys[uint64, uint64](cfg, 64, intCmp, Uint64Codec(), Uint64Codec())
	if err != nil {
		t.Fatalf("NewWithInlineKeys: %v", err)
	}
	return tree
}

func drainRange(t *testing.T, it *RangeIter[uint64, uint64]) []KeyVal {
	t.Helper()

	var out []KeyVal
	for {
		k, v, ok, err := it.Next()
		if err != nil {
			t.Fatalf("RangeIter.Next: %v", err)
		}
		if !ok {
			break
		}
		out = append(out, KeyVal{Key: k, Value: v})
	}
	return out
}

// KeyVal is a (key, value) pair used to collect range results in tests.
type KeyVal struct {
	Key   uint64
	Value uint64
}

// order 2, insert (i, i) for i in [0, 2000).
func TestDenseSequentialInsertAndRangeScan(t *testing.T) {
	tree := newUint64Tree(t, 2)

	for i := uint64(0); i < 2000; i++ {
		if _, had, err := tree.Insert(i, i); err != nil || had {
			t.Fatalf("Insert(%d): had=%v err=%v", i, had, err)
		}
	}

	if tree.Len() != 2000 {
		t.Fatalf("Len() = %d, want 2000", tree.Len())
	}

	v, ok, err := tree.Get(1999)
	if err != nil || !ok || v != 1999 {
		t.Fatalf("Get(1999) = (%d, %v, %v), want (1999, true, nil)", v, ok, err)
	}

	_, ok, err = tree.Get(2000)
	if err != nil || ok {
		t.Fatalf("Get(2000) = (_, %v, %v), want (_, false, nil)", ok, err)
	}

	it, err := tree.Range(RangeHalfOpen[uint64](40, 1024))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	got := drainRange(t, it)

	if len(got) != 984 {
		t.Fatalf("len(range(40..1024)) = %d, want 984", len(got))
	}
	if got[0].Key != 40 || got[len(got)-1].Key != 1023 {
		t.Fatalf("range bounds = [%d, %d], want [40, 1023]", got[0].Key, got[len(got)-1].Key)
	}
	for i := range got {
		if got[i].Key != got[i].Value {
			t.Fatalf("entry %d: key %d != value %d", i, got[i].Key, got[i].Value)
		}
		if i > 0 && got[i-1].Key >= got[i].Key {
			t.Fatalf("range not strictly ascending at index %d", i)
		}
	}
}

// repeated insert/overwrite of a single key.
func TestRepeatedOverwriteReturnsPreviousValue(t *testing.T) {
	tree := newUint64Tree(t, 2)

	if _, had, err := tree.Insert(0, 42); err != nil || had {
		t.Fatalf("Insert(0, 42): had=%v err=%v", had, err)
	}

	prev, had, err := tree.Insert(0, 100)
	if err != nil || !had || prev != 42 {
		t.Fatalf("Insert(0, 100) = (%d, %v, %v), want (42, true, nil)", prev, had, err)
	}

	prev, had, err = tree.Insert(0, 42)
	if err != nil || !had || prev != 100 {
		t.Fatalf("Insert(0, 42) = (%d, %v, %v), want (100, true, nil)", prev, had, err)
	}

	v, ok, err := tree.Get(0)
	if err != nil || !ok || v != 42 {
		t.Fatalf("Get(0) = (%d, %v, %v), want (42, true, nil)", v, ok, err)
	}

	if tree.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tree.Len())
	}
}

// sparse insert (i, i) for i in {0, 10, ..., 1990}.
func TestSparseSequentialInsertAndRangeScan(t *testing.T) {
	tree := newUint64Tree(t, 2)

	for i := uint64(0); i < 2000; i += 10 {
		if _, had, err := tree.Insert(i, i); err != nil || had {
			t.Fatalf("Insert(%d): had=%v err=%v", i, had, err)
		}
	}

	it, err := tree.Range(RangeHalfOpen[uint64](40, 1200))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	got := drainRange(t, it)
	if len(got) != 116 {
		t.Fatalf("len(range(40..1200)) = %d, want 116", len(got))
	}
	if got[0].Key != 40 {
		t.Fatalf("range(40..1200)[0].Key = %d, want 40", got[0].Key)
	}

	itAll, err := tree.Range(RangeAll[uint64]())
	if err != nil {
		t.Fatalf("Range(all): %v", err)
	}
	all := drainRange(t, itAll)
	if len(all) != 200 {
		t.Fatalf("len(range(..)) = %d, want 200", len(all))
	}
	if all[len(all)-1].Key != 1990 {
		t.Fatalf("range(..)[-1].Key = %d, want 1990", all[len(all)-1].Key)
	}
}

// order below the minimum degree fails construction.
func TestOrderBelowMinimumDegreeRejected(t *testing.T) {
	for _, order := range []int{0, 1} {
		cfg := DefaultConfig().WithOrder(order)
		cfg.ValueSizing = Fixed(8)

		_, err := NewWithInlineKeys[uint64, uint64](cfg, 64, intCmp, Uint64Codec(), Uint64Codec())
		if err == nil {
			t.Fatalf("order %d: expected OrderTooSmall, got nil", order)
		}

		idxErr, ok := err.(*IndexError)
		if !ok || idxErr.Kind != OrderTooSmall {
			t.Fatalf("order %d: got %v, want OrderTooSmall", order, err)
		}
	}
}

func TestOrderTooLargeRejected(t *testing.T) {
	cfg := DefaultConfig().WithOrder(MaxOrder + 1)
	cfg.ValueSizing = Fixed(8)

	_, err := NewWithInlineKeys[uint64, uint64](cfg, 64, intCmp, Uint64Codec(), Uint64Codec())
	if err == nil {
		t.Fatalf("expected OrderTooLarge, got nil")
	}
	idxErr, ok := err.(*IndexError)
	if !ok || idxErr.Kind != OrderTooLarge {
		t.Fatalf("got %v, want OrderTooLarge", err)
	}
}

func TestContainsKeyAgreesWithGet(t *testing.T) {
	tree := newUint64Tree(t, 3)

	for _, k := range []uint64{5, 1, 9, 3, 7} {
		if _, _, err := tree.Insert(k, k*10); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	for _, k := range []uint64{5, 1, 9, 3, 7, 2, 100} {
		_, getOK, err := tree.Get(k)
		if err != nil {
			t.Fatalf("Get(%d): %v", k, err)
		}
		containsOK, err := tree.ContainsKey(k)
		if err != nil {
			t.Fatalf("ContainsKey(%d): %v", k, err)
		}
		if getOK != containsOK {
			t.Fatalf("key %d: Get ok=%v, ContainsKey ok=%v", k, getOK, containsOK)
		}
	}
}

func TestSwapExchangesPayloads(t *testing.T) {
	tree := newUint64Tree(t, 3)

	if _, _, err := tree.Insert(1, 111); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, _, err := tree.Insert(2, 222); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := tree.Swap(1, 2); err != nil {
		t.Fatalf("Swap: %v", err)
	}

	v1, _, err := tree.Get(1)
	if err != nil || v1 != 222 {
		t.Fatalf("Get(1) after swap = %d, want 222", v1)
	}
	v2, _, err := tree.Get(2)
	if err != nil || v2 != 111 {
		t.Fatalf("Get(2) after swap = %d, want 111", v2)
	}
}

func TestSwapMissingKeyFails(t *testing.T) {
	tree := newUint64Tree(t, 3)
	if _, _, err := tree.Insert(1, 111); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	err := tree.Swap(1, 999)
	if err == nil {
		t.Fatalf("expected NonExistingKey error")
	}
	idxErr, ok := err.(*IndexError)
	if !ok || idxErr.Kind != NonExistingKey {
		t.Fatalf("got %v, want NonExistingKey", err)
	}
}

// Fuzz-oracle test: a random sequence of (k, v) pairs, cross-checked
// against a reference sorted map.
func TestFuzzOracleAgreesWithReferenceMap(t *testing.T) {
	tree := newUint64Tree(t, 4)
	reference := make(map[uint64]uint64)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		k := uint64(rng.Intn(800))
		v := uint64(rng.Intn(1_000_000))

		if _, _, err := tree.Insert(k, v); err != nil {
			t.Fatalf("Insert(%d, %d): %v", k, v, err)
		}
		reference[k] = v
	}

	if tree.Len() != len(reference) {
		t.Fatalf("Len() = %d, want %d", tree.Len(), len(reference))
	}

	wantKeys := make([]uint64, 0, len(reference))
	for k := range reference {
		wantKeys = append(wantKeys, k)
	}
	sort.Slice(wantKeys, func(i, j int) bool { return wantKeys[i] < wantKeys[j] })

	it, err := tree.Range(RangeAll[uint64]())
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	got := drainRange(t, it)

	if len(got) != len(wantKeys) {
		t.Fatalf("range length = %d, want %d", len(got), len(wantKeys))
	}
	for i, k := range wantKeys {
		if got[i].Key != k {
			t.Fatalf("entry %d: key = %d, want %d", i, got[i].Key, k)
		}
		if got[i].Value != reference[k] {
			t.Fatalf("entry %d (key %d): value = %d, want %d", i, k, got[i].Value, reference[k])
		}
	}
}

// With a single writer finished, many readers may call Get concurrently
// and must each observe the fully-inserted tree.
func TestConcurrentGetAfterSortedInsertsAgreesWithSequentialReads(t *testing.T) {
	tree := newUint64Tree(t, 8)

	const n = 2000
	for i := uint64(0); i < n; i++ {
		if _, _, err := tree.Insert(i, i*3); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	const readers = 16
	var wg sync.WaitGroup
	errs := make(chan error, readers)

	for g := 0; g < readers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := uint64(0); i < n; i++ {
				k := (i + uint64(g)*37) % n
				v, ok, err := tree.Get(k)
				if err != nil {
					errs <- err
					return
				}
				if !ok || v != k*3 {
					errs <- fmt.Errorf("Get(%d) = (%d, %v), want (%d, true)", k, v, ok, k*3)
					return
				}
			}
			errs <- nil
		}(g)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Get: %v", err)
		}
	}
}

func TestMinimalOrderForcesManySplits(t *testing.T) {
	tree := newUint64Tree(t, 2)

	for i := uint64(0); i < 500; i++ {
		if _, _, err := tree.Insert(i, i*2); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	if tree.Len() != 500 {
		t.Fatalf("Len() = %d, want 500", tree.Len())
	}

	for i := uint64(0); i < 500; i++ {
		v, ok, err := tree.Get(i)
		if err != nil || !ok || v != i*2 {
			t.Fatalf("Get(%d) = (%d, %v, %v), want (%d, true, nil)", i, v, ok, err, i*2)
		}
	}
}
