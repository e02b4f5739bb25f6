package histogram

import "testing"

func TestIncrementAndTotalCount(t *testing.T) {
	h := New()
	h.Increment(5, 3)
	h.Increment(-5, 2)
	h.Increment(5, 1)

	if got := h.TotalCount(); got != 6 {
		t.Fatalf("TotalCount() = %d, want 6", got)
	}
	if got := h.RangeCount(RangeI64{Min: 5, Max: 5}); got != 4 {
		t.Fatalf("RangeCount(5,5) = %d, want 4", got)
	}
	if got := h.RangeCount(RangeI64{Min: -5, Max: -5}); got != 2 {
		t.Fatalf("RangeCount(-5,-5) = %d, want 2", got)
	}
}

func TestMinMaxKeyAcrossSignBoundary(t *testing.T) {
	h := New()
	for _, k := range []int64{-100, -1, 0, 1, 100} {
		h.Increment(k, 1)
	}
	min, ok := h.MinKey()
	if !ok || min != -100 {
		t.Fatalf("MinKey() = (%d,%v), want (-100,true)", min, ok)
	}
	max, ok := h.MaxKey()
	if !ok || max != 100 {
		t.Fatalf("MaxKey() = (%d,%v), want (100,true)", max, ok)
	}
}

func TestDecrementSaturatesAndDropsEmptyEntries(t *testing.T) {
	h := New()
	h.Increment(42, 5)
	removed := h.Decrement(42, 10)
	if removed != 5 {
		t.Fatalf("Decrement removed %d, want 5 (saturated)", removed)
	}
	if h.TotalCount() != 0 {
		t.Fatalf("TotalCount() = %d, want 0 after full decrement", h.TotalCount())
	}
	if _, ok := h.MinKey(); ok {
		t.Fatalf("MinKey() found a key in an emptied histogram")
	}
}

func TestSparseToBranchPromotion(t *testing.T) {
	h := New()
	// Insert more than sparseMaxPairs distinct keys sharing a common high
	// prefix so the root sparse leaf is forced to promote to a branch.
	for i := int64(0); i < sparseMaxPairs+5; i++ {
		h.Increment(i*0x1000, 1)
	}
	if got, want := h.TotalCount(), uint64(sparseMaxPairs+5); got != want {
		t.Fatalf("TotalCount() = %d, want %d", got, want)
	}
	for i := int64(0); i < sparseMaxPairs+5; i++ {
		if got := h.RangeCount(RangeI64{Min: i * 0x1000, Max: i * 0x1000}); got != 1 {
			t.Fatalf("RangeCount for key %d = %d, want 1", i*0x1000, got)
		}
	}
}

func TestRemoveRange(t *testing.T) {
	h := New()
	for i := int64(0); i < 20; i++ {
		h.Increment(i, 1)
	}
	removed := h.Remove(RangeI64{Min: 5, Max: 14})
	if removed != 10 {
		t.Fatalf("Remove removed %d, want 10", removed)
	}
	if got := h.TotalCount(); got != 10 {
		t.Fatalf("TotalCount() after Remove = %d, want 10", got)
	}
	if got := h.RangeCount(RangeI64{Min: 5, Max: 14}); got != 0 {
		t.Fatalf("RangeCount over removed range = %d, want 0", got)
	}
}

func TestRangeIteratesAscendingAndRespectsCutoff(t *testing.T) {
	h := New()
	keys := []int64{-3, -1, 0, 2, 7}
	for _, k := range keys {
		h.Increment(k, 1)
	}

	var seen []int64
	var total uint64
	for rng, count := range h.Range(RangeI64{Min: -10, Max: 10}, 1) {
		if rng.Min != rng.Max {
			t.Fatalf("cutoff 1 emitted a multi-key range %v", rng)
		}
		seen = append(seen, rng.Min)
		total += count
	}
	if total != uint64(len(keys)) {
		t.Fatalf("Range total = %d, want %d", total, len(keys))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("Range not ascending: %v", seen)
		}
	}
}

func TestNextKeyAfterAndPrevKeyBefore(t *testing.T) {
	h := New()
	for _, k := range []int64{10, 20, 30} {
		h.Increment(k, 1)
	}
	next, ok := h.NextKeyAfter(15)
	if !ok || next != 20 {
		t.Fatalf("NextKeyAfter(15) = (%d,%v), want (20,true)", next, ok)
	}
	if _, ok := h.NextKeyAfter(30); ok {
		t.Fatalf("NextKeyAfter(30) found a key past the max")
	}
	prev, ok := h.PrevKeyBefore(25)
	if !ok || prev != 20 {
		t.Fatalf("PrevKeyBefore(25) = (%d,%v), want (20,true)", prev, ok)
	}
}

func TestRangeEarlyStop(t *testing.T) {
	h := New()
	for i := int64(0); i < 10; i++ {
		h.Increment(i, 1)
	}
	var count int
	for range h.Range(RangeI64{Min: 0, Max: 9}, 1) {
		count++
		if count == 3 {
			break
		}
	}
	if count != 3 {
		t.Fatalf("Range did not stop early: got %d iterations", count)
	}
}
