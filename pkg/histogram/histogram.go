// Package histogram implements a signed 64-bit integer histogram backed by a
// radix-16 trie, used to serve dense per-entity "data density" queries at
// interactive rates (spec.md §3.5/§4.5). Grounded directly on
// original_source/crates/utils/re_int_histogram/src/tree.rs.
package histogram

import "iter"

// RangeI64 is an inclusive-exclusive-agnostic range helper used for queries;
// Min and Max are both inclusive, matching spec.md's range-count semantics.
type RangeI64 struct {
	Min int64
	Max int64
}

// Contains reports whether key falls within [r.Min, r.Max].
func (r RangeI64) Contains(key int64) bool {
	return key >= r.Min && key <= r.Max
}

const nibbleBits = 4
const levels = 64 / nibbleBits // 16 levels of 4 bits each
const sparseMaxPairs = 32
const denseSlots = 16

// flip maps a signed key to an unsigned key while preserving numerical
// ordering, by inverting the sign bit. Two's-complement negative numbers
// then sort before non-negative numbers under plain unsigned comparison.
func flip(k int64) uint64 {
	return uint64(k) ^ (1 << 63)
}

func unflip(k uint64) int64 {
	return int64(k ^ (1 << 63))
}

type nodeKind uint8

const (
	kindBranch nodeKind = iota
	kindSparse
	kindDense
)

type entry struct {
	key   uint64
	count uint64
}

// node is a tagged union over the three node kinds spec.md §3.5 names. Using
// one struct with a kind tag (rather than an interface per kind) keeps the
// hot increment/decrement path allocation-free except at actual growth
// points, mirroring how the teacher's fixed-size Bucket/RoutingTable arrays
// avoid per-call boxing.
type node struct {
	kind  nodeKind
	total uint64

	children [16]*node  // kindBranch
	entries  []entry    // kindSparse
	counts   [16]uint64 // kindDense
}

func maskBits(n uint) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	if n == 0 {
		return 0
	}
	return (uint64(1) << n) - 1
}

// freeBits returns how many low bits are still unresolved for a node at the
// given depth (0 = root, levels = single key).
func freeBits(depth int) uint {
	return uint(64 - depth*nibbleBits)
}

func nibbleAt(key uint64, depth int) int {
	shift := freeBits(depth) - nibbleBits
	return int((key >> shift) & 0xF)
}

// Histogram maps int64 -> uint64 count. The zero value is an empty, usable
// histogram. Not safe for concurrent use without external synchronization —
// spec.md's concurrency model has exactly one writer per owning chunk store.
type Histogram struct {
	root *node
}

// New returns an empty Histogram.
func New() *Histogram { return &Histogram{} }

// Increment adds delta to the count at key, creating the entry if absent.
func (h *Histogram) Increment(key int64, delta uint64) {
	if delta == 0 {
		return
	}
	h.root = insert(h.root, 0, flip(key), delta)
}

func insert(n *node, depth int, key uint64, delta uint64) *node {
	if depth == levels {
		// Degenerate: a levels-deep node would cover a single key; represent
		// it as a 1-entry dense node for uniformity with its siblings.
		if n == nil {
			n = &node{kind: kindDense}
		}
		n.counts[0] += delta
		n.total += delta
		return n
	}
	if depth == levels-1 {
		nib := nibbleAt(key, depth)
		if n == nil {
			n = &node{kind: kindDense}
		}
		n.counts[nib] += delta
		n.total += delta
		return n
	}

	if n == nil {
		return &node{kind: kindSparse, entries: []entry{{key: key, count: delta}}, total: delta}
	}

	switch n.kind {
	case kindBranch:
		nib := nibbleAt(key, depth)
		n.children[nib] = insert(n.children[nib], depth+1, key, delta)
		n.total += delta
		return n

	case kindSparse:
		for i := range n.entries {
			if n.entries[i].key == key {
				n.entries[i].count += delta
				n.total += delta
				return n
			}
		}
		if len(n.entries) < sparseMaxPairs {
			n.entries = append(n.entries, entry{key: key, count: delta})
			n.total += delta
			return n
		}
		// Promote to a branch and reinsert everything, including the new key.
		b := &node{kind: kindBranch}
		for _, e := range n.entries {
			nib := nibbleAt(e.key, depth)
			b.children[nib] = insert(b.children[nib], depth+1, e.key, e.count)
		}
		b.total = n.total
		nib := nibbleAt(key, depth)
		b.children[nib] = insert(b.children[nib], depth+1, key, delta)
		b.total += delta
		return b

	default:
		panic("histogram: unexpected node kind above leaf level")
	}
}

// Decrement removes up to delta from the count at key, saturating at zero,
// and returns how much was actually removed. Nodes that become fully empty
// are dropped from the trie.
func (h *Histogram) Decrement(key int64, delta uint64) uint64 {
	if delta == 0 {
		return 0
	}
	newRoot, removed := remove(h.root, 0, flip(key), delta)
	h.root = newRoot
	return removed
}

func remove(n *node, depth int, key uint64, delta uint64) (*node, uint64) {
	if n == nil {
		return nil, 0
	}

	if depth >= levels-1 {
		nib := 0
		if depth == levels-1 {
			nib = nibbleAt(key, depth)
		}
		have := n.counts[nib]
		removed := delta
		if removed > have {
			removed = have
		}
		n.counts[nib] -= removed
		n.total -= removed
		if n.total == 0 {
			return nil, removed
		}
		return n, removed
	}

	switch n.kind {
	case kindBranch:
		nib := nibbleAt(key, depth)
		child, removed := remove(n.children[nib], depth+1, key, delta)
		n.children[nib] = child
		n.total -= removed
		if n.total == 0 {
			return nil, removed
		}
		return n, removed

	case kindSparse:
		for i := range n.entries {
			if n.entries[i].key != key {
				continue
			}
			have := n.entries[i].count
			removed := delta
			if removed > have {
				removed = have
			}
			n.entries[i].count -= removed
			n.total -= removed
			if n.entries[i].count == 0 {
				n.entries = append(n.entries[:i], n.entries[i+1:]...)
			}
			if n.total == 0 {
				return nil, removed
			}
			return n, removed
		}
		return n, 0

	default:
		return n, 0
	}
}

// TotalCount returns the sum of all counts in the histogram.
func (h *Histogram) TotalCount() uint64 {
	if h.root == nil {
		return 0
	}
	return h.root.total
}

// MinKey returns the smallest key with a non-zero count, or false if empty.
func (h *Histogram) MinKey() (int64, bool) {
	if h.root == nil {
		return 0, false
	}
	k, ok := minKey(h.root, 0)
	if !ok {
		return 0, false
	}
	return unflip(k), true
}

func minKey(n *node, depth int) (uint64, bool) {
	switch n.kind {
	case kindBranch:
		for nib, c := range n.children {
			if c != nil {
				k, ok := minKey(c, depth+1)
				if ok {
					return withNibblePrefix(k, depth, nib), true
				}
			}
		}
		return 0, false
	case kindSparse:
		if len(n.entries) == 0 {
			return 0, false
		}
		best := n.entries[0].key
		for _, e := range n.entries[1:] {
			if e.key < best {
				best = e.key
			}
		}
		return best, true
	case kindDense:
		for nib, c := range n.counts {
			if c > 0 {
				if depth == levels-1 {
					return withNibblePrefix(0, depth, nib), true
				}
				return 0, true // degenerate single-key dense node
			}
		}
		return 0, false
	}
	return 0, false
}

// withNibblePrefix is a helper used only for the dense/branch leaf case: the
// sub-key returned by a child at depth+1 already carries its own low bits; we
// only need to stitch the chosen nibble for dense leaves whose sub-key is 0.
func withNibblePrefix(subKey uint64, parentDepth int, nibble int) uint64 {
	shift := freeBits(parentDepth) - nibbleBits
	return subKey | (uint64(nibble) << shift)
}

// MaxKey returns the largest key with a non-zero count, or false if empty.
func (h *Histogram) MaxKey() (int64, bool) {
	if h.root == nil {
		return 0, false
	}
	k, ok := maxKey(h.root, 0)
	if !ok {
		return 0, false
	}
	return unflip(k), true
}

func maxKey(n *node, depth int) (uint64, bool) {
	switch n.kind {
	case kindBranch:
		for nib := 15; nib >= 0; nib-- {
			c := n.children[nib]
			if c != nil {
				k, ok := maxKey(c, depth+1)
				if ok {
					return withNibblePrefix(k, depth, nib), true
				}
			}
		}
		return 0, false
	case kindSparse:
		if len(n.entries) == 0 {
			return 0, false
		}
		best := n.entries[0].key
		for _, e := range n.entries[1:] {
			if e.key > best {
				best = e.key
			}
		}
		return best, true
	case kindDense:
		for nib := 15; nib >= 0; nib-- {
			if n.counts[nib] > 0 {
				return withNibblePrefix(0, depth, nib), true
			}
		}
		return 0, false
	}
	return 0, false
}

// RangeCount returns the sum of counts with keys in [r.Min, r.Max].
func (h *Histogram) RangeCount(r RangeI64) uint64 {
	if h.root == nil {
		return 0
	}
	lo, hi := flip(r.Min), flip(r.Max)
	return rangeCount(h.root, 0, 0, lo, hi)
}

func rangeCount(n *node, depth int, prefix uint64, lo, hi uint64) uint64 {
	nodeLo, nodeHi := prefix, prefix|maskBits(freeBits(depth))
	if nodeHi < lo || nodeLo > hi {
		return 0
	}
	if nodeLo >= lo && nodeHi <= hi {
		return n.total
	}
	switch n.kind {
	case kindBranch:
		var sum uint64
		for nib, c := range n.children {
			if c == nil {
				continue
			}
			childPrefix := prefix | (uint64(nib) << (freeBits(depth) - nibbleBits))
			sum += rangeCount(c, depth+1, childPrefix, lo, hi)
		}
		return sum
	case kindSparse:
		var sum uint64
		for _, e := range n.entries {
			if e.key >= lo && e.key <= hi {
				sum += e.count
			}
		}
		return sum
	case kindDense:
		var sum uint64
		for nib, c := range n.counts {
			key := prefix | uint64(nib)
			if key >= lo && key <= hi {
				sum += c
			}
		}
		return sum
	}
	return 0
}

// Remove bulk-deletes every key in [r.Min, r.Max], short-circuiting over
// whole branch subtrees that are fully contained in the delete range.
func (h *Histogram) Remove(r RangeI64) uint64 {
	if h.root == nil {
		return 0
	}
	newRoot, removed := removeRange(h.root, 0, 0, flip(r.Min), flip(r.Max))
	h.root = newRoot
	return removed
}

func removeRange(n *node, depth int, prefix uint64, lo, hi uint64) (*node, uint64) {
	nodeLo, nodeHi := prefix, prefix|maskBits(freeBits(depth))
	if nodeHi < lo || nodeLo > hi {
		return n, 0
	}
	if nodeLo >= lo && nodeHi <= hi {
		return nil, n.total
	}
	switch n.kind {
	case kindBranch:
		var removed uint64
		for nib, c := range n.children {
			if c == nil {
				continue
			}
			childPrefix := prefix | (uint64(nib) << (freeBits(depth) - nibbleBits))
			newChild, r := removeRange(c, depth+1, childPrefix, lo, hi)
			n.children[nib] = newChild
			removed += r
		}
		n.total -= removed
		if n.total == 0 {
			return nil, removed
		}
		return n, removed
	case kindSparse:
		var removed uint64
		kept := n.entries[:0]
		for _, e := range n.entries {
			if e.key >= lo && e.key <= hi {
				removed += e.count
				continue
			}
			kept = append(kept, e)
		}
		n.entries = kept
		n.total -= removed
		if n.total == 0 {
			return nil, removed
		}
		return n, removed
	case kindDense:
		var removed uint64
		for nib := range n.counts {
			key := prefix | uint64(nib)
			if key >= lo && key <= hi {
				removed += n.counts[nib]
				n.counts[nib] = 0
			}
		}
		n.total -= removed
		if n.total == 0 {
			return nil, removed
		}
		return n, removed
	}
	return n, 0
}

// Range iterates [r.Min, r.Max] in ascending key order. Whenever a sub-tree
// is fully contained in the query range and its key-width is at most
// cutoffSize, the whole sub-tree is emitted as a single (range, count) pair
// instead of being descended into — trading resolution for iteration cost,
// exactly as spec.md §4.5 describes. The returned sequence is finite,
// single-pass, and restartable (a fresh call with the same arguments against
// an unchanged histogram produces the same sequence).
func (h *Histogram) Range(r RangeI64, cutoffSize uint64) iter.Seq2[RangeI64, uint64] {
	return func(yield func(RangeI64, uint64) bool) {
		if h.root == nil {
			return
		}
		lo, hi := flip(r.Min), flip(r.Max)
		walkRange(h.root, 0, 0, lo, hi, cutoffSize, yield)
	}
}

func walkRange(n *node, depth int, prefix uint64, lo, hi uint64, cutoffSize uint64, yield func(RangeI64, uint64) bool) bool {
	nodeLo, nodeHi := prefix, prefix|maskBits(freeBits(depth))
	if nodeHi < lo || nodeLo > hi {
		return true
	}
	width := nodeHi - nodeLo + 1
	if nodeLo >= lo && nodeHi <= hi && (cutoffSize >= width || width == 0) {
		return yield(RangeI64{Min: unflip(nodeLo), Max: unflip(nodeHi)}, n.total)
	}
	switch n.kind {
	case kindBranch:
		for nib, c := range n.children {
			if c == nil {
				continue
			}
			childPrefix := prefix | (uint64(nib) << (freeBits(depth) - nibbleBits))
			if !walkRange(c, depth+1, childPrefix, lo, hi, cutoffSize, yield) {
				return false
			}
		}
		return true
	case kindSparse:
		entries := append([]entry(nil), n.entries...)
		for i := 0; i < len(entries); i++ {
			for j := i + 1; j < len(entries); j++ {
				if entries[j].key < entries[i].key {
					entries[i], entries[j] = entries[j], entries[i]
				}
			}
		}
		for _, e := range entries {
			if e.key < lo || e.key > hi {
				continue
			}
			if !yield(RangeI64{Min: unflip(e.key), Max: unflip(e.key)}, e.count) {
				return false
			}
		}
		return true
	case kindDense:
		for nib, c := range n.counts {
			if c == 0 {
				continue
			}
			key := prefix | uint64(nib)
			if key < lo || key > hi {
				continue
			}
			if !yield(RangeI64{Min: unflip(key), Max: unflip(key)}, c) {
				return false
			}
		}
		return true
	}
	return true
}

// NextKeyAfter returns the smallest present key strictly greater than time,
// or false if none exists.
func (h *Histogram) NextKeyAfter(time int64) (int64, bool) {
	if h.root == nil {
		return 0, false
	}
	maxKey, ok := h.MaxKey()
	if !ok || time >= maxKey {
		return 0, false
	}
	var found int64
	haveFound := false
	for rng, count := range h.Range(RangeI64{Min: time + 1, Max: int64(MaxRawKey)}, 1) {
		if count == 0 {
			continue
		}
		found = rng.Min
		haveFound = true
		break
	}
	return found, haveFound
}

// MaxRawKey is the largest representable key (math.MaxInt64), exposed so
// callers building range queries against NextKeyAfter/PrevKeyBefore don't
// need to import math just for this histogram's sentinel.
const MaxRawKey int64 = 1<<63 - 1

// MinRawKey is the smallest representable key (math.MinInt64).
const MinRawKey int64 = -1 << 63

// PrevKeyBefore returns the largest present key strictly less than time, or
// false if none exists. Uses MaxKey as a fast path when time is already past
// every key; otherwise iterates with a coarse cutoff to find the last
// non-empty range below time, then re-walks that range at cutoff 1 to
// resolve its largest real key (a coalesced range's endpoints are sub-tree
// bounds, not necessarily keys).
func (h *Histogram) PrevKeyBefore(time int64) (int64, bool) {
	if h.root == nil {
		return 0, false
	}
	if mx, ok := h.MaxKey(); ok && time > mx {
		return mx, true
	}
	var lastMax int64
	found := false
	for rng := range h.Range(RangeI64{Min: MinRawKey, Max: time - 1}, 1024) {
		lastMax = rng.Min
		found = true
		_ = rng
	}
	// re-walk keeping the true max of the final emitted range (cutoff>1 can
	// emit coalesced multi-key ranges; we want their Max, not Min).
	found = false
	var lastMin int64
	for rng, count := range h.Range(RangeI64{Min: MinRawKey, Max: time - 1}, 1024) {
		if count == 0 {
			continue
		}
		lastMin, lastMax = rng.Min, rng.Max
		found = true
	}
	if found {
		for rng, count := range h.Range(RangeI64{Min: lastMin, Max: lastMax}, 1) {
			if count > 0 {
				lastMax = rng.Max
			}
		}
	}
	return lastMax, found
}
