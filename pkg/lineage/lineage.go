// Package lineage is a pure functional tree over chunkid.ChunkId describing
// how each chunk in a store was derived: split off a larger incoming chunk,
// compacted from a set of ancestors, fetched from a durable manifest, or
// volatile in-memory data with no durable origin. Grounded on
// original_source/crates/store/re_chunk_store/src/lineage.rs.
package lineage

import (
	"fmt"

	"github.com/rerun-io/rerun-sub005/pkg/chunkid"
	"github.com/rerun-io/rerun-sub005/pkg/manifest"
)

// Kind discriminates the four direct-lineage origins.
type Kind uint8

const (
	// KindSplitFrom: this chunk is one of the pieces of a single split of a
	// parent chunk that exceeded a size threshold on insertion.
	KindSplitFrom Kind = iota
	// KindCompactedFrom: this chunk absorbed a set of ancestors at
	// compaction time.
	KindCompactedFrom
	// KindReferencedFrom: this chunk originated from a durable manifest and
	// can be re-fetched after eviction.
	KindReferencedFrom
	// KindVolatile: this chunk originated from in-memory insertion and is
	// unrecoverable once garbage collected.
	KindVolatile
)

func (k Kind) String() string {
	switch k {
	case KindSplitFrom:
		return "SplitFrom"
	case KindCompactedFrom:
		return "CompactedFrom"
	case KindReferencedFrom:
		return "ReferencedFrom"
	case KindVolatile:
		return "Volatile"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// DirectLineage records exactly one origin for one chunk id. Only the fields
// relevant to Kind are populated; the rest are zero.
type DirectLineage struct {
	Kind Kind

	// KindSplitFrom
	SplitParent   chunkid.ChunkId
	SplitSiblings []chunkid.ChunkId

	// KindCompactedFrom
	CompactedAncestors []chunkid.ChunkId

	// KindReferencedFrom
	Manifest manifest.ID
}

// Report is the strong-reference form of DirectLineage emitted through the
// store-event stream, so subscribers can never observe a lineage entry that
// points at a chunk already reclaimed. Ancestors/Siblings hold the full
// chunk payload (via the generic pointer type T supplied by the caller,
// typically *chunk.Chunk) rather than bare ids.
type Report[T any] struct {
	Kind Kind

	SplitParent   T
	SplitSiblings []T

	CompactedAncestors []T

	Manifest manifest.ID
}

// SplitFrom builds a DirectLineage for a chunk produced by splitting parent.
func SplitFrom(parent chunkid.ChunkId, siblings []chunkid.ChunkId) DirectLineage {
	return DirectLineage{Kind: KindSplitFrom, SplitParent: parent, SplitSiblings: siblings}
}

// CompactedFrom builds a DirectLineage for a chunk produced by compacting ancestors.
func CompactedFrom(ancestors []chunkid.ChunkId) DirectLineage {
	out := append([]chunkid.ChunkId(nil), ancestors...)
	return DirectLineage{Kind: KindCompactedFrom, CompactedAncestors: out}
}

// ReferencedFrom builds a DirectLineage for a chunk re-fetchable from m.
func ReferencedFrom(m manifest.ID) DirectLineage {
	return DirectLineage{Kind: KindReferencedFrom, Manifest: m}
}

// Volatile builds a DirectLineage for in-memory-only data.
func Volatile() DirectLineage {
	return DirectLineage{Kind: KindVolatile}
}

// InvariantBreach is the value Tree.Record panics with when Debug is set.
// With Debug false (the default) it is never constructed; the invariant is
// assumed to hold as a precondition of the surrounding chunk store instead
// of being re-verified on every call.
type InvariantBreach struct {
	ChunkID chunkid.ChunkId
	Reason  string
}

func (e *InvariantBreach) Error() string {
	return fmt.Sprintf("lineage invariant breach for %s: %s", e.ChunkID, e.Reason)
}

// Debug gates InvariantBreach panics, mirroring a debug_assert!: set to true
// in tests that want to catch lineage corruption immediately instead of
// letting the store limp along in an inconsistent state.
var Debug = false

// Tree is a pure functional map from ChunkId to its DirectLineage, plus the
// two auxiliary lookup tables the chunk store needs to answer "what now
// represents this logical chunk id" once the id itself is no longer
// physically present: dangling_splits (original -> still-indexed children)
// and leaky_compactions (absorbed ancestor -> surviving physical chunk).
type Tree struct {
	direct           map[chunkid.ChunkId]DirectLineage
	danglingSplits   map[chunkid.ChunkId][]chunkid.ChunkId
	leakyCompactions map[chunkid.ChunkId]chunkid.ChunkId
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{
		direct:           make(map[chunkid.ChunkId]DirectLineage),
		danglingSplits:   make(map[chunkid.ChunkId][]chunkid.ChunkId),
		leakyCompactions: make(map[chunkid.ChunkId]chunkid.ChunkId),
	}
}

// Record sets the DirectLineage for id. When Debug is enabled it panics if a
// SplitFrom or CompactedFrom entry's representative parent (the split
// parent, or the first compacted ancestor) already descends from a split;
// other ancestors of a compaction are not checked.
func (t *Tree) Record(id chunkid.ChunkId, l DirectLineage) {
	if Debug {
		if l.Kind == KindSplitFrom || l.Kind == KindCompactedFrom {
			if t.DescendsFromASplit(l.parentsOf()) {
				panic(&InvariantBreach{ChunkID: id, Reason: "split is terminal: parent already descends from a split"})
			}
		}
	}
	t.direct[id] = l
}

// parentsOf returns the immediate ancestor ids this lineage entry names, used
// only for the debug invariant check above (a single representative id is
// enough since DescendsFromASplit walks the whole ancestry).
func (l DirectLineage) parentsOf() chunkid.ChunkId {
	switch l.Kind {
	case KindSplitFrom:
		return l.SplitParent
	case KindCompactedFrom:
		if len(l.CompactedAncestors) > 0 {
			return l.CompactedAncestors[0]
		}
	}
	return chunkid.Nil
}

// Forget removes id's direct lineage entry. The entry is intentionally kept
// when a chunk is merely superseded by compaction (spec: "replaced ancestors
// are immediately dropped from chunks_per_chunk_id but their lineage entries
// remain") — callers only call Forget for true garbage collection.
func (t *Tree) Forget(id chunkid.ChunkId) {
	delete(t.direct, id)
}

// DirectLineageOf returns id's recorded lineage, if any.
func (t *Tree) DirectLineageOf(id chunkid.ChunkId) (DirectLineage, bool) {
	l, ok := t.direct[id]
	return l, ok
}

// IsRootChunk reports whether id has no recorded lineage, or has
// ReferencedFrom/Volatile lineage (spec: "root chunks have lineage
// ReferencedFrom or Volatile").
func (t *Tree) IsRootChunk(id chunkid.ChunkId) bool {
	l, ok := t.direct[id]
	if !ok {
		return true
	}
	return l.Kind == KindReferencedFrom || l.Kind == KindVolatile
}

// DescendsFromASplit reports whether any ancestor in id's lineage chain is a
// SplitFrom entry.
func (t *Tree) DescendsFromASplit(id chunkid.ChunkId) bool {
	return t.walkAncestryFor(id, KindSplitFrom)
}

// DescendsFromACompaction reports whether any ancestor in id's lineage chain
// is a CompactedFrom entry. Mutually exclusive with DescendsFromASplit by
// the "split is terminal" invariant.
func (t *Tree) DescendsFromACompaction(id chunkid.ChunkId) bool {
	return t.walkAncestryFor(id, KindCompactedFrom)
}

func (t *Tree) walkAncestryFor(id chunkid.ChunkId, want Kind) bool {
	visited := make(map[chunkid.ChunkId]bool)
	var walk func(chunkid.ChunkId) bool
	walk = func(cur chunkid.ChunkId) bool {
		if visited[cur] {
			return false
		}
		visited[cur] = true
		l, ok := t.direct[cur]
		if !ok {
			return false
		}
		if l.Kind == want {
			return true
		}
		switch l.Kind {
		case KindSplitFrom:
			return walk(l.SplitParent)
		case KindCompactedFrom:
			for _, a := range l.CompactedAncestors {
				if walk(a) {
					return true
				}
			}
		}
		return false
	}
	return walk(id)
}

// FindRootChunks returns the roots of id's lineage DAG regardless of origin
// kind. A chunk can have more than one root after compaction merges
// independent ancestries.
func (t *Tree) FindRootChunks(id chunkid.ChunkId) []chunkid.ChunkId {
	seen := make(map[chunkid.ChunkId]bool)
	var roots []chunkid.ChunkId
	var walk func(chunkid.ChunkId)
	walk = func(cur chunkid.ChunkId) {
		if seen[cur] {
			return
		}
		seen[cur] = true
		l, ok := t.direct[cur]
		if !ok {
			roots = append(roots, cur)
			return
		}
		switch l.Kind {
		case KindSplitFrom:
			walk(l.SplitParent)
		case KindCompactedFrom:
			for _, a := range l.CompactedAncestors {
				walk(a)
			}
		case KindReferencedFrom, KindVolatile:
			roots = append(roots, cur)
		}
	}
	walk(id)
	return roots
}

// RootManifest pairs a root chunk id with the manifest it can be re-fetched
// from.
type RootManifest struct {
	ChunkID  chunkid.ChunkId
	Manifest manifest.ID
}

// FindRootManifests returns only the roots of id's lineage whose data is
// durably re-fetchable (KindReferencedFrom), skipping Volatile roots.
func (t *Tree) FindRootManifests(id chunkid.ChunkId) []RootManifest {
	var out []RootManifest
	for _, root := range t.FindRootChunks(id) {
		l, ok := t.direct[root]
		if ok && l.Kind == KindReferencedFrom {
			out = append(out, RootManifest{ChunkID: root, Manifest: l.Manifest})
		}
	}
	return out
}

// RecordDanglingSplit remembers that the surviving children of original's
// split are still partially indexed, keyed by the original pre-split parent
// id, so a later re-insertion of original can clean them up first.
func (t *Tree) RecordDanglingSplit(original chunkid.ChunkId, survivingChild chunkid.ChunkId) {
	existing := t.danglingSplits[original]
	for _, c := range existing {
		if c == survivingChild {
			return
		}
	}
	t.danglingSplits[original] = append(existing, survivingChild)
}

// TakeDanglingSplits returns and clears the set of still-indexed split
// children recorded against original, if any.
func (t *Tree) TakeDanglingSplits(original chunkid.ChunkId) []chunkid.ChunkId {
	children := t.danglingSplits[original]
	delete(t.danglingSplits, original)
	return children
}

// RecordLeakyCompaction remembers that absorbed (a chunk dropped from the
// physical index by compaction) is now represented by survivor.
func (t *Tree) RecordLeakyCompaction(absorbed, survivor chunkid.ChunkId) {
	t.leakyCompactions[absorbed] = survivor
}

// CollectPhysicalDescendantsOf walks dangling_splits and leaky_compactions to
// answer "for this logical chunk id which is no longer physically present,
// which physical chunk(s) now represent its data?", appending results to out
// and returning the extended slice.
func (t *Tree) CollectPhysicalDescendantsOf(id chunkid.ChunkId, out []chunkid.ChunkId) []chunkid.ChunkId {
	if children, ok := t.danglingSplits[id]; ok {
		out = append(out, children...)
	}
	if survivor, ok := t.leakyCompactions[id]; ok {
		out = t.CollectPhysicalDescendantsOf(survivor, append(out, survivor))
	}
	return out
}

// PurgeStaleEntries drops lineage, dangling-split, and leaky-compaction
// entries whose referenced chunk id is not in present. Used by
// perform_deep_deletions GC passes.
func (t *Tree) PurgeStaleEntries(present map[chunkid.ChunkId]bool) {
	for id := range t.direct {
		if !present[id] {
			delete(t.direct, id)
		}
	}
	for original, children := range t.danglingSplits {
		kept := children[:0]
		for _, c := range children {
			if present[c] {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(t.danglingSplits, original)
		} else {
			t.danglingSplits[original] = kept
		}
	}
	for absorbed, survivor := range t.leakyCompactions {
		if !present[survivor] {
			delete(t.leakyCompactions, absorbed)
		}
	}
}

// BuildReport materializes id's DirectLineage into a strong-ref Report,
// resolving each referenced chunk id to its payload via resolve. resolve
// must return ok=false only for ids that are genuinely gone, which should
// never happen for a lineage report built in the same critical section as
// the index mutation it documents.
func BuildReport[T any](l DirectLineage, resolve func(chunkid.ChunkId) (T, bool)) Report[T] {
	r := Report[T]{Kind: l.Kind, Manifest: l.Manifest}
	if l.Kind == KindSplitFrom {
		if v, ok := resolve(l.SplitParent); ok {
			r.SplitParent = v
		}
		for _, sib := range l.SplitSiblings {
			if v, ok := resolve(sib); ok {
				r.SplitSiblings = append(r.SplitSiblings, v)
			}
		}
	}
	if l.Kind == KindCompactedFrom {
		for _, a := range l.CompactedAncestors {
			if v, ok := resolve(a); ok {
				r.CompactedAncestors = append(r.CompactedAncestors, v)
			}
		}
	}
	return r
}
