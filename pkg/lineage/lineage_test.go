package lineage

import (
	"testing"

	"github.com/rerun-io/rerun-sub005/pkg/chunkid"
	"github.com/rerun-io/rerun-sub005/pkg/manifest"
)

func testManifestID(t *testing.T) manifest.ID {
	t.Helper()
	m, err := manifest.Build("store-1", "/world/car", []manifest.Segment{
		{CID: mustSegmentID(t, "seg-1"), Offset: 0, Size: 10},
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	id, err := manifest.ComputeID(m)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func mustSegmentID(t *testing.T, seed string) manifest.ID {
	t.Helper()
	seg, err := manifest.Build("store-1", "/seed", []manifest.Segment{{CID: manifest.ID{}, Offset: 0, Size: uint64(len(seed) + 1)}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	id, err := manifest.ComputeID(seg)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestIsRootChunkForUnknownAndTerminalKinds(t *testing.T) {
	tr := New()
	unknown := chunkid.ChunkId(1)
	if !tr.IsRootChunk(unknown) {
		t.Fatalf("unrecorded chunk should be treated as a root")
	}

	volatileID := chunkid.ChunkId(2)
	tr.Record(volatileID, Volatile())
	if !tr.IsRootChunk(volatileID) {
		t.Fatalf("Volatile chunk should be a root")
	}

	splitChild := chunkid.ChunkId(3)
	tr.Record(splitChild, SplitFrom(volatileID, []chunkid.ChunkId{4, 5}))
	if tr.IsRootChunk(splitChild) {
		t.Fatalf("SplitFrom chunk should not be a root")
	}
}

func TestDescendsFromASplitAndCompactionAreMutuallyExclusive(t *testing.T) {
	tr := New()
	root := chunkid.ChunkId(1)
	split := chunkid.ChunkId(2)
	compacted := chunkid.ChunkId(3)

	tr.Record(root, Volatile())
	tr.Record(split, SplitFrom(root, []chunkid.ChunkId{split}))
	tr.Record(compacted, CompactedFrom([]chunkid.ChunkId{root}))

	if !tr.DescendsFromASplit(split) || tr.DescendsFromACompaction(split) {
		t.Fatalf("split chunk should descend from a split only")
	}
	if tr.DescendsFromASplit(compacted) || !tr.DescendsFromACompaction(compacted) {
		t.Fatalf("compacted chunk should descend from a compaction only")
	}
}

func TestFindRootChunksAcrossCompactionMerge(t *testing.T) {
	tr := New()
	a := chunkid.ChunkId(1)
	b := chunkid.ChunkId(2)
	merged := chunkid.ChunkId(3)

	tr.Record(a, Volatile())
	tr.Record(b, Volatile())
	tr.Record(merged, CompactedFrom([]chunkid.ChunkId{a, b}))

	roots := tr.FindRootChunks(merged)
	if len(roots) != 2 {
		t.Fatalf("FindRootChunks(merged) = %v, want 2 roots", roots)
	}
}

func TestFindRootManifestsSkipsVolatileRoots(t *testing.T) {
	tr := New()
	referenced := chunkid.ChunkId(1)
	volatile := chunkid.ChunkId(2)
	merged := chunkid.ChunkId(3)

	m := testManifestID(t)

	tr.Record(referenced, ReferencedFrom(m))
	tr.Record(volatile, Volatile())
	tr.Record(merged, CompactedFrom([]chunkid.ChunkId{referenced, volatile}))

	got := tr.FindRootManifests(merged)
	if len(got) != 1 || got[0].ChunkID != referenced {
		t.Fatalf("FindRootManifests(merged) = %+v, want exactly referenced", got)
	}
}

func TestDanglingSplitsRecordAndTake(t *testing.T) {
	tr := New()
	original := chunkid.ChunkId(1)
	tr.RecordDanglingSplit(original, 2)
	tr.RecordDanglingSplit(original, 3)
	tr.RecordDanglingSplit(original, 2) // duplicate, should not double up

	children := tr.TakeDanglingSplits(original)
	if len(children) != 2 {
		t.Fatalf("TakeDanglingSplits = %v, want 2 entries", children)
	}
	if again := tr.TakeDanglingSplits(original); len(again) != 0 {
		t.Fatalf("TakeDanglingSplits should clear state, got %v", again)
	}
}

func TestCollectPhysicalDescendantsOfChainsLeakyCompactions(t *testing.T) {
	tr := New()
	tr.RecordLeakyCompaction(1, 2)
	tr.RecordLeakyCompaction(2, 3)

	out := tr.CollectPhysicalDescendantsOf(1, nil)
	if len(out) != 2 || out[0] != 2 || out[1] != 3 {
		t.Fatalf("CollectPhysicalDescendantsOf(1) = %v, want [2 3]", out)
	}
}

func TestPurgeStaleEntriesDropsUnreferencedChunks(t *testing.T) {
	tr := New()
	tr.Record(1, Volatile())
	tr.Record(2, SplitFrom(1, []chunkid.ChunkId{2}))
	tr.RecordDanglingSplit(1, 2)

	tr.PurgeStaleEntries(map[chunkid.ChunkId]bool{1: true})

	if _, ok := tr.DirectLineageOf(2); ok {
		t.Fatalf("lineage for absent chunk 2 should have been purged")
	}
	if children := tr.TakeDanglingSplits(1); len(children) != 0 {
		t.Fatalf("dangling split referencing absent chunk 2 should have been purged, got %v", children)
	}
}
