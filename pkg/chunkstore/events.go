package chunkstore

import (
	"github.com/rerun-io/rerun-sub005/pkg/chunk"
	"github.com/rerun-io/rerun-sub005/pkg/lineage"
)

// DiffKind discriminates the two store-event shapes.
type DiffKind uint8

const (
	// DiffAddition: a chunk was inserted into the indices, possibly after
	// splitting or compaction reshaped the caller's input.
	DiffAddition DiffKind = iota
	// DiffDeletion: a chunk was removed from the indices (GC, compaction
	// superseding an ancestor, or dangling-split cleanup).
	DiffDeletion
)

func (k DiffKind) String() string {
	if k == DiffAddition {
		return "Addition"
	}
	return "Deletion"
}

// Diff is the payload of one store Event.
type Diff struct {
	Kind DiffKind

	// ChunkBeforeProcessing is set only for DiffAddition when splitting or
	// compaction changed the chunk the caller actually passed in; nil
	// otherwise (including for DiffDeletion).
	ChunkBeforeProcessing *chunk.Chunk

	// Chunk is the chunk now indexed (Addition) or removed (Deletion).
	Chunk *chunk.Chunk

	// Lineage is the strong-ref lineage report for Chunk, so subscribers can
	// never observe a lineage entry pointing at data already reclaimed.
	Lineage lineage.Report[*chunk.Chunk]
}

// Event is one entry in a store's totally-ordered event stream.
type Event struct {
	StoreID    string
	Generation uint64
	EventID    uint64
	Diff       Diff
}

// Subscriber receives a batch of events produced by a single mutating call,
// in order, synchronously, before that call returns.
type Subscriber func(events []Event)
