package storehub

import (
	"sync"

	"github.com/rerun-io/rerun-sub005/pkg/chunkid"
	"github.com/rerun-io/rerun-sub005/pkg/timeline"
)

// UndoWatermark is one entry in a BlueprintHistory: the set of chunks live
// at the moment an undo point was recorded, and the blueprint-timeline time
// that point corresponds to.
type UndoWatermark struct {
	At       timeline.Int
	ChunkIDs map[chunkid.ChunkId]bool
}

// BlueprintHistory is a ring of undo watermarks for one blueprint store.
// SPEC_FULL.md supplements spec.md §4.6's "per-blueprint undo history" with
// this explicit shape: original_source's BlueprintUndoState only exposes
// oldest_undo_point() and never says how it's populated, so we record both
// the time and the live chunk set at push time — the chunk set lets a
// caller (not yet needed by GCBlueprints itself) sanity-check that an undo
// target is still reachable before attempting to restore it.
type BlueprintHistory struct {
	mu       sync.Mutex
	capacity int
	entries  []UndoWatermark
}

// NewBlueprintHistory returns an empty history retaining at most capacity
// watermarks.
func NewBlueprintHistory(capacity int) *BlueprintHistory {
	if capacity <= 0 {
		capacity = DefaultUndoHistoryCapacity
	}
	return &BlueprintHistory{capacity: capacity}
}

// Push records a new undo point, evicting the oldest entry if the ring is
// already at capacity.
func (h *BlueprintHistory) Push(at timeline.Int, liveChunks []chunkid.ChunkId) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make(map[chunkid.ChunkId]bool, len(liveChunks))
	for _, id := range liveChunks {
		ids[id] = true
	}
	h.entries = append(h.entries, UndoWatermark{At: at, ChunkIDs: ids})
	if len(h.entries) > h.capacity {
		h.entries = h.entries[len(h.entries)-h.capacity:]
	}
}

// OldestUndoPoint returns the time of the oldest retained watermark, the
// earliest point GCBlueprints must keep reachable. ok is false for an empty
// history.
func (h *BlueprintHistory) OldestUndoPoint() (at timeline.Int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return 0, false
	}
	return h.entries[0].At, true
}

// Len reports how many watermarks are currently retained.
func (h *BlueprintHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
