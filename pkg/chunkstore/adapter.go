package chunkstore

import (
	"github.com/rerun-io/rerun-sub005/pkg/chunk"
	"github.com/rerun-io/rerun-sub005/pkg/chunkid"
	"github.com/rerun-io/rerun-sub005/pkg/component"
	"github.com/rerun-io/rerun-sub005/pkg/entitypath"
	"github.com/rerun-io/rerun-sub005/pkg/timeline"
)

// Adapter exposes a Store's indices through the narrow read-only surface
// pkg/query needs, so the query engine can depend on an interface rather
// than the full Store type. Readers take the store's lock only for the
// duration of the index lookup (spec.md §5: queries never block each other
// beyond that).
type Adapter struct {
	store *Store
}

// NewAdapter wraps s for use as a query.Store.
func NewAdapter(s *Store) *Adapter { return &Adapter{store: s} }

// StaticChunkFor returns the chunk id currently indexed as the static value
// of (ep, d), if any.
func (a *Adapter) StaticChunkFor(ep entitypath.Path, d component.Descriptor) (chunkid.ChunkId, bool) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	byComponent, ok := a.store.staticIndex[ep]
	if !ok {
		return chunkid.Nil, false
	}
	id, ok := byComponent[d]
	return id, ok
}

// TemporalCandidatesForLatestAt resolves the coarse latest-at candidate set
// for (ep, tl, d) per spec.md §4.2.
func (a *Adapter) TemporalCandidatesForLatestAt(ep entitypath.Path, tl timeline.Name, d component.Descriptor, at timeline.Int) []chunkid.ChunkId {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	set := a.store.columnSetLocked(ep, tl, d)
	if set == nil {
		return nil
	}
	return set.ChunksForLatestAt(at)
}

// TemporalCandidatesForRange resolves the coarse range candidate set for
// (ep, tl, d) per spec.md §4.2.
func (a *Adapter) TemporalCandidatesForRange(ep entitypath.Path, tl timeline.Name, d component.Descriptor, min, max timeline.Int) []chunkid.ChunkId {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	set := a.store.columnSetLocked(ep, tl, d)
	if set == nil {
		return nil
	}
	return set.ChunksForRange(min, max)
}

// ComponentsOn returns every component descriptor ep carries data for,
// across both the static and every timeline's temporal index.
func (a *Adapter) ComponentsOn(ep entitypath.Path) []component.Descriptor {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	seen := map[component.Descriptor]bool{}
	var out []component.Descriptor
	for d := range a.store.staticIndex[ep] {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	for _, byComponent := range a.store.temporalColumn[ep] {
		for d := range byComponent {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	return out
}

// ChunksByID delegates to the underlying Store.
func (a *Adapter) ChunksByID(id chunkid.ChunkId) (*chunk.Chunk, bool) {
	return a.store.ChunksByID(id)
}

func (s *Store) columnSetLocked(ep entitypath.Path, tl timeline.Name, d component.Descriptor) *ChunkIdSetPerTime {
	byTimeline, ok := s.temporalColumn[ep]
	if !ok {
		return nil
	}
	byComponent, ok := byTimeline[tl]
	if !ok {
		return nil
	}
	return byComponent[d]
}
