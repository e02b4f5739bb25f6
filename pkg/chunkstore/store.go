// Package chunkstore owns chunk storage, the static and temporal indices,
// the compaction/splitting ingest policy, garbage collection, and the
// store-event stream lineage reports travel through. Grounded on spec.md
// §3.3/§4.1 and on original_source/crates/store/re_chunk_store for the
// policy narrative; the teacher's pkg/content error-taxonomy (typed code +
// cause) and pkg/agent/supervisor.go's single-writer-serialized-mutation
// discipline shape the Go rendition.
package chunkstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rerun-io/rerun-sub005/pkg/chunk"
	"github.com/rerun-io/rerun-sub005/pkg/chunkid"
	"github.com/rerun-io/rerun-sub005/pkg/component"
	"github.com/rerun-io/rerun-sub005/pkg/entitypath"
	"github.com/rerun-io/rerun-sub005/pkg/lineage"
	"github.com/rerun-io/rerun-sub005/pkg/manifest"
	"github.com/rerun-io/rerun-sub005/pkg/timeline"
)

type minRowEntry struct {
	rowID   chunkid.RowId
	chunkID chunkid.ChunkId
}

// Store owns one chunk store's worth of chunks, indices, and lineage.
// Writers are serialized by mu (spec.md §5: "writers are serialized per
// store"); readers (queries) take the same lock only for the duration of a
// lookup, never while building the returned chunk slice, so concurrent
// query calls don't contend with each other beyond the index copy itself.
type Store struct {
	mu sync.Mutex

	id         string
	generation uint64
	nextEvent  uint64

	cfg     Config
	chunkID *chunkid.Generator

	chunksByID  map[chunkid.ChunkId]*chunk.Chunk
	minRowIndex []minRowEntry

	staticIndex    map[entitypath.Path]map[component.Descriptor]chunkid.ChunkId
	temporalColumn map[entitypath.Path]map[timeline.Name]map[component.Descriptor]*ChunkIdSetPerTime
	temporalEntity map[entitypath.Path]map[timeline.Name]*ChunkIdSetPerTime

	timeTypes *timeline.Registry
	lineage   *lineage.Tree

	subscribers []Subscriber
}

// New returns an empty Store identified by id.
func New(id string, cfg Config) *Store {
	return &Store{
		id:             id,
		cfg:            cfg,
		chunkID:        chunkid.NewGenerator(),
		chunksByID:     make(map[chunkid.ChunkId]*chunk.Chunk),
		staticIndex:    make(map[entitypath.Path]map[component.Descriptor]chunkid.ChunkId),
		temporalColumn: make(map[entitypath.Path]map[timeline.Name]map[component.Descriptor]*ChunkIdSetPerTime),
		temporalEntity: make(map[entitypath.Path]map[timeline.Name]*ChunkIdSetPerTime),
		timeTypes:      timeline.NewRegistry(),
		lineage:        lineage.New(),
	}
}

// ID returns the store's identifier.
func (s *Store) ID() string { return s.id }

// Generation returns the store's current generation counter, bumped by
// every GCEverything pass. storehub uses it to skip re-running blueprint GC
// when nothing has changed since the last pass.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// TotalSizeBytes sums SizeBytes across every chunk currently indexed.
func (s *Store) TotalSizeBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total uint64
	for _, c := range s.chunksByID {
		total += c.SizeBytes()
	}
	return total
}

// Clone copies every chunk currently indexed into a fresh store under newID,
// re-running the ordinary ingest policy for each (so the clone's splitting
// and compaction state matches what a sequence of InsertChunk calls would
// produce, not a byte-for-byte duplicate of the source's internal layout).
// Used by storehub to implement "clone the default blueprint to create an
// active one" (spec.md §4.6): blueprint clones are meant to start a fresh
// edit history, not preserve the original's lineage.
func (s *Store) Clone(newID string) (*Store, error) {
	s.mu.Lock()
	ids := make([]chunkid.ChunkId, 0, len(s.chunksByID))
	for id := range s.chunksByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	chunks := make([]*chunk.Chunk, len(ids))
	for i, id := range ids {
		chunks[i] = s.chunksByID[id]
	}
	cfg := s.cfg
	s.mu.Unlock()

	clone := New(newID, cfg)
	for _, c := range chunks {
		if _, err := clone.InsertChunk(c); err != nil {
			return nil, fmt.Errorf("chunkstore: cloning %s into %s: %w", s.id, newID, err)
		}
	}
	return clone, nil
}

// RegisterTimelineType records name's TimeType, failing if a conflicting
// type was already registered (spec.md §6.2: stable type per timeline name
// across every recording in a multi-recording input).
func (s *Store) RegisterTimelineType(name timeline.Name, t timeline.TimeType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeTypes.Register(name, t)
}

// Subscribe registers fn to receive every batch of events produced by a
// subsequent mutating call, synchronously, before that call returns. The
// returned function unsubscribes.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
	idx := len(s.subscribers) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subscribers[idx] = nil
	}
}

func (s *Store) notify(events []Event) {
	if len(events) == 0 {
		return
	}
	for _, sub := range s.subscribers {
		if sub != nil {
			sub(events)
		}
	}
}

func (s *Store) nextEventID() uint64 {
	id := s.nextEvent
	s.nextEvent++
	return id
}

func (s *Store) resolveChunk(id chunkid.ChunkId) (*chunk.Chunk, bool) {
	c, ok := s.chunksByID[id]
	return c, ok
}

func (s *Store) lineageReportFor(id chunkid.ChunkId) lineage.Report[*chunk.Chunk] {
	direct, ok := s.lineage.DirectLineageOf(id)
	if !ok {
		direct = lineage.Volatile()
	}
	return lineage.BuildReport(direct, s.resolveChunk)
}

func (s *Store) makeEvent(kind DiffKind, before, after *chunk.Chunk) Event {
	affectedID := after.ID()
	ev := Event{
		StoreID:    s.id,
		Generation: s.generation,
		EventID:    s.nextEventID(),
		Diff: Diff{
			Kind:                  kind,
			ChunkBeforeProcessing: before,
			Chunk:                 after,
			Lineage:               s.lineageReportFor(affectedID),
		},
	}
	return ev
}

// InsertChunk runs the full ingest policy on c: de-duplication,
// dangling-split re-entry cleanup, splitting, compaction, index update, and
// event emission (spec.md §4.1). c is treated as freshly captured in-memory
// data (Volatile lineage) unless it was already split or compacted.
func (s *Store) InsertChunk(c *chunk.Chunk) ([]Event, error) {
	return s.insertChunk(c, lineage.Volatile())
}

// InsertReferencedChunk is InsertChunk for a chunk that was re-fetched from
// a durable manifest rather than captured live, giving it ReferencedFrom
// lineage instead of Volatile.
func (s *Store) InsertReferencedChunk(c *chunk.Chunk, m manifest.ID) ([]Event, error) {
	return s.insertChunk(c, lineage.ReferencedFrom(m))
}

func (s *Store) insertChunk(c *chunk.Chunk, origin lineage.DirectLineage) ([]Event, error) {
	if c == nil {
		return nil, &ErrChunkRejected{Cause: fmt.Errorf("nil chunk")}
	}
	if err := validateChunk(c); err != nil {
		return nil, &ErrChunkRejected{ChunkID: c.ID(), Cause: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var events []Event

	// 1. De-duplication.
	if _, exists := s.chunksByID[c.ID()]; exists {
		return nil, nil
	}

	// 2. Dangling-split detection: re-inserting a chunk id that still has
	// partially-GC'd split children converges back to a fresh full split
	// instead of piling up duplicates.
	if children := s.lineage.TakeDanglingSplits(c.ID()); len(children) > 0 {
		for _, childID := range children {
			if child, ok := s.chunksByID[childID]; ok {
				events = append(events, s.deleteChunkLocked(child)...)
			}
		}
	}

	// 3. Splitting decision.
	if needsSplit(c, s.cfg) {
		pieces, err := splitChunk(c, s.cfg, s.chunkID)
		if err != nil {
			return nil, &ErrChunkRejected{ChunkID: c.ID(), Cause: err}
		}
		siblingIDs := make([]chunkid.ChunkId, len(pieces))
		for i, p := range pieces {
			siblingIDs[i] = p.ID()
		}
		for _, p := range pieces {
			s.lineage.Record(p.ID(), lineage.SplitFrom(c.ID(), siblingIDs))
			s.insertIntoIndices(p)
			s.chunksByID[p.ID()] = p
			s.insertMinRow(p)
			events = append(events, s.makeEvent(DiffAddition, c, p))
		}
		events = s.finalizeEvents(events)
		s.notify(events)
		return events, nil
	}

	// 4. Compaction decision (temporal chunks only; static chunks are
	// superseded, not merged).
	if !c.IsStatic() {
		if neighbor, ok := s.findCompactionCandidate(c); ok {
			merged, mergeErr := chunk.Merge(s.chunkID.Next(), []*chunk.Chunk{neighbor, c})
			if mergeErr == nil && fitsThresholds(merged, s.cfg) {
				s.lineage.Record(merged.ID(), lineage.CompactedFrom([]chunkid.ChunkId{neighbor.ID(), c.ID()}))
				events = append(events, s.deleteChunkLocked(neighbor)...)
				s.lineage.RecordLeakyCompaction(neighbor.ID(), merged.ID())
				s.insertIntoIndices(merged)
				s.chunksByID[merged.ID()] = merged
				s.insertMinRow(merged)
				events = append(events, s.makeEvent(DiffAddition, c, merged))
				events = s.finalizeEvents(events)
				s.notify(events)
				return events, nil
			}
		}
	}

	// 5. Index update (plain insert, or static supersession).
	s.lineage.Record(c.ID(), origin)
	if c.IsStatic() {
		events = append(events, s.supersedeStaticLocked(c)...)
	}
	s.insertIntoIndices(c)
	s.chunksByID[c.ID()] = c
	s.insertMinRow(c)
	events = append(events, s.makeEvent(DiffAddition, nil, c))

	// 6. Event emission.
	events = s.finalizeEvents(events)
	s.notify(events)
	return events, nil
}

func (s *Store) finalizeEvents(events []Event) []Event {
	if !s.cfg.EnableChangelog {
		return nil
	}
	return events
}

func (s *Store) insertMinRow(c *chunk.Chunk) {
	entry := minRowEntry{rowID: c.MinRowID(), chunkID: c.ID()}
	i := sort.Search(len(s.minRowIndex), func(i int) bool { return s.minRowIndex[i].rowID >= entry.rowID })
	s.minRowIndex = append(s.minRowIndex, minRowEntry{})
	copy(s.minRowIndex[i+1:], s.minRowIndex[i:])
	s.minRowIndex[i] = entry
}

func (s *Store) removeMinRow(c *chunk.Chunk) {
	for i, e := range s.minRowIndex {
		if e.chunkID == c.ID() {
			s.minRowIndex = append(s.minRowIndex[:i], s.minRowIndex[i+1:]...)
			return
		}
	}
}

// supersedeStaticLocked removes any previous static chunk indexing the same
// (entity, component) as c, returning deletion events for each distinct
// superseded chunk. The entire superseded chunk is deleted, including any
// columns c does not carry, not only the overridden component.
func (s *Store) supersedeStaticLocked(c *chunk.Chunk) []Event {
	seen := map[chunkid.ChunkId]bool{}
	var events []Event
	byComponent, ok := s.staticIndex[c.EntityPath()]
	if !ok {
		return nil
	}
	for _, d := range c.Components() {
		prevID, ok := byComponent[d]
		if !ok || prevID == c.ID() || seen[prevID] {
			continue
		}
		seen[prevID] = true
		if prev, ok := s.chunksByID[prevID]; ok {
			events = append(events, s.deleteChunkLocked(prev)...)
		}
	}
	return events
}

// deleteChunkLocked removes c from every index and chunksByID and returns
// its deletion event. Lineage entries are intentionally left in place — see
// lineage.Tree.Forget's doc comment.
func (s *Store) deleteChunkLocked(c *chunk.Chunk) []Event {
	s.removeFromIndices(c)
	delete(s.chunksByID, c.ID())
	s.removeMinRow(c)
	return []Event{s.makeEvent(DiffDeletion, nil, c)}
}

func (s *Store) insertIntoIndices(c *chunk.Chunk) {
	ep := c.EntityPath()
	if c.IsStatic() {
		byComponent, ok := s.staticIndex[ep]
		if !ok {
			byComponent = make(map[component.Descriptor]chunkid.ChunkId)
			s.staticIndex[ep] = byComponent
		}
		for _, d := range c.Components() {
			byComponent[d] = c.ID()
		}
		return
	}
	for _, name := range c.Timelines() {
		start, _ := c.StartTime(name)
		end, _ := c.EndTime(name)

		byTimeline, ok := s.temporalColumn[ep]
		if !ok {
			byTimeline = make(map[timeline.Name]map[component.Descriptor]*ChunkIdSetPerTime)
			s.temporalColumn[ep] = byTimeline
		}
		byComponent, ok := byTimeline[name]
		if !ok {
			byComponent = make(map[component.Descriptor]*ChunkIdSetPerTime)
			byTimeline[name] = byComponent
		}
		for _, d := range c.Components() {
			set, ok := byComponent[d]
			if !ok {
				set = NewChunkIdSetPerTime()
				byComponent[d] = set
			}
			set.Add(c.ID(), start, end)
		}

		entityByTimeline, ok := s.temporalEntity[ep]
		if !ok {
			entityByTimeline = make(map[timeline.Name]*ChunkIdSetPerTime)
			s.temporalEntity[ep] = entityByTimeline
		}
		entitySet, ok := entityByTimeline[name]
		if !ok {
			entitySet = NewChunkIdSetPerTime()
			entityByTimeline[name] = entitySet
		}
		entitySet.Add(c.ID(), start, end)
	}
}

func (s *Store) removeFromIndices(c *chunk.Chunk) {
	ep := c.EntityPath()
	if c.IsStatic() {
		if byComponent, ok := s.staticIndex[ep]; ok {
			for _, d := range c.Components() {
				if byComponent[d] == c.ID() {
					delete(byComponent, d)
				}
			}
		}
		return
	}
	for _, name := range c.Timelines() {
		start, _ := c.StartTime(name)
		end, _ := c.EndTime(name)
		if byTimeline, ok := s.temporalColumn[ep]; ok {
			if byComponent, ok := byTimeline[name]; ok {
				for _, d := range c.Components() {
					if set, ok := byComponent[d]; ok {
						set.Remove(c.ID(), start, end)
					}
				}
			}
		}
		if entityByTimeline, ok := s.temporalEntity[ep]; ok {
			if entitySet, ok := entityByTimeline[name]; ok {
				entitySet.Remove(c.ID(), start, end)
			}
		}
	}
}

// findCompactionCandidate looks for at most one existing chunk sharing any
// of c's (entity, timeline) domains that hasn't descended from a split.
func (s *Store) findCompactionCandidate(c *chunk.Chunk) (*chunk.Chunk, bool) {
	if s.cfg.compactionDisabled {
		return nil, false
	}
	if s.lineage.DescendsFromASplit(c.ID()) {
		return nil, false
	}
	entityByTimeline, ok := s.temporalEntity[c.EntityPath()]
	if !ok {
		return nil, false
	}
	for _, name := range c.Timelines() {
		set, ok := entityByTimeline[name]
		if !ok {
			continue
		}
		for _, id := range set.AllChunkIDs() {
			if id == c.ID() {
				continue
			}
			if s.lineage.DescendsFromASplit(id) {
				continue
			}
			if neighbor, ok := s.chunksByID[id]; ok {
				return neighbor, true
			}
		}
	}
	return nil, false
}

func validateChunk(c *chunk.Chunk) error {
	if c.NumRows() == 0 {
		return fmt.Errorf("chunk has no rows")
	}
	return nil
}

func anyTimelineUnsorted(c *chunk.Chunk) bool {
	for _, name := range c.Timelines() {
		if !c.IsSortedOn(name) {
			return true
		}
	}
	return false
}

func needsSplit(c *chunk.Chunk, cfg Config) bool {
	return !fitsThresholds(c, cfg)
}

func fitsThresholds(c *chunk.Chunk, cfg Config) bool {
	if c.SizeBytes() > cfg.ChunkMaxBytes {
		return false
	}
	rows := uint64(c.NumRows())
	if anyTimelineUnsorted(c) {
		return rows <= cfg.ChunkMaxRowsIfUnsorted
	}
	return rows <= cfg.ChunkMaxRows
}

// splitChunk breaks c into flat row ranges of at most maxRows rows each (the
// last piece may be shorter), where maxRows is the tightest of ChunkMaxRows,
// ChunkMaxRowsIfUnsorted (when a timeline is unsorted) and ChunkMaxBytes
// divided by c's average bytes per row, and never less than 1.
func splitChunk(c *chunk.Chunk, cfg Config, gen *chunkid.Generator) ([]*chunk.Chunk, error) {
	maxRows := cfg.ChunkMaxRows
	if anyTimelineUnsorted(c) && cfg.ChunkMaxRowsIfUnsorted < maxRows {
		maxRows = cfg.ChunkMaxRowsIfUnsorted
	}
	if cfg.ChunkMaxBytes > 0 && c.NumRows() > 0 {
		bytesPerRow := c.SizeBytes() / uint64(c.NumRows())
		if bytesPerRow > 0 {
			if rowsForBytes := cfg.ChunkMaxBytes / bytesPerRow; rowsForBytes < maxRows {
				maxRows = rowsForBytes
			}
		}
	}
	if maxRows == 0 {
		maxRows = 1
	}
	pieces := (c.NumRows() + int(maxRows) - 1) / int(maxRows)
	ids := make([]chunkid.ChunkId, pieces)
	for i := range ids {
		ids[i] = gen.Next()
	}
	return c.SplitEvenly(int(maxRows), ids)
}

// GCTargetKind discriminates the two GarbageCollectionOptions.Target forms.
type GCTargetKind uint8

const (
	// GCEverything evicts every non-protected chunk.
	GCEverything GCTargetKind = iota
	// GCDropAtLeastFraction evicts until at least Fraction of the store's
	// byte footprint (as measured at the start of the pass) is freed.
	GCDropAtLeastFraction
)

// GCTarget is the Target field of GCOptions.
type GCTarget struct {
	Kind     GCTargetKind
	Fraction float64
}

// FurthestFromCursor steers GC victim selection towards data far from
// wherever the user is currently looking.
type FurthestFromCursor struct {
	Timeline timeline.Name
	At       timeline.Int
}

// GCOptions mirrors spec.md §4.1's GarbageCollectionOptions.
type GCOptions struct {
	Target               GCTarget
	TimeBudget           time.Duration
	ProtectLatest        int
	ProtectedTimeRanges  map[timeline.Name]timeline.AbsoluteRange
	ProtectedChunks      map[chunkid.ChunkId]bool
	FurthestFrom         *FurthestFromCursor
	PerformDeepDeletions bool
}

// GCStats summarizes one GC pass.
type GCStats struct {
	ChunksRemoved      int
	BytesRemoved       uint64
	TimeBudgetExceeded bool
}

// GC evicts chunks per opts, respecting protections, and returns the
// deletion events produced plus pass statistics (spec.md §4.1).
func (s *Store) GC(opts GCOptions) ([]Event, GCStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	var stats GCStats

	totalBytes := uint64(0)
	candidates := make([]chunkid.ChunkId, 0, len(s.chunksByID))
	for id, c := range s.chunksByID {
		totalBytes += c.SizeBytes()
		if opts.ProtectedChunks[id] {
			continue
		}
		candidates = append(candidates, id)
	}
	candidates = s.filterProtectedLatest(candidates, opts)
	candidates = s.filterProtectedTimeRanges(candidates, opts)
	s.orderGCCandidates(candidates, opts)

	var events []Event
	for _, id := range candidates {
		if opts.TimeBudget > 0 && time.Since(start) > opts.TimeBudget {
			stats.TimeBudgetExceeded = true
			break
		}
		if opts.Target.Kind == GCDropAtLeastFraction && totalBytes > 0 {
			if float64(stats.BytesRemoved)/float64(totalBytes) >= opts.Target.Fraction {
				break
			}
		}
		c, ok := s.chunksByID[id]
		if !ok {
			continue
		}
		direct, hasLineage := s.lineage.DirectLineageOf(id)
		stats.BytesRemoved += c.SizeBytes()
		stats.ChunksRemoved++
		events = append(events, s.deleteChunkLocked(c)...)

		if hasLineage && direct.Kind == lineage.KindSplitFrom {
			for _, sib := range direct.SplitSiblings {
				if sib != id {
					if _, stillPresent := s.chunksByID[sib]; stillPresent {
						s.lineage.RecordDanglingSplit(direct.SplitParent, sib)
					}
				}
			}
		}
	}

	if opts.PerformDeepDeletions {
		present := make(map[chunkid.ChunkId]bool, len(s.chunksByID))
		for id := range s.chunksByID {
			present[id] = true
		}
		s.lineage.PurgeStaleEntries(present)
	}

	if opts.Target.Kind == GCEverything {
		s.generation++
	}

	events = s.finalizeEvents(events)
	s.notify(events)
	return events, stats, nil
}

// filterProtectedLatest drops the ProtectLatest most-recent (by end time)
// chunks per (entity, timeline, component) group from the candidate set.
// Spec.md scopes protect_latest to (entity, component); grouping by the
// finer (entity, timeline, component) key here is a conservative
// approximation documented in DESIGN.md.
func (s *Store) filterProtectedLatest(candidates []chunkid.ChunkId, opts GCOptions) []chunkid.ChunkId {
	if opts.ProtectLatest <= 0 {
		return candidates
	}
	type group struct {
		ep   entitypath.Path
		name timeline.Name
		d    component.Descriptor
	}
	byGroup := map[group][]chunkid.ChunkId{}
	for _, id := range candidates {
		c, ok := s.chunksByID[id]
		if !ok || c.IsStatic() {
			continue
		}
		for _, name := range c.Timelines() {
			for _, d := range c.Components() {
				g := group{ep: c.EntityPath(), name: name, d: d}
				byGroup[g] = append(byGroup[g], id)
			}
		}
	}
	protected := map[chunkid.ChunkId]bool{}
	for g, ids := range byGroup {
		sort.Slice(ids, func(i, j int) bool {
			ci := s.chunksByID[ids[i]]
			cj := s.chunksByID[ids[j]]
			ei, _ := ci.EndTime(g.name)
			ej, _ := cj.EndTime(g.name)
			return ei > ej
		})
		n := opts.ProtectLatest
		if n > len(ids) {
			n = len(ids)
		}
		for _, id := range ids[:n] {
			protected[id] = true
		}
	}
	out := candidates[:0]
	for _, id := range candidates {
		if !protected[id] {
			out = append(out, id)
		}
	}
	return out
}

func (s *Store) filterProtectedTimeRanges(candidates []chunkid.ChunkId, opts GCOptions) []chunkid.ChunkId {
	if len(opts.ProtectedTimeRanges) == 0 {
		return candidates
	}
	out := candidates[:0]
	for _, id := range candidates {
		c, ok := s.chunksByID[id]
		if !ok {
			out = append(out, id)
			continue
		}
		protected := false
		for name, rng := range opts.ProtectedTimeRanges {
			if cr, ok := c.TimeRange(name); ok && cr.Intersects(rng) {
				protected = true
				break
			}
		}
		if !protected {
			out = append(out, id)
		}
	}
	return out
}

func (s *Store) orderGCCandidates(candidates []chunkid.ChunkId, opts GCOptions) {
	if opts.FurthestFrom != nil {
		cursor := *opts.FurthestFrom
		sort.Slice(candidates, func(i, j int) bool {
			return s.distanceFromCursor(candidates[i], cursor) > s.distanceFromCursor(candidates[j], cursor)
		})
		return
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
}

func (s *Store) distanceFromCursor(id chunkid.ChunkId, cursor FurthestFromCursor) int64 {
	c, ok := s.chunksByID[id]
	if !ok {
		return 0
	}
	rng, ok := c.TimeRange(cursor.Timeline)
	if !ok {
		return 0
	}
	mid := int64(rng.Min) + (int64(rng.Max)-int64(rng.Min))/2
	d := mid - int64(cursor.At)
	if d < 0 {
		d = -d
	}
	return d
}

// ChunksByID returns the chunk stored under id, if present.
func (s *Store) ChunksByID(id chunkid.ChunkId) (*chunk.Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunksByID[id]
	return c, ok
}

// NumChunks returns how many chunks are currently indexed.
func (s *Store) NumChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunksByID)
}

// Lineage exposes the store's lineage tree for read-only inspection
// (find_root_chunks, descends_from_a_split, and friends).
func (s *Store) Lineage() *lineage.Tree {
	return s.lineage
}
