package query_test

import (
	"testing"

	"github.com/rerun-io/rerun-sub005/pkg/chunk"
	"github.com/rerun-io/rerun-sub005/pkg/chunkid"
	"github.com/rerun-io/rerun-sub005/pkg/chunkstore"
	"github.com/rerun-io/rerun-sub005/pkg/component"
	"github.com/rerun-io/rerun-sub005/pkg/entitypath"
	"github.com/rerun-io/rerun-sub005/pkg/query"
	"github.com/rerun-io/rerun-sub005/pkg/timeline"
)

var value = component.New("value")

func temporalChunk(t *testing.T, id chunkid.ChunkId, ep entitypath.Path, tl timeline.Name, startRow chunkid.RowId, times []timeline.Int) *chunk.Chunk {
	t.Helper()
	b := chunk.NewBuilder(id, ep)
	for i, tm := range times {
		b.AddRow(
			startRow+chunkid.RowId(i),
			map[timeline.Name]timeline.Int{tl: tm},
			map[component.Descriptor]chunk.Cell{value: {byte(i)}},
		)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("building chunk: %v", err)
	}
	return c
}

func staticChunk(t *testing.T, id chunkid.ChunkId, ep entitypath.Path, d component.Descriptor) *chunk.Chunk {
	t.Helper()
	b := chunk.NewBuilder(id, ep)
	b.AddRow(1, nil, map[component.Descriptor]chunk.Cell{d: {1}})
	c, err := b.Build()
	if err != nil {
		t.Fatalf("building static chunk: %v", err)
	}
	return c
}

func containsID(chunks []*chunk.Chunk, id chunkid.ChunkId) bool {
	for _, c := range chunks {
		if c.ID() == id {
			return true
		}
	}
	return false
}

// Literal scenario 5: chunk A spans [0,100], chunk B spans [50,60]; querying
// latest_at(80) must return both because the coarse lookup keeps A in scope
// (max_interval_length == 100).
func TestLatestAtOverlapCorrectness(t *testing.T) {
	s := chunkstore.New("s1", chunkstore.AllDisabledConfig())
	ep := entitypath.New("world/car")
	const tl = timeline.Name("frame")

	a := temporalChunk(t, 1, ep, tl, 1, []timeline.Int{0, 100})
	b := temporalChunk(t, 2, ep, tl, 100, []timeline.Int{50, 60})
	if _, err := s.InsertChunk(a); err != nil {
		t.Fatalf("insert A: %v", err)
	}
	if _, err := s.InsertChunk(b); err != nil {
		t.Fatalf("insert B: %v", err)
	}

	adapter := chunkstore.NewAdapter(s)
	got := query.LatestAtRelevantChunks(adapter, query.LatestAtQuery{Timeline: tl, At: 80}, ep, value)

	if !containsID(got, a.ID()) || !containsID(got, b.ID()) {
		t.Fatalf("expected both A and B in the coarse candidate set, got %v", idsOf(got))
	}
}

func idsOf(chunks []*chunk.Chunk) []chunkid.ChunkId {
	out := make([]chunkid.ChunkId, len(chunks))
	for i, c := range chunks {
		out[i] = c.ID()
	}
	return out
}

// P2: a static chunk for (entity, component) wins outright regardless of at.
func TestLatestAtStaticOverridesTemporal(t *testing.T) {
	s := chunkstore.New("s1", chunkstore.AllDisabledConfig())
	ep := entitypath.New("world/car")
	const tl = timeline.Name("frame")

	temporal := temporalChunk(t, 1, ep, tl, 1, []timeline.Int{0, 10, 20})
	static := staticChunk(t, 2, ep, value)
	if _, err := s.InsertChunk(temporal); err != nil {
		t.Fatalf("insert temporal: %v", err)
	}
	if _, err := s.InsertChunk(static); err != nil {
		t.Fatalf("insert static: %v", err)
	}

	adapter := chunkstore.NewAdapter(s)
	for _, at := range []timeline.Int{-1000, 0, 10, 1000} {
		got := query.LatestAtRelevantChunks(adapter, query.LatestAtQuery{Timeline: tl, At: at}, ep, value)
		if len(got) != 1 || got[0].ID() != static.ID() {
			t.Fatalf("at=%d: expected exactly the static chunk, got %v", at, idsOf(got))
		}
	}
}

// Range query: widened coarse lookup followed by an exact intersection
// filter must exclude a chunk the coarse pass over-included.
func TestRangeRelevantChunksExactFilter(t *testing.T) {
	s := chunkstore.New("s1", chunkstore.AllDisabledConfig())
	ep := entitypath.New("world/car")
	const tl = timeline.Name("frame")

	// A spans [0, 100], which sets the column's max_interval_length to 100.
	a := temporalChunk(t, 1, ep, tl, 1, []timeline.Int{0, 100})
	// B spans [-50, -40]: its start_time (-50) falls inside the coarse
	// window once widened by A's max_interval_length (query min 0 widens to
	// -100), so the coarse index lookup alone would wrongly include B. Its
	// actual range doesn't intersect [0,10], so the exact filter pass must
	// drop it.
	b := temporalChunk(t, 2, ep, tl, 200, []timeline.Int{-50, -40})
	if _, err := s.InsertChunk(a); err != nil {
		t.Fatalf("insert A: %v", err)
	}
	if _, err := s.InsertChunk(b); err != nil {
		t.Fatalf("insert B: %v", err)
	}

	adapter := chunkstore.NewAdapter(s)
	got := query.RangeRelevantChunks(adapter, query.RangeQuery{Timeline: tl, Range: timeline.AbsoluteRange{Min: 0, Max: 10}}, ep, value)

	if !containsID(got, a.ID()) {
		t.Fatalf("expected A (overlaps [0,10]) in range results, got %v", idsOf(got))
	}
	if containsID(got, b.ID()) {
		t.Fatalf("expected B (coarse-included by widening, but [-50,-40] doesn't intersect [0,10]) to be filtered out, got %v", idsOf(got))
	}
}

// include_extended_bounds widens the query window by one tick on each side.
func TestRangeIncludeExtendedBounds(t *testing.T) {
	s := chunkstore.New("s1", chunkstore.AllDisabledConfig())
	ep := entitypath.New("world/car")
	const tl = timeline.Name("frame")

	c := temporalChunk(t, 1, ep, tl, 1, []timeline.Int{10})
	if _, err := s.InsertChunk(c); err != nil {
		t.Fatalf("insert: %v", err)
	}

	adapter := chunkstore.NewAdapter(s)

	withoutExtended := query.RangeRelevantChunks(adapter, query.RangeQuery{Timeline: tl, Range: timeline.AbsoluteRange{Min: 11, Max: 20}}, ep, value)
	if containsID(withoutExtended, c.ID()) {
		t.Fatalf("chunk at t=10 should not match [11,20] without extended bounds")
	}

	withExtended := query.RangeRelevantChunks(adapter, query.RangeQuery{
		Timeline: tl,
		Range:    timeline.AbsoluteRange{Min: 11, Max: 20},
		Options:  query.RangeOptions{IncludeExtendedBounds: true},
	}, ep, value)
	if !containsID(withExtended, c.ID()) {
		t.Fatalf("chunk at t=10 should match [11,20] widened by one tick on each side")
	}
}

// The all-components variant merges per-column results and lets a static
// chunk shadow temporal data only for its own component.
func TestAllComponentsMergeAndStaticShadowing(t *testing.T) {
	s := chunkstore.New("s1", chunkstore.AllDisabledConfig())
	ep := entitypath.New("world/car")
	const tl = timeline.Name("frame")
	other := component.New("other")

	temporalValue := temporalChunk(t, 1, ep, tl, 1, []timeline.Int{0, 10})
	staticValue := staticChunk(t, 2, ep, value)

	b := chunk.NewBuilder(chunkid.ChunkId(3), ep)
	b.AddRow(100, map[timeline.Name]timeline.Int{tl: 5}, map[component.Descriptor]chunk.Cell{other: {9}})
	temporalOther, err := b.Build()
	if err != nil {
		t.Fatalf("building other-component chunk: %v", err)
	}

	for _, c := range []*chunk.Chunk{temporalValue, staticValue, temporalOther} {
		if _, err := s.InsertChunk(c); err != nil {
			t.Fatalf("insert %s: %v", c.ID(), err)
		}
	}

	adapter := chunkstore.NewAdapter(s)
	got := query.LatestAtAllComponents(adapter, query.LatestAtQuery{Timeline: tl, At: 5}, ep, query.AllComponentsOptions{IncludeStatic: true})

	if !containsID(got, staticValue.ID()) {
		t.Fatalf("expected the static 'value' chunk in the merged result, got %v", idsOf(got))
	}
	if containsID(got, temporalValue.ID()) {
		t.Fatalf("temporal 'value' chunk should be shadowed by the static one, got %v", idsOf(got))
	}
	if !containsID(got, temporalOther.ID()) {
		t.Fatalf("expected the 'other' component's temporal chunk in the merged result, got %v", idsOf(got))
	}
}
