// Package chunk implements the immutable, columnar unit of storage the
// chunk store indexes: a batch of rows for one entity path carrying one or
// more named components, optionally indexed along one or more timelines.
// Grounded on the teacher's pkg/content.Chunk/ChunkInfo (offset-addressed
// byte chunking of a file), generalized here from "bytes of a file" to
// "rows of a columnar table".
package chunk

import (
	"fmt"
	"sort"

	"github.com/rerun-io/rerun-sub005/pkg/chunkid"
	"github.com/rerun-io/rerun-sub005/pkg/component"
	"github.com/rerun-io/rerun-sub005/pkg/entitypath"
	"github.com/rerun-io/rerun-sub005/pkg/timeline"
)

// ErrNonMonotoneRowID is returned when a chunk's row ids are not strictly
// increasing, which breaks the store's stable-sort and dedup guarantees.
type ErrNonMonotoneRowID struct {
	Index int
	Prev  chunkid.RowId
	Got   chunkid.RowId
}

func (e *ErrNonMonotoneRowID) Error() string {
	return fmt.Sprintf("chunk: row id at index %d (%s) is not greater than the previous row id (%s)", e.Index, e.Got, e.Prev)
}

// ErrMalformedTimeColumn is returned when a time column's length does not
// match the chunk's row count.
type ErrMalformedTimeColumn struct {
	Timeline timeline.Name
	Reason   string
}

func (e *ErrMalformedTimeColumn) Error() string {
	return fmt.Sprintf("chunk: malformed time column %q: %s", e.Timeline, e.Reason)
}

// ErrSchemaMismatch is returned when a component column's cell count
// disagrees with the row count, a component column holds no non-null cell,
// a row slice or split request is invalid, or chunks of different entity
// paths are merged.
type ErrSchemaMismatch struct {
	Reason string
}

func (e *ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("chunk: schema mismatch: %s", e.Reason)
}

// ErrEmptyChunk is returned when attempting to build a chunk with zero rows.
type ErrEmptyChunk struct{}

func (e *ErrEmptyChunk) Error() string { return "chunk: cannot build a chunk with zero rows" }

// Cell is one component value. A nil Cell is a null value; any other value
// (including a zero-length non-nil slice) is present. Decoding the bytes
// into a concrete tensor/scalar/image type is outside this package's scope
// (spec calls codec decoding an external collaborator).
type Cell = []byte

// Column holds one component's cells, one per row, in row order.
type Column struct {
	Cells []Cell
}

// TimeColumn holds one timeline's values, one per row, in row order.
type TimeColumn struct {
	Values []timeline.Int
	sorted bool
}

// IsSorted reports whether the column's values are non-decreasing in row
// order, computed once at construction time.
func (tc TimeColumn) IsSorted() bool { return tc.sorted }

// Chunk is an immutable batch of rows for one entity path. Zero value is not
// usable; build one with Builder or Slice/Merge.
type Chunk struct {
	id         chunkid.ChunkId
	entityPath entitypath.Path
	rowIDs     []chunkid.RowId

	times      map[timeline.Name]TimeColumn
	components map[component.Descriptor]Column
}

// ID returns the chunk's identifier.
func (c *Chunk) ID() chunkid.ChunkId { return c.id }

// EntityPath returns the chunk's entity path.
func (c *Chunk) EntityPath() entitypath.Path { return c.entityPath }

// NumRows returns the number of rows in the chunk.
func (c *Chunk) NumRows() int { return len(c.rowIDs) }

// RowIDs returns the chunk's row ids in row order. The returned slice must
// not be mutated.
func (c *Chunk) RowIDs() []chunkid.RowId { return c.rowIDs }

// MinRowID returns the smallest row id in the chunk.
func (c *Chunk) MinRowID() chunkid.RowId { return c.rowIDs[0] }

// MaxRowID returns the largest row id in the chunk.
func (c *Chunk) MaxRowID() chunkid.RowId { return c.rowIDs[len(c.rowIDs)-1] }

// IsStatic reports whether the chunk carries no time columns at all.
func (c *Chunk) IsStatic() bool { return len(c.times) == 0 }

// Timelines returns the set of timeline names this chunk is indexed on.
func (c *Chunk) Timelines() []timeline.Name {
	out := make([]timeline.Name, 0, len(c.times))
	for name := range c.times {
		out = append(out, name)
	}
	return out
}

// Components returns the set of component descriptors this chunk carries.
func (c *Chunk) Components() []component.Descriptor {
	out := make([]component.Descriptor, 0, len(c.components))
	for d := range c.components {
		out = append(out, d)
	}
	return out
}

// HasComponent reports whether the chunk carries a column for d.
func (c *Chunk) HasComponent(d component.Descriptor) bool {
	_, ok := c.components[d]
	return ok
}

// Cell returns the cell for component d at row index i, and whether the
// chunk carries that column at all. A present column with a null cell at i
// returns (nil, true).
func (c *Chunk) Cell(d component.Descriptor, i int) (Cell, bool) {
	col, ok := c.components[d]
	if !ok {
		return nil, false
	}
	return col.Cells[i], true
}

// TimeAt returns the chunk's value on timeline name at row index i.
func (c *Chunk) TimeAt(name timeline.Name, i int) (timeline.Int, bool) {
	tc, ok := c.times[name]
	if !ok {
		return 0, false
	}
	return tc.Values[i], true
}

// SortPermutationForTimeline returns the row indices of c in ascending order
// of their value on timeline name, stably preserving the existing row order
// for ties. Used by consumers (e.g. the video cache) that must process a
// chunk's rows in timeline order regardless of insertion order.
func (c *Chunk) SortPermutationForTimeline(name timeline.Name) []int {
	perm := make([]int, c.NumRows())
	for i := range perm {
		perm[i] = i
	}
	tc, ok := c.times[name]
	if !ok {
		return perm
	}
	sort.SliceStable(perm, func(i, j int) bool { return tc.Values[perm[i]] < tc.Values[perm[j]] })
	return perm
}

// IsSortedOn reports whether the chunk's values on timeline name are
// non-decreasing in row order. A chunk with no such timeline is trivially
// sorted.
func (c *Chunk) IsSortedOn(name timeline.Name) bool {
	tc, ok := c.times[name]
	if !ok {
		return true
	}
	return tc.IsSorted()
}

// TimeRange returns the [min, max] of the chunk's values on timeline name.
func (c *Chunk) TimeRange(name timeline.Name) (timeline.AbsoluteRange, bool) {
	tc, ok := c.times[name]
	if !ok {
		return timeline.AbsoluteRange{}, false
	}
	lo, hi := tc.Values[0], tc.Values[0]
	for _, v := range tc.Values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return timeline.AbsoluteRange{Min: lo, Max: hi}, true
}

// StartTime returns the chunk's start time on timeline name — the value used
// as the index key in ChunkIdSetPerTime.
func (c *Chunk) StartTime(name timeline.Name) (timeline.Int, bool) {
	r, ok := c.TimeRange(name)
	if !ok {
		return 0, false
	}
	return r.Min, true
}

// EndTime returns the chunk's end time on timeline name.
func (c *Chunk) EndTime(name timeline.Name) (timeline.Int, bool) {
	r, ok := c.TimeRange(name)
	if !ok {
		return 0, false
	}
	return r.Max, true
}

// SizeBytes approximates the chunk's heap footprint for threshold checks:
// the sum of every cell's byte length plus a fixed per-row overhead for row
// and time bookkeeping.
func (c *Chunk) SizeBytes() uint64 {
	const perRowOverhead = 16
	var total uint64
	for _, col := range c.components {
		for _, cell := range col.Cells {
			total += uint64(len(cell))
		}
	}
	for range c.times {
		total += uint64(len(c.rowIDs)) * 8
	}
	total += uint64(len(c.rowIDs)) * perRowOverhead
	return total
}

// Builder incrementally assembles a Chunk row by row. Rows must be appended
// in strictly increasing row-id order.
type Builder struct {
	id         chunkid.ChunkId
	entityPath entitypath.Path
	rowIDs     []chunkid.RowId
	times      map[timeline.Name][]timeline.Int
	components map[component.Descriptor][]Cell
	err        error
}

// NewBuilder starts building a chunk with the given id and entity path.
func NewBuilder(id chunkid.ChunkId, entityPath entitypath.Path) *Builder {
	return &Builder{
		id:         id,
		entityPath: entityPath,
		times:      make(map[timeline.Name][]timeline.Int),
		components: make(map[component.Descriptor][]Cell),
	}
}

// AddRow appends one row. times need not name every timeline the chunk will
// eventually carry on every row; a timeline missing from a row is padded
// with timeline.Static (here for earlier rows, and by Build for trailing
// rows), and a missing component cell is padded with nil.
func (b *Builder) AddRow(rowID chunkid.RowId, times map[timeline.Name]timeline.Int, components map[component.Descriptor]Cell) {
	if b.err != nil {
		return
	}
	if n := len(b.rowIDs); n > 0 && rowID <= b.rowIDs[n-1] {
		b.err = &ErrNonMonotoneRowID{Index: n, Prev: b.rowIDs[n-1], Got: rowID}
		return
	}
	b.rowIDs = append(b.rowIDs, rowID)
	row := len(b.rowIDs) - 1

	for name, v := range times {
		col := b.times[name]
		for len(col) < row {
			col = append(col, timeline.Static)
		}
		b.times[name] = append(col, v)
	}
	for d, cell := range components {
		col := b.components[d]
		for len(col) < row {
			col = append(col, nil)
		}
		b.components[d] = append(col, cell)
	}
}

// Build validates and returns the finished Chunk.
func (b *Builder) Build() (*Chunk, error) {
	if b.err != nil {
		return nil, b.err
	}
	n := len(b.rowIDs)
	if n == 0 {
		return nil, &ErrEmptyChunk{}
	}

	times := make(map[timeline.Name]TimeColumn, len(b.times))
	for name, values := range b.times {
		for len(values) < n {
			values = append(values, timeline.Static)
		}
		if len(values) != n {
			return nil, &ErrMalformedTimeColumn{Timeline: name, Reason: fmt.Sprintf("has %d values, chunk has %d rows", len(values), n)}
		}
		sorted := true
		for i := 1; i < len(values); i++ {
			if values[i] < values[i-1] {
				sorted = false
				break
			}
		}
		times[name] = TimeColumn{Values: values, sorted: sorted}
	}

	components := make(map[component.Descriptor]Column, len(b.components))
	for d, cells := range b.components {
		for len(cells) < n {
			cells = append(cells, nil)
		}
		if len(cells) != n {
			return nil, &ErrSchemaMismatch{Reason: fmt.Sprintf("component %s has %d cells, chunk has %d rows", d, len(cells), n)}
		}
		hasNonNull := false
		for _, c := range cells {
			if c != nil {
				hasNonNull = true
				break
			}
		}
		if !hasNonNull {
			return nil, &ErrSchemaMismatch{Reason: fmt.Sprintf("component %s has no non-null cells", d)}
		}
		components[d] = Column{Cells: cells}
	}

	return &Chunk{
		id:         b.id,
		entityPath: b.entityPath,
		rowIDs:     b.rowIDs,
		times:      times,
		components: components,
	}, nil
}

// SliceRows returns a new Chunk covering rows [start, end) of c, assigned
// newID. Used by the chunk store's splitting policy to break an
// over-threshold chunk into flat, independently indexable pieces.
func (c *Chunk) SliceRows(newID chunkid.ChunkId, start, end int) (*Chunk, error) {
	if start < 0 || end > c.NumRows() || start >= end {
		return nil, &ErrSchemaMismatch{Reason: fmt.Sprintf("invalid row slice [%d,%d) of %d rows", start, end, c.NumRows())}
	}
	times := make(map[timeline.Name]TimeColumn, len(c.times))
	for name, tc := range c.times {
		values := append([]timeline.Int(nil), tc.Values[start:end]...)
		sorted := true
		for i := 1; i < len(values); i++ {
			if values[i] < values[i-1] {
				sorted = false
				break
			}
		}
		times[name] = TimeColumn{Values: values, sorted: sorted}
	}
	components := make(map[component.Descriptor]Column, len(c.components))
	for d, col := range c.components {
		components[d] = Column{Cells: append([]Cell(nil), col.Cells[start:end]...)}
	}
	return &Chunk{
		id:         newID,
		entityPath: c.entityPath,
		rowIDs:     append([]chunkid.RowId(nil), c.rowIDs[start:end]...),
		times:      times,
		components: components,
	}, nil
}

// SplitEvenly partitions c into the fewest pieces such that no piece has
// more than maxRows rows, assigning ids from newIDs in order (len(newIDs)
// must equal the number of pieces produced). This is the row-count half of
// the chunk store's splitting decision; byte-size splitting degrades to the
// same row-slicing mechanism once the caller has computed a row threshold
// from the byte budget.
func (c *Chunk) SplitEvenly(maxRows int, newIDs []chunkid.ChunkId) ([]*Chunk, error) {
	if maxRows <= 0 {
		return nil, &ErrSchemaMismatch{Reason: "maxRows must be positive"}
	}
	n := c.NumRows()
	pieces := (n + maxRows - 1) / maxRows
	if len(newIDs) != pieces {
		return nil, &ErrSchemaMismatch{Reason: fmt.Sprintf("need %d ids to split into %d pieces, got %d", pieces, pieces, len(newIDs))}
	}
	out := make([]*Chunk, 0, pieces)
	for i := 0; i < pieces; i++ {
		start := i * maxRows
		end := start + maxRows
		if end > n {
			end = n
		}
		piece, err := c.SliceRows(newIDs[i], start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, piece)
	}
	return out, nil
}

// Merge concatenates the rows of chunks (which must share the same entity
// path) into a single new Chunk with id newID, for the compaction path.
// Chunks are concatenated in row-id order; component columns are unioned,
// with rows null-padded for chunks that didn't carry a given column.
func Merge(newID chunkid.ChunkId, chunks []*Chunk) (*Chunk, error) {
	if len(chunks) == 0 {
		return nil, &ErrEmptyChunk{}
	}
	entityPath := chunks[0].entityPath
	for _, ch := range chunks[1:] {
		if !ch.entityPath.Equal(entityPath) {
			return nil, &ErrSchemaMismatch{Reason: fmt.Sprintf("cannot merge chunks of different entity paths %s and %s", entityPath, ch.entityPath)}
		}
	}

	ordered := append([]*Chunk(nil), chunks...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].MinRowID() < ordered[j].MinRowID() })

	totalRows := 0
	for _, ch := range ordered {
		totalRows += ch.NumRows()
	}

	allTimelines := map[timeline.Name]bool{}
	allComponents := map[component.Descriptor]bool{}
	for _, ch := range ordered {
		for name := range ch.times {
			allTimelines[name] = true
		}
		for d := range ch.components {
			allComponents[d] = true
		}
	}

	rowIDs := make([]chunkid.RowId, 0, totalRows)
	times := make(map[timeline.Name][]timeline.Int, len(allTimelines))
	for name := range allTimelines {
		times[name] = make([]timeline.Int, 0, totalRows)
	}
	components := make(map[component.Descriptor][]Cell, len(allComponents))
	for d := range allComponents {
		components[d] = make([]Cell, 0, totalRows)
	}

	for _, ch := range ordered {
		rowIDs = append(rowIDs, ch.rowIDs...)
		for name := range allTimelines {
			if tc, ok := ch.times[name]; ok {
				times[name] = append(times[name], tc.Values...)
			} else {
				for i := 0; i < ch.NumRows(); i++ {
					times[name] = append(times[name], timeline.Static)
				}
			}
		}
		for d := range allComponents {
			if col, ok := ch.components[d]; ok {
				components[d] = append(components[d], col.Cells...)
			} else {
				for i := 0; i < ch.NumRows(); i++ {
					components[d] = append(components[d], nil)
				}
			}
		}
	}

	for i := 1; i < len(rowIDs); i++ {
		if rowIDs[i] <= rowIDs[i-1] {
			return nil, &ErrNonMonotoneRowID{Index: i, Prev: rowIDs[i-1], Got: rowIDs[i]}
		}
	}

	finalTimes := make(map[timeline.Name]TimeColumn, len(times))
	for name, values := range times {
		sorted := true
		for i := 1; i < len(values); i++ {
			if values[i] < values[i-1] {
				sorted = false
				break
			}
		}
		finalTimes[name] = TimeColumn{Values: values, sorted: sorted}
	}
	finalComponents := make(map[component.Descriptor]Column, len(components))
	for d, cells := range components {
		finalComponents[d] = Column{Cells: cells}
	}

	return &Chunk{
		id:         newID,
		entityPath: entityPath,
		rowIDs:     rowIDs,
		times:      finalTimes,
		components: finalComponents,
	}, nil
}
