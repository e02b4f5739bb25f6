// Package videocache implements the per-(entity, timeline) video sample
// index: a lazily-built, incrementally-maintained view over a chunk store's
// video-sample column that tracks sample buffers, per-sample metadata, and
// GOP boundaries. Grounded on
// original_source/crates/viewer/re_viewer_context/src/cache/video_stream_cache.rs
// for the build/addition/deletion/rollback-on-compaction algorithm.
package videocache

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rerun-io/rerun-sub005/pkg/chunk"
	"github.com/rerun-io/rerun-sub005/pkg/chunkid"
	"github.com/rerun-io/rerun-sub005/pkg/chunkstore"
	"github.com/rerun-io/rerun-sub005/pkg/component"
	"github.com/rerun-io/rerun-sub005/pkg/entitypath"
	"github.com/rerun-io/rerun-sub005/pkg/query"
	"github.com/rerun-io/rerun-sub005/pkg/timeline"
)

// Codec names a video codec (e.g. "h264", "av1"); interpretation is left to
// the injected GopDetector, per spec.md §6.5's "the core only needs a
// codec-agnostic predicate".
type Codec string

// EncodingDetails describes the coded bitstream's parameters, as reported by
// GOP detection on its first sync sample.
type EncodingDetails struct {
	CodecString       string
	CodedWidth        uint32
	CodedHeight       uint32
	ChromaSubsampling string
	BitDepth          uint8
}

// Equal reports whether two EncodingDetails describe the same bitstream
// parameters.
func (e EncodingDetails) Equal(other EncodingDetails) bool {
	return e == other
}

// GopDetectionKind discriminates a GopDetector's verdict for one sample.
type GopDetectionKind uint8

const (
	// NotStartOfGop: the sample extends the currently open GOP.
	NotStartOfGop GopDetectionKind = iota
	// StartOfGop: the sample is a sync sample opening a new GOP.
	StartOfGop
)

// GopDetection is the result of running GOP-boundary detection on one
// sample.
type GopDetection struct {
	Kind GopDetectionKind
	// Details is populated only when Kind == StartOfGop.
	Details EncodingDetails
}

// GopDetector is the codec-specific collaborator that classifies each
// sample; the core stays codec-agnostic per spec.md §6.5.
type GopDetector func(sample []byte, codec Codec) (GopDetection, error)

// SampleMetadata describes one decoded sample's placement in a stream.
// FrameNr is the sample's index at the time it was appended (spec.md §3.6:
// b-frames are not supported, so PTS == DTS); pruning samples from the head
// of the stream does not renumber the survivors.
type SampleMetadata struct {
	FrameNr               uint64
	DecodeTimestamp       timeline.Int
	PresentationTimestamp timeline.Int
	// Duration is nil for the stream's last sample, whose end is unknown
	// until a later sample arrives.
	Duration    *int64
	IsSync      bool
	BufferIndex int
	Offset      uint32
	Len         uint32
}

// SampleRange is a half-open [Start, End) range over a stream's sample list.
type SampleRange struct {
	Start int
	End   int
}

// SampleBuffer is a strong handle on one source chunk's worth of sample
// bytes, plus the half-open sample-index range it contributed. One buffer
// per contributing chunk (spec.md §3.6). Holding the chunk alive here is the
// cache's own extension of the chunk's lifetime past whatever the store
// itself still references (spec.md §5's "shared-resource policy").
type SampleBuffer struct {
	ChunkID          chunkid.ChunkId
	Chunk            *chunk.Chunk
	SampleIndexRange SampleRange
}

// GOP is one group-of-pictures: a contiguous, non-overlapping sample range
// whose first sample is a sync sample.
type GOP struct {
	SampleRange SampleRange
}

// Error kinds from spec.md §7.

// OutOfOrderSamplesError is returned when a chunk's minimum DTS on the
// queried timeline regresses past the stream's already-accumulated maximum;
// the offending chunk is skipped, not the whole build.
type OutOfOrderSamplesError struct {
	EntityPath entitypath.Path
	Timeline   timeline.Name
	ChunkID    chunkid.ChunkId
}

func (e *OutOfOrderSamplesError) Error() string {
	return fmt.Sprintf("videocache: chunk %s for %s@%s has samples out of DTS order, ignored", e.ChunkID, e.EntityPath, e.Timeline)
}

// EncodingDetailsChangedError is returned when a new sync sample reports
// EncodingDetails incompatible with the stream's current ones. The change is
// refused; every downstream decoder for this stream must be reset.
type EncodingDetailsChangedError struct {
	EntityPath entitypath.Path
	Timeline   timeline.Name
	Previous   EncodingDetails
	New        EncodingDetails
}

func (e *EncodingDetailsChangedError) Error() string {
	return fmt.Sprintf("videocache: encoding details changed for %s@%s: %+v -> %+v, all decoders reset", e.EntityPath, e.Timeline, e.Previous, e.New)
}

// MissingRequiredComponentError marks a stream permanently unbuildable: the
// configured sample component is absent from every chunk the store has for
// this entity.
type MissingRequiredComponentError struct {
	EntityPath entitypath.Path
	Component  component.Descriptor
}

func (e *MissingRequiredComponentError) Error() string {
	return fmt.Sprintf("videocache: %s has no %s column", e.EntityPath, e.Component)
}

// Stream is the per-(entity, timeline) sample/GOP index. Reads (players on a
// UI thread) and the event-driven updater synchronize via a per-stream
// RWMutex, per spec.md §5 ("the video cache uses a reader-writer lock per
// (entity, timeline) stream"); grounded on the teacher's
// internal/dht.Bucket, which guards each routing bucket with its own
// sync.RWMutex rather than one lock for the whole table.
type Stream struct {
	mu sync.RWMutex

	entityPath      entitypath.Path
	timelineName    timeline.Name
	sampleComponent component.Descriptor
	codec           Codec

	encodingDetails *EncodingDetails
	timescale       uint64

	buffers []SampleBuffer
	samples []SampleMetadata
	gops    []GOP

	hasMaxDTS bool
	maxDTS    timeline.Int

	// err is set only by MissingRequiredComponentError: the stream is
	// permanently unbuildable and every future Entry call returns this
	// same error without retrying.
	err error

	// warnings accumulates non-fatal OutOfOrderSamplesError and
	// EncodingDetailsChangedError values from the last build or reconcile
	// pass, for a caller that wants to surface them.
	warnings []error

	// usedThisFrame backs the hub's begin_frame eviction sweep (spec.md §5);
	// it is a plain atomic rather than something guarded by mu since Entry
	// sets it without otherwise touching the stream.
	usedThisFrame atomic.Bool
}

// Warnings returns the non-fatal errors observed during the stream's last
// build or reconcile pass.
func (s *Stream) Warnings() []error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]error(nil), s.warnings...)
}

// EntityPath returns the stream's entity path.
func (s *Stream) EntityPath() entitypath.Path { return s.entityPath }

// Timeline returns the stream's timeline.
func (s *Stream) Timeline() timeline.Name { return s.timelineName }

// Err returns the stream's permanent build error, if any.
func (s *Stream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// NumSamples returns the number of samples currently indexed.
func (s *Stream) NumSamples() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Sample returns a copy of the sample at index i.
func (s *Stream) Sample(i int) (SampleMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.samples) {
		return SampleMetadata{}, false
	}
	return s.samples[i], true
}

// GOPs returns a copy of the stream's current GOP list.
func (s *Stream) GOPs() []GOP {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]GOP(nil), s.gops...)
}

// Buffers returns a copy of the stream's current buffer list.
func (s *Stream) Buffers() []SampleBuffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SampleBuffer(nil), s.buffers...)
}

// EncodingDetails returns the stream's currently-agreed encoding details, if
// any sync sample has been seen yet.
func (s *Stream) EncodingDetails() (EncodingDetails, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.encodingDetails == nil {
		return EncodingDetails{}, false
	}
	return *s.encodingDetails, true
}

// Timescale returns the stream's timescale (spec.md §4.4: 1 for Sequence,
// 1e9 for the nanosecond-denominated timeline types).
func (s *Stream) Timescale() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timescale
}

// Cache builds and maintains one Stream per (entity, timeline) encountered,
// subscribing to a chunk store's event stream for incremental maintenance.
// Grounded on original_source's VideoStreamCache trait; the sample
// component, codec, and GOP detector are injected since the core has no
// opinion on which column carries video bytes or how a given codec's sync
// samples are recognised (spec.md §6.5).
type Cache struct {
	mu              sync.Mutex
	store           query.Store
	sampleComponent component.Descriptor
	codec           Codec
	detect          GopDetector
	timeType        timeline.TimeType
	streams         map[streamKey]*Stream
}

type streamKey struct {
	entityPath entitypath.Path
	timeline   timeline.Name
}

// New returns an empty Cache. timeType governs the timescale every stream in
// this cache reports (spec.md §4.4); sampleComponent names the column that
// carries raw sample bytes; detect performs codec-specific GOP-boundary
// classification.
func New(store query.Store, sampleComponent component.Descriptor, codec Codec, timeType timeline.TimeType, detect GopDetector) *Cache {
	return &Cache{
		store:           store,
		sampleComponent: sampleComponent,
		codec:           codec,
		detect:          detect,
		timeType:        timeType,
		streams:         make(map[streamKey]*Stream),
	}
}

// Entry returns the Stream for (ep, tl), building it on first call.
// Subsequent calls return the same, incrementally-maintained Stream.
func (c *Cache) Entry(ep entitypath.Path, tl timeline.Name) *Stream {
	key := streamKey{entityPath: ep, timeline: tl}

	c.mu.Lock()
	s, ok := c.streams[key]
	if !ok {
		s = &Stream{
			entityPath:      ep,
			timelineName:    tl,
			sampleComponent: c.sampleComponent,
			codec:           c.codec,
			timescale:       c.timeType.Timescale(),
		}
		c.streams[key] = s
	}
	c.mu.Unlock()

	s.usedThisFrame.Store(true)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		c.build(s)
	}
	return s
}

// BeginFrame evicts every stream untouched by an Entry call since the
// previous BeginFrame, and clears the flag on the rest, per spec.md §5's
// "entries untouched for a full frame may be evicted at the top of the next
// frame".
func (c *Cache) BeginFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, s := range c.streams {
		if !s.usedThisFrame.Swap(false) {
			delete(c.streams, key)
		}
	}
}

// PurgeMemory evicts every built stream unconditionally; each rebuilds
// lazily on its next Entry call. Grounded on original_source's
// Caches::purge_memory, which storehub.Hub.PurgeFractionOfRAM calls before
// measuring how many bytes a GC pass actually freed, so cache-held chunk
// references don't mask the result.
func (c *Cache) PurgeMemory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams = make(map[streamKey]*Stream)
}

// build performs the initial load described in spec.md §4.4. Caller holds
// s.mu for writing.
func (c *Cache) build(s *Stream) {
	rng := query.RangeQuery{Timeline: s.timelineName, Range: timeline.AbsoluteRange{Min: timeline.MinInt, Max: timeline.MaxInt}}
	chunks := query.RangeRelevantChunks(c.store, rng, s.entityPath, s.sampleComponent)
	if len(chunks) == 0 {
		s.err = &MissingRequiredComponentError{EntityPath: s.entityPath, Component: s.sampleComponent}
		return
	}

	sort.Slice(chunks, func(i, j int) bool {
		si, _ := chunks[i].StartTime(s.timelineName)
		sj, _ := chunks[j].StartTime(s.timelineName)
		return si < sj
	})

	s.warnings = nil
	for _, ch := range chunks {
		if err := c.appendChunk(s, ch); err != nil {
			s.warnings = append(s.warnings, err)
		}
	}
	backfillDurations(s.samples)
}

// appendChunk processes one source chunk's rows, in timeline order, onto the
// end of s. A chunk whose minimum time regresses past the stream's
// already-accumulated maximum DTS is skipped entirely and reported back as
// an *OutOfOrderSamplesError (spec.md §7: "affected chunk ignored").
func (c *Cache) appendChunk(s *Stream, ch *chunk.Chunk) error {
	minTime, ok := ch.StartTime(s.timelineName)
	if !ok {
		return nil
	}
	if s.hasMaxDTS && minTime < s.maxDTS {
		return &OutOfOrderSamplesError{EntityPath: s.entityPath, Timeline: s.timelineName, ChunkID: ch.ID()}
	}

	perm := ch.SortPermutationForTimeline(s.timelineName)
	bufStart := len(s.samples)

	for _, row := range perm {
		t, ok := ch.TimeAt(s.timelineName, row)
		if !ok {
			continue
		}
		cell, ok := ch.Cell(s.sampleComponent, row)
		if !ok || cell == nil {
			continue
		}

		detection, err := c.detect(cell, s.codec)
		if err != nil {
			continue
		}

		isSync := detection.Kind == StartOfGop
		if isSync {
			if prev, changed := c.applyEncodingDetails(s, detection.Details); changed {
				s.warnings = append(s.warnings, &EncodingDetailsChangedError{
					EntityPath: s.entityPath, Timeline: s.timelineName,
					Previous: prev, New: detection.Details,
				})
			}
			s.gops = append(s.gops, GOP{SampleRange: SampleRange{Start: len(s.samples), End: len(s.samples) + 1}})
		} else if n := len(s.gops); n > 0 {
			s.gops[n-1].SampleRange.End = len(s.samples) + 1
		}

		s.samples = append(s.samples, SampleMetadata{
			FrameNr:               uint64(len(s.samples)),
			DecodeTimestamp:       t,
			PresentationTimestamp: t,
			IsSync:                isSync,
			BufferIndex:           len(s.buffers),
			Offset:                0,
			Len:                   uint32(len(cell)),
		})
		s.maxDTS = t
		s.hasMaxDTS = true
	}

	if len(s.samples) > bufStart {
		s.buffers = append(s.buffers, SampleBuffer{
			ChunkID:          ch.ID(),
			Chunk:            ch,
			SampleIndexRange: SampleRange{Start: bufStart, End: len(s.samples)},
		})
	}
	return nil
}

// applyEncodingDetails reconciles a newly-observed sync sample's encoding
// details against the stream's current ones. Reports changed=true (and
// leaves the stream's details unchanged, per spec.md §4.4's "the change is
// refused") when they disagree; prev is the details the new ones conflicted
// with.
func (c *Cache) applyEncodingDetails(s *Stream, details EncodingDetails) (prev EncodingDetails, changed bool) {
	if s.encodingDetails == nil {
		d := details
		s.encodingDetails = &d
		return EncodingDetails{}, false
	}
	if s.encodingDetails.Equal(details) {
		return EncodingDetails{}, false
	}
	return *s.encodingDetails, true
}

// backfillDurations fills in samples[i].Duration as the delta to the next
// sample's PTS, leaving the last sample's Duration nil (spec.md §4.4 step 5).
func backfillDurations(samples []SampleMetadata) {
	for i := 0; i < len(samples)-1; i++ {
		d := int64(samples[i+1].PresentationTimestamp) - int64(samples[i].PresentationTimestamp)
		samples[i].Duration = &d
	}
	if n := len(samples); n > 0 {
		samples[n-1].Duration = nil
	}
}

// OnStoreEvents incrementally reconciles every stream this cache has already
// built against a batch of chunk store events, per spec.md §4.4's Addition
// and Deletion rules. Streams never built yet (no Entry call so far) are
// left alone; they will pick up fresh data lazily on their first Entry call.
func (c *Cache) OnStoreEvents(events []chunkstore.Event) []error {
	c.mu.Lock()
	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	var warnings []error
	for _, s := range streams {
		s.mu.Lock()
		for _, ev := range events {
			if ev.Diff.Chunk == nil || !ev.Diff.Chunk.EntityPath().Equal(s.entityPath) {
				continue
			}
			if !ev.Diff.Chunk.HasComponent(s.sampleComponent) {
				continue
			}
			switch ev.Diff.Kind {
			case chunkstore.DiffAddition:
				if err := c.reconcileAddition(s, ev); err != nil {
					warnings = append(warnings, err)
				}
			case chunkstore.DiffDeletion:
				c.reconcileDeletion(s, ev.Diff.Chunk.ID())
			}
		}
		s.mu.Unlock()
	}
	return warnings
}

// reconcileAddition implements spec.md §4.4's Addition rule: if the event
// reports a compaction (the chunk absorbed ancestors already present in the
// stream), roll back every buffer from the first absorbed ancestor onward,
// then replay the new chunk; otherwise just append.
func (c *Cache) reconcileAddition(s *Stream, ev chunkstore.Event) error {
	if len(ev.Diff.Lineage.CompactedAncestors) > 0 {
		rollbackTo := -1
		for i, buf := range s.buffers {
			for _, ancestor := range ev.Diff.Lineage.CompactedAncestors {
				if ancestor != nil && buf.ChunkID == ancestor.ID() {
					if rollbackTo == -1 || i < rollbackTo {
						rollbackTo = i
					}
				}
			}
		}
		if rollbackTo != -1 {
			truncateToBuffer(s, rollbackTo)
		}
	}
	err := c.appendChunk(s, ev.Diff.Chunk)
	backfillDurations(s.samples)
	return err
}

// truncateToBuffer drops every buffer and sample from index k onward, and
// trims the GOP list "from the back" so the last surviving GOP's end matches
// the new sample count (spec.md §4.4).
func truncateToBuffer(s *Stream, k int) {
	if k < 0 || k >= len(s.buffers) {
		return
	}
	cut := s.buffers[k].SampleIndexRange.Start
	s.buffers = s.buffers[:k]
	s.samples = s.samples[:cut]

	gops := s.gops[:0]
	for _, g := range s.gops {
		if g.SampleRange.Start >= cut {
			continue
		}
		if g.SampleRange.End > cut {
			g.SampleRange.End = cut
		}
		gops = append(gops, g)
	}
	s.gops = gops

	s.hasMaxDTS = false
	s.maxDTS = 0
	if n := len(s.samples); n > 0 {
		s.maxDTS = s.samples[n-1].DecodeTimestamp
		s.hasMaxDTS = true
	}
}

// reconcileDeletion implements spec.md §4.4's Deletion rule: GC is assumed
// to prune only from the head of a stream, so the deleted chunk's buffer and
// every earlier buffer are dropped, and any GOP whose first sample falls
// before the new minimum is dropped whole (never truncated, since a GOP's
// first sample must remain a sync sample).
func (c *Cache) reconcileDeletion(s *Stream, deletedID chunkid.ChunkId) {
	idx := -1
	for i, buf := range s.buffers {
		if buf.ChunkID == deletedID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	newMin := s.buffers[idx].SampleIndexRange.End
	s.buffers = append([]SampleBuffer(nil), s.buffers[idx+1:]...)
	s.samples = append([]SampleMetadata(nil), s.samples[newMin:]...)

	for i := range s.buffers {
		s.buffers[i].SampleIndexRange.Start -= newMin
		s.buffers[i].SampleIndexRange.End -= newMin
	}
	for i := range s.samples {
		s.samples[i].BufferIndex -= idx + 1
	}

	kept := s.gops[:0]
	for _, g := range s.gops {
		if g.SampleRange.Start < newMin {
			continue
		}
		g.SampleRange.Start -= newMin
		g.SampleRange.End -= newMin
		kept = append(kept, g)
	}
	s.gops = kept
}
