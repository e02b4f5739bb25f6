package chunkstore

import (
	"sort"

	"github.com/rerun-io/rerun-sub005/pkg/chunkid"
	"github.com/rerun-io/rerun-sub005/pkg/timeline"
)

// timeBucket is one (time, chunk-id-set) entry in a timeEntries slice.
type timeBucket struct {
	time timeline.Int
	ids  map[chunkid.ChunkId]bool
}

// timeEntries is a sorted-slice "ordered map" from TimeInt to a set of
// ChunkIds. Go has no builtin ordered map; a sorted slice with binary search
// gives the O(log n + k) lookups spec.md §4.2 requires without pulling in a
// third-party tree/skiplist the example pack never reaches for either.
type timeEntries struct {
	buckets []timeBucket
}

func (e *timeEntries) search(t timeline.Int) int {
	return sort.Search(len(e.buckets), func(i int) bool { return e.buckets[i].time >= t })
}

func (e *timeEntries) insert(t timeline.Int, id chunkid.ChunkId) {
	i := e.search(t)
	if i < len(e.buckets) && e.buckets[i].time == t {
		e.buckets[i].ids[id] = true
		return
	}
	bucket := timeBucket{time: t, ids: map[chunkid.ChunkId]bool{id: true}}
	e.buckets = append(e.buckets, timeBucket{})
	copy(e.buckets[i+1:], e.buckets[i:])
	e.buckets[i] = bucket
}

// remove drops id from the bucket at time t, and removes the bucket entirely
// if it becomes empty. Reports whether anything was removed.
func (e *timeEntries) remove(t timeline.Int, id chunkid.ChunkId) bool {
	i := e.search(t)
	if i >= len(e.buckets) || e.buckets[i].time != t {
		return false
	}
	if !e.buckets[i].ids[id] {
		return false
	}
	delete(e.buckets[i].ids, id)
	if len(e.buckets[i].ids) == 0 {
		e.buckets = append(e.buckets[:i], e.buckets[i+1:]...)
	}
	return true
}

// largestAtMost returns the largest key <= t, and whether one exists.
func (e *timeEntries) largestAtMost(t timeline.Int) (timeline.Int, bool) {
	i := e.search(t)
	if i < len(e.buckets) && e.buckets[i].time == t {
		return t, true
	}
	if i == 0 {
		return 0, false
	}
	return e.buckets[i-1].time, true
}

// idsInRange returns every chunk id whose key lies in [lo, hi].
func (e *timeEntries) idsInRange(lo, hi timeline.Int) []chunkid.ChunkId {
	start := e.search(lo)
	var out []chunkid.ChunkId
	for i := start; i < len(e.buckets) && e.buckets[i].time <= hi; i++ {
		for id := range e.buckets[i].ids {
			out = append(out, id)
		}
	}
	return out
}

func (e *timeEntries) allIDs() []chunkid.ChunkId {
	var out []chunkid.ChunkId
	for _, b := range e.buckets {
		for id := range b.ids {
			out = append(out, id)
		}
	}
	return out
}

// ChunkIdSetPerTime indexes a set of chunk ids by both start and end time on
// one (entity[, component], timeline) domain, per spec.md §3.3.
type ChunkIdSetPerTime struct {
	perStart          timeEntries
	perEnd            timeEntries
	maxIntervalLength uint64
}

// NewChunkIdSetPerTime returns an empty index.
func NewChunkIdSetPerTime() *ChunkIdSetPerTime {
	return &ChunkIdSetPerTime{}
}

// Add indexes id under [startTime, endTime], widening MaxIntervalLength if
// this interval is the longest seen so far. MaxIntervalLength is never
// shrunk on removal (spec.md §3.3: "never shrunk on deletion").
func (s *ChunkIdSetPerTime) Add(id chunkid.ChunkId, startTime, endTime timeline.Int) {
	s.perStart.insert(startTime, id)
	s.perEnd.insert(endTime, id)
	length := uint64(endTime.Sub(startTime))
	if endTime < startTime {
		length = 0
	}
	if length > s.maxIntervalLength {
		s.maxIntervalLength = length
	}
}

// Remove un-indexes id from [startTime, endTime].
func (s *ChunkIdSetPerTime) Remove(id chunkid.ChunkId, startTime, endTime timeline.Int) {
	s.perStart.remove(startTime, id)
	s.perEnd.remove(endTime, id)
}

// IsEmpty reports whether the index has no entries left.
func (s *ChunkIdSetPerTime) IsEmpty() bool {
	return len(s.perStart.buckets) == 0
}

// MaxIntervalLength returns the widest interval ever indexed here.
func (s *ChunkIdSetPerTime) MaxIntervalLength() uint64 { return s.maxIntervalLength }

// ChunksForLatestAt implements spec.md §4.2's latest-at resolution: find the
// largest start_time <= at, widen by max_interval_length to catch
// overlapping long chunks, and return every chunk whose start_time falls in
// the widened window, deduplicated.
func (s *ChunkIdSetPerTime) ChunksForLatestAt(at timeline.Int) []chunkid.ChunkId {
	upper, ok := s.perStart.largestAtMost(at)
	if !ok {
		return nil
	}
	lower := upper.Sub(timeline.Int(s.maxIntervalLength))
	return dedup(s.perStart.idsInRange(lower, upper))
}

// ChunksForRange implements spec.md §4.2's range resolution: widen the
// lower bound by max_interval_length, then collect every chunk whose
// start_time falls in [min', max]. The caller is responsible for the exact
// per-chunk intersection filter pass.
func (s *ChunkIdSetPerTime) ChunksForRange(min, max timeline.Int) []chunkid.ChunkId {
	widenedMin := min.Sub(timeline.Int(s.maxIntervalLength))
	return dedup(s.perStart.idsInRange(widenedMin, max))
}

// AllChunkIDs returns every chunk id currently indexed here, for GC scans.
func (s *ChunkIdSetPerTime) AllChunkIDs() []chunkid.ChunkId {
	return dedup(s.perStart.allIDs())
}

func dedup(ids []chunkid.ChunkId) []chunkid.ChunkId {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[chunkid.ChunkId]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
