package chunkstore

import "math"

// Config governs the chunk store's compaction/splitting thresholds.
// Grounded on spec.md §6.1's ChunkStoreConfig.
type Config struct {
	// EnableChangelog gates store-event emission; when false, InsertChunk and
	// GC still perform all index mutations but always return a nil event
	// slice, for callers that never subscribe and want to skip the
	// allocation.
	EnableChangelog bool

	// ChunkMaxBytes is the approximate heap-size threshold above which an
	// incoming chunk is split.
	ChunkMaxBytes uint64

	// ChunkMaxRows applies when the chunk is sorted on its primary timeline.
	ChunkMaxRows uint64

	// ChunkMaxRowsIfUnsorted applies when the chunk is not sorted on at
	// least one of its timelines; typically much smaller than ChunkMaxRows
	// since unsorted chunks are more expensive to query.
	ChunkMaxRowsIfUnsorted uint64

	// compactionDisabled is set only by CompactionDisabledConfig; splitting
	// still runs normally.
	compactionDisabled bool
}

// DefaultConfig returns sensible interactive-ingestion thresholds.
func DefaultConfig() Config {
	return Config{
		EnableChangelog:        true,
		ChunkMaxBytes:          1 << 20, // 1 MiB
		ChunkMaxRows:           4096,
		ChunkMaxRowsIfUnsorted: 256,
	}
}

// AllDisabledConfig disables both splitting (by setting every threshold to
// its maximum, so no chunk ever exceeds them) and compaction (explicitly, via
// compactionDisabled — a high threshold alone doesn't stop compaction, since
// a merged chunk would still fit under it), while still emitting events.
// Useful for tests that want to assert on chunk identity without the store
// reshaping input.
func AllDisabledConfig() Config {
	return Config{
		EnableChangelog:        true,
		ChunkMaxBytes:          math.MaxUint64,
		ChunkMaxRows:           math.MaxUint64,
		ChunkMaxRowsIfUnsorted: math.MaxUint64,
		compactionDisabled:     true,
	}
}

// CompactionDisabledConfig keeps splitting active (so single oversized
// chunks are still broken up) but never merges two indexed chunks together.
func CompactionDisabledConfig() Config {
	cfg := DefaultConfig()
	cfg.compactionDisabled = true
	return cfg
}
