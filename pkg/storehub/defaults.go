package storehub

import (
	"time"

	"github.com/rerun-io/rerun-sub005/pkg/timeline"
)

// Cross-cutting defaults, following pkg/constants/defaults.go's single-file
// style rather than a config-management library.
const (
	// DefaultGCTimeBudget bounds a single blueprint or recording GC pass
	// (spec.md §5: "GC runs under a time_budget").
	DefaultGCTimeBudget = 100 * time.Millisecond

	// DefaultPurgeFraction is how much of a background recording's byte
	// footprint a memory-pressure purge targets per call.
	DefaultPurgeFraction = 0.25

	// DefaultProtectLatest keeps the latest instance of every column so
	// blueprint GC never forgets stationary state (spec.md §4.6).
	DefaultProtectLatest = 1

	// DefaultUndoHistoryCapacity bounds how many undo watermarks a
	// BlueprintHistory retains before the oldest is evicted.
	DefaultUndoHistoryCapacity = 64
)

// BlueprintTimeline is the timeline undo watermarks and GC protected ranges
// are expressed on, mirroring original_source's crate::blueprint_timeline().
const BlueprintTimeline timeline.Name = "blueprint"
