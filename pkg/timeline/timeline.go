// Package timeline defines the named time axes chunks are indexed on, and
// the signed 64-bit time values that live on those axes.
package timeline

import (
	"fmt"
	"math"
)

// TimeType classifies what a TimeInt on a given timeline means.
type TimeType int

const (
	// Sequence is a dimensionless monotonic counter (e.g. a frame number).
	Sequence TimeType = iota
	// DurationNs is a duration in nanoseconds relative to some epoch.
	DurationNs
	// TimestampNs is an absolute Unix timestamp in nanoseconds.
	TimestampNs
)

func (t TimeType) String() string {
	switch t {
	case Sequence:
		return "Sequence"
	case DurationNs:
		return "DurationNs"
	case TimestampNs:
		return "TimestampNs"
	default:
		return fmt.Sprintf("TimeType(%d)", int(t))
	}
}

// Timescale returns the ticks-per-second for this time type, following
// spec.md §4.4: Sequence has no wall-clock meaning (scale 1), the two
// nanosecond-denominated types scale against a 1-second timescale.
func (t TimeType) Timescale() uint64 {
	if t == Sequence {
		return 1
	}
	return 1_000_000_000
}

// Int is a signed 64-bit time value. MinInt and MaxInt are reserved sentinels
// bounding the representable range one tick in from math.MinInt64/MaxInt64 so
// that Static (math.MinInt64) is always distinguishable and widening math
// (e.g. subtracting max_interval_length) cannot silently wrap.
type Int int64

const (
	// Static marks the "no time" sentinel used for chunks with no time
	// column; it sorts before every real time value.
	Static Int = math.MinInt64
	// MinInt is the smallest representable real time value.
	MinInt Int = math.MinInt64 + 1
	// MaxInt is the largest representable real time value.
	MaxInt Int = math.MaxInt64
)

// IsStatic reports whether t is the Static sentinel.
func (t Int) IsStatic() bool { return t == Static }

// Sub computes t - other, saturating instead of overflowing past MinInt.
func (t Int) Sub(other Int) Int {
	d := int64(t) - int64(other)
	if d < int64(MinInt) {
		return MinInt
	}
	return Int(d)
}

// Add computes t + other, saturating instead of overflowing past MaxInt.
func (t Int) Add(other Int) Int {
	sum := int64(t) + int64(other)
	if sum > int64(MaxInt) {
		return MaxInt
	}
	if sum < int64(MinInt) {
		return MinInt
	}
	return Int(sum)
}

// Name is an opaque timeline identifier, e.g. "frame" or "log_time".
type Name string

// AbsoluteRange is an inclusive [Min, Max] range on one timeline.
type AbsoluteRange struct {
	Min Int
	Max Int
}

// Contains reports whether t falls within [r.Min, r.Max].
func (r AbsoluteRange) Contains(t Int) bool {
	return t >= r.Min && t <= r.Max
}

// Intersects reports whether r and other overlap.
func (r AbsoluteRange) Intersects(other AbsoluteRange) bool {
	return r.Min <= other.Max && other.Min <= r.Max
}

// ErrIncompatibleType is returned when the same timeline name is used with
// two different TimeTypes across a multi-recording ingest batch (spec.md §6.2).
type ErrIncompatibleType struct {
	Timeline Name
	Existing TimeType
	Incoming TimeType
}

func (e *ErrIncompatibleType) Error() string {
	return fmt.Sprintf("timeline %q has type %s, got incompatible type %s", e.Timeline, e.Existing, e.Incoming)
}

// ErrBadTimeFormat is returned by CLI/config parsing of a TimeInt literal.
type ErrBadTimeFormat struct {
	Input string
	Cause error
}

func (e *ErrBadTimeFormat) Error() string {
	return fmt.Sprintf("bad time format %q: %v", e.Input, e.Cause)
}

func (e *ErrBadTimeFormat) Unwrap() error { return e.Cause }

// Registry tracks the TimeType each timeline name was first seen with and
// rejects cross-recording conflicts (spec.md §6.2: "a timeline name must have
// a stable type across every recording in a multi-recording input").
type Registry struct {
	types map[Name]TimeType
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[Name]TimeType)}
}

// Register records timeline as having type t, or verifies it matches the
// previously recorded type.
func (r *Registry) Register(timeline Name, t TimeType) error {
	existing, ok := r.types[timeline]
	if !ok {
		r.types[timeline] = t
		return nil
	}
	if existing != t {
		return &ErrIncompatibleType{Timeline: timeline, Existing: existing, Incoming: t}
	}
	return nil
}

// TypeOf returns the recorded TimeType for timeline, if any.
func (r *Registry) TypeOf(timeline Name) (TimeType, bool) {
	t, ok := r.types[timeline]
	return t, ok
}
