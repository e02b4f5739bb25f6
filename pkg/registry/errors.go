package registry

import (
	"fmt"

	"github.com/rerun-io/rerun-sub005/pkg/entitypath"
)

// ErrDuplicateSegment is returned when RegisterSegment is called with
// IfDuplicateError and a segment with the same ID already exists.
type ErrDuplicateSegment struct {
	Dataset   string
	SegmentID string
}

func (e *ErrDuplicateSegment) Error() string {
	return fmt.Sprintf("registry: dataset %q already has a segment %q", e.Dataset, e.SegmentID)
}

// ErrSchemaIncompatibility is returned when a segment's layer declares a
// component identifier with a type that conflicts with the type already
// established for that (entity path, component) pair elsewhere in the
// dataset.
type ErrSchemaIncompatibility struct {
	Dataset      string
	SegmentID    string
	EntityPath   entitypath.Path
	Component    string
	ExistingType string
	NewType      string
}

func (e *ErrSchemaIncompatibility) Error() string {
	return fmt.Sprintf("registry: segment %q in dataset %q: component %q on %q has type %q, conflicts with existing type %q",
		e.SegmentID, e.Dataset, e.Component, e.EntityPath, e.NewType, e.ExistingType)
}

// IsDuplicateSegment reports whether err is an ErrDuplicateSegment,
// following the teacher's content.IsNetworkError-style classification
// helper pattern.
func IsDuplicateSegment(err error) bool {
	_, ok := err.(*ErrDuplicateSegment)
	return ok
}

// IsSchemaIncompatibility reports whether err is an
// ErrSchemaIncompatibility.
func IsSchemaIncompatibility(err error) bool {
	_, ok := err.(*ErrSchemaIncompatibility)
	return ok
}
