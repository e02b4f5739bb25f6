// Package component defines the structural descriptor that identifies a
// single column in a chunk.
package component

import "fmt"

// Descriptor structurally identifies a component column. Two descriptors are
// equal iff all three fields are equal; it is a plain comparable struct so
// it can be used directly as a map key.
type Descriptor struct {
	// ArchetypeName is optional context for the component (e.g. "Points3D");
	// empty string means "no archetype".
	ArchetypeName string `cbor:"archetype_name,omitempty" json:"archetype_name,omitempty"`

	// ComponentIdentifier names the column itself (e.g. "Points3D:positions").
	ComponentIdentifier string `cbor:"component" json:"component"`

	// ComponentType is optional further qualification of the logical type
	// (e.g. "rerun.components.Position3D"); empty string means "unspecified".
	ComponentType string `cbor:"component_type,omitempty" json:"component_type,omitempty"`
}

// New builds a Descriptor from just the required component identifier.
func New(componentIdentifier string) Descriptor {
	return Descriptor{ComponentIdentifier: componentIdentifier}
}

// WithArchetype returns a copy of d with ArchetypeName set.
func (d Descriptor) WithArchetype(name string) Descriptor {
	d.ArchetypeName = name
	return d
}

// WithComponentType returns a copy of d with ComponentType set.
func (d Descriptor) WithComponentType(t string) Descriptor {
	d.ComponentType = t
	return d
}

// String renders the descriptor for logs/debugging, e.g.
// "Points3D:positions (rerun.components.Position3D)".
func (d Descriptor) String() string {
	s := d.ComponentIdentifier
	if d.ArchetypeName != "" {
		s = d.ArchetypeName + ":" + s
	}
	if d.ComponentType != "" {
		s = fmt.Sprintf("%s (%s)", s, d.ComponentType)
	}
	return s
}
