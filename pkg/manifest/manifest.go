// Package manifest implements the durable, content-addressed description a
// chunk can be re-fetched from once evicted from memory — the referent of a
// lineage.ReferencedFrom entry. Adapted from the teacher's
// pkg/content/manifest.go and pkg/content/cid.go, generalized from
// byte-range file chunks to chunk-store column segments.
package manifest

import (
	"encoding/base32"
	"fmt"
	"sort"
	"strings"

	"lukechampine.com/blake3"

	"github.com/rerun-io/rerun-sub005/pkg/codec/cborcanon"
)

// idPrefix distinguishes a manifest ID from any other blake3-derived
// identifier that might end up in the same log line or CLI argument.
const idPrefix = "manifest"

// hashSize is the BLAKE3-256 digest size in bytes.
const hashSize = 32

// ID content-addresses a Manifest: the canonical-CBOR encoding of the
// manifest is hashed with BLAKE3-256 and the digest is base32-encoded.
type ID struct {
	hash   [hashSize]byte
	string string
}

// IsValid reports whether id was actually computed (as opposed to the zero
// value, which no real manifest ever hashes to with overwhelming probability).
func (id ID) IsValid() bool { return id.string != "" }

// String returns the canonical "manifest:<base32>" form.
func (id ID) String() string { return id.string }

// Equal reports whether two IDs name the same manifest.
func (id ID) Equal(other ID) bool { return id.hash == other.hash }

func newID(hash [hashSize]byte) ID {
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(hash[:])
	return ID{hash: hash, string: fmt.Sprintf("%s:%s", idPrefix, strings.ToLower(encoded))}
}

// MarshalCBOR encodes id as its canonical string form, so a Manifest
// containing Segment.CID fields round-trips its real content over the wire
// instead of silently encoding an empty struct.
func (id ID) MarshalCBOR() ([]byte, error) {
	return cborcanon.Marshal(id.string)
}

// UnmarshalCBOR decodes id from the string form written by MarshalCBOR.
func (id *ID) UnmarshalCBOR(data []byte) error {
	var s string
	if err := cborcanon.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("manifest: decoding id: %w", err)
	}
	if s == "" {
		*id = ID{}
		return nil
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID parses the "manifest:<base32>" string form produced by String.
func ParseID(s string) (ID, error) {
	const prefix = idPrefix + ":"
	if !strings.HasPrefix(s, prefix) {
		return ID{}, fmt.Errorf("manifest: bad id %q: missing %q prefix", s, prefix)
	}
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(strings.TrimPrefix(s, prefix)))
	if err != nil {
		return ID{}, fmt.Errorf("manifest: bad id %q: %w", s, err)
	}
	if len(raw) != hashSize {
		return ID{}, fmt.Errorf("manifest: bad id %q: want %d hash bytes, got %d", s, hashSize, len(raw))
	}
	var hash [hashSize]byte
	copy(hash[:], raw)
	return ID{hash: hash, string: s}, nil
}

// Segment describes one durable chunk of column data within a manifest,
// addressed by its own content hash so partial re-fetch and integrity
// checking don't require re-downloading the whole manifest.
type Segment struct {
	CID    ID     `cbor:"cid"`
	Offset uint64 `cbor:"offset"`
	Size   uint64 `cbor:"size"`
}

// Manifest durably describes how to re-fetch a chunk's column data: which
// store/recording it belongs to, and the ordered list of content-addressed
// segments that reassemble into the original chunk payload.
type Manifest struct {
	Version     uint32    `cbor:"version"`
	StoreID     string    `cbor:"store_id"`
	EntityPath  string    `cbor:"entity_path"`
	TotalSize   uint64    `cbor:"total_size"`
	Segments    []Segment `cbor:"segments"`
	CreatedAtNs int64     `cbor:"created_at_ns"`
}

// Build assembles a Manifest from an ordered list of segments, sorting them
// by offset the way the teacher's BuildManifest sorts ChunkInfo.
func Build(storeID, entityPath string, segments []Segment, createdAtNs int64) (*Manifest, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("manifest: cannot build from zero segments")
	}
	sorted := append([]Segment(nil), segments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var total uint64
	for _, s := range sorted {
		total += s.Size
	}

	return &Manifest{
		Version:     1,
		StoreID:     storeID,
		EntityPath:  entityPath,
		TotalSize:   total,
		Segments:    sorted,
		CreatedAtNs: createdAtNs,
	}, nil
}

// ComputeID hashes the canonical CBOR encoding of m to produce its content
// address. Two manifests with identical fields always produce the same ID.
func ComputeID(m *Manifest) (ID, error) {
	data, err := cborcanon.Marshal(m)
	if err != nil {
		return ID{}, fmt.Errorf("manifest: canonical encode failed: %w", err)
	}
	return newID(blake3.Sum256(data)), nil
}

// Verify checks internal consistency: segments are contiguous from offset 0,
// non-overlapping, and sum to TotalSize.
func Verify(m *Manifest) error {
	if m == nil {
		return fmt.Errorf("manifest: nil manifest")
	}
	if m.Version == 0 {
		return fmt.Errorf("manifest: invalid version %d", m.Version)
	}
	if len(m.Segments) == 0 {
		return fmt.Errorf("manifest: no segments")
	}
	var expectedOffset uint64
	var total uint64
	for i, seg := range m.Segments {
		if seg.Offset != expectedOffset {
			return fmt.Errorf("manifest: segment %d has offset %d, expected %d", i, seg.Offset, expectedOffset)
		}
		if seg.Size == 0 {
			return fmt.Errorf("manifest: segment %d has zero size", i)
		}
		if !seg.CID.IsValid() {
			return fmt.Errorf("manifest: segment %d has invalid CID", i)
		}
		expectedOffset += seg.Size
		total += seg.Size
	}
	if total != m.TotalSize {
		return fmt.Errorf("manifest: total size mismatch: header says %d, segments sum to %d", m.TotalSize, total)
	}
	return nil
}

// ValidateAgainstID verifies m hashes to the expected id, catching tampering
// or corruption in a manifest fetched from an untrusted remote.
func ValidateAgainstID(m *Manifest, expected ID) error {
	actual, err := ComputeID(m)
	if err != nil {
		return err
	}
	if !actual.Equal(expected) {
		return fmt.Errorf("manifest: id mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}
