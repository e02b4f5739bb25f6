// Package entitypath implements the hierarchical path that names a stream of
// observations in the chunk store (e.g. "/world/car/wheel").
package entitypath

import (
	"strings"

	"golang.org/x/text/unicode/norm"
	"lukechampine.com/blake3"
)

// Path is a hierarchical entity path. It caches its own hash so that it can
// be used as a fast map key without rehashing on every lookup. Path is a
// plain comparable value (a string and a uint64) so it can be used directly as
// a Go map key, e.g. map[entitypath.Path]*Chunk.
type Path struct {
	str  string
	hash uint64
}

// New builds a Path from its slash-separated string form. Each segment is
// normalized to NFC before hashing, so visually identical paths that differ
// only in Unicode composition hash identically — the same normalization
// concern the teacher applies to handles before they ever touch a routing
// table or DHT key.
func New(pathStr string) Path {
	trimmed := strings.Trim(pathStr, "/")
	var parts []string
	if trimmed != "" {
		rawParts := strings.Split(trimmed, "/")
		parts = make([]string, len(rawParts))
		for i, p := range rawParts {
			parts[i] = norm.NFC.String(p)
		}
	}
	return fromParts(parts)
}

// Join appends segments to the path, returning a new Path.
func (p Path) Join(segments ...string) Path {
	normalized := make([]string, len(segments))
	for i, s := range segments {
		normalized[i] = norm.NFC.String(s)
	}
	combined := append(append([]string{}, p.Parts()...), normalized...)
	return fromParts(combined)
}

func fromParts(parts []string) Path {
	str := "/" + strings.Join(parts, "/")
	if len(parts) == 0 {
		str = "/"
	}
	return Path{
		str:  str,
		hash: hashParts(parts),
	}
}

func hashParts(parts []string) uint64 {
	h := blake3.New(8, nil)
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0}) // separator so ["a","b"] != ["ab"]
	}
	sum := h.Sum(nil)
	var v uint64
	for _, b := range sum {
		v = v<<8 | uint64(b)
	}
	return v
}

// String returns the canonical slash-separated form, e.g. "/world/car/wheel".
func (p Path) String() string { return p.str }

// Hash returns the cached 64-bit hash of the path, suitable as a map key
// component.
func (p Path) Hash() uint64 { return p.hash }

// Len returns the number of path segments.
func (p Path) Len() int { return len(p.Parts()) }

// Parts splits the path back into its segments. Computed on demand since
// Path itself only stores the canonical string plus its hash.
func (p Path) Parts() []string {
	trimmed := strings.Trim(p.str, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// IsRoot reports whether the path has no segments.
func (p Path) IsRoot() bool { return p.str == "" || p.str == "/" }

// Parent returns the path with its last segment removed, and false if the
// path is already the root.
func (p Path) Parent() (Path, bool) {
	parts := p.Parts()
	if len(parts) == 0 {
		return p, false
	}
	return fromParts(parts[:len(parts)-1]), true
}

// Equal reports whether two paths are identical.
func (p Path) Equal(other Path) bool {
	return p.hash == other.hash && p.str == other.str
}
