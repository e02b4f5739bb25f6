package registry

import (
	"crypto/ed25519"
	"fmt"
	"sort"

	"github.com/rerun-io/rerun-sub005/pkg/codec/cborcanon"
	"github.com/rerun-io/rerun-sub005/pkg/component"
	"github.com/rerun-io/rerun-sub005/pkg/constants"
	"github.com/rerun-io/rerun-sub005/pkg/entitypath"
	"github.com/rerun-io/rerun-sub005/pkg/identity"
	"github.com/rerun-io/rerun-sub005/pkg/manifest"
	"github.com/rerun-io/rerun-sub005/pkg/remoteproto"
)

// SegmentSpec is the wire form of a Segment: layer schemas flattened to
// plain slices so they round-trip through canonical CBOR without needing
// custom marshalers for map[entitypath.Path][]component.Descriptor.
type SegmentSpec struct {
	ID     string            `cbor:"id"`
	Layers []LayerSpecOnWire `cbor:"layers"`
}

// LayerSpecOnWire is the wire form of a Layer.
type LayerSpecOnWire struct {
	Name       string              `cbor:"name"`
	ManifestID string              `cbor:"manifest_id"`
	Schema     []SchemaEntryOnWire `cbor:"schema"`
}

// SchemaEntryOnWire names one component a layer contributes at one entity
// path.
type SchemaEntryOnWire struct {
	EntityPath    string `cbor:"entity_path"`
	Component     string `cbor:"component"`
	ComponentType string `cbor:"component_type,omitempty"`
}

// RegisterSegmentRequest is the body of a KindRegisterSegment envelope.
type RegisterSegmentRequest struct {
	Dataset  string              `cbor:"dataset"`
	Segments []SegmentSpec       `cbor:"segments"`
	Behavior IfDuplicateBehavior `cbor:"behavior"`
}

// RegisterSegmentResponse is the body of a KindRegisterAck envelope:
// per-segment failures, keyed by segment ID, so a caller can tell which
// segments in the batch actually landed.
type RegisterSegmentResponse struct {
	Failures map[string]string `cbor:"failures"`
}

// Client sends RegisterSegment requests to a registry Server over a
// remoteproto connection, following the teacher's pattern of a thin
// request-builder type around Envelope.Sign/Marshal rather than a
// generated RPC stub.
type Client struct {
	identity *identity.Identity
	seq      uint64
}

// NewClient returns a Client that signs outgoing requests as id.
func NewClient(id *identity.Identity) *Client {
	return &Client{identity: id}
}

// BuildRegisterSegmentEnvelope signs a RegisterSegment request ready to
// send over a remoteproto.Conn via remoteproto.WriteEnvelope.
func (c *Client) BuildRegisterSegmentEnvelope(dataset string, segs []Segment, behavior IfDuplicateBehavior, tsMillis int64) (*remoteproto.Envelope, error) {
	c.seq++
	req := RegisterSegmentRequest{
		Dataset:  dataset,
		Segments: toWireSegments(segs),
		Behavior: behavior,
	}
	env := remoteproto.NewEnvelope(constants.KindRegisterSegment, c.identity.ID(), c.seq, tsMillis, req)
	if err := env.Sign(c.identity.SigningPrivateKey); err != nil {
		return nil, fmt.Errorf("registry: signing RegisterSegment request: %w", err)
	}
	return env, nil
}

func toWireSegments(segs []Segment) []SegmentSpec {
	out := make([]SegmentSpec, 0, len(segs))
	for _, seg := range segs {
		layers := make([]LayerSpecOnWire, 0, len(seg.Layers))
		for _, layer := range seg.Layers {
			var manifestID string
			if layer.Manifest != nil {
				if id, err := layerManifestID(layer); err == nil {
					manifestID = id
				}
			}
			schema := make([]SchemaEntryOnWire, 0)
			paths := make([]string, 0, len(layer.Schema))
			byPath := make(map[string][]SchemaEntryOnWire)
			for path, descriptors := range layer.Schema {
				pathStr := path.String()
				paths = append(paths, pathStr)
				for _, d := range descriptors {
					byPath[pathStr] = append(byPath[pathStr], SchemaEntryOnWire{
						EntityPath:    pathStr,
						Component:     d.ComponentIdentifier,
						ComponentType: d.ComponentType,
					})
				}
			}
			sort.Strings(paths)
			for _, p := range paths {
				schema = append(schema, byPath[p]...)
			}
			layers = append(layers, LayerSpecOnWire{Name: layer.Name, ManifestID: manifestID, Schema: schema})
		}
		out = append(out, SegmentSpec{ID: seg.ID, Layers: layers})
	}
	return out
}

func layerManifestID(layer Layer) (string, error) {
	if layer.Manifest == nil {
		return "", fmt.Errorf("registry: layer %q has no manifest", layer.Name)
	}
	id, err := manifest.ComputeID(layer.Manifest)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// decodeRegisterSegmentBody re-encodes the generic map cborcanon.Unmarshal
// produces for an interface{}-typed Envelope.Body field and decodes it into
// a concrete RegisterSegmentRequest, the same generic-body-to-concrete-type
// round trip the teacher's wire.BaseFrame callers perform on its own
// interface{} payload field.
func decodeRegisterSegmentBody(body interface{}) (RegisterSegmentRequest, error) {
	var req RegisterSegmentRequest
	raw, err := cborcanon.Marshal(body)
	if err != nil {
		return req, fmt.Errorf("registry: re-encoding envelope body: %w", err)
	}
	if err := cborcanon.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("registry: decoding RegisterSegment body: %w", err)
	}
	return req, nil
}

// Server handles incoming RegisterSegment envelopes against a Registry,
// mirroring control.Server's method-dispatch-table shape but over
// remoteproto envelopes instead of a self-delimiting JSON stream.
type Server struct {
	identity *identity.Identity
	registry *Registry
	resolve  func(principal string) (ed25519.PublicKey, bool)
}

// NewServer returns a Server answering requests against reg, resolving a
// request's claimed sender id to a public key via resolve (e.g. a
// dataset-owner table populated out of band).
func NewServer(id *identity.Identity, reg *Registry, resolve func(principal string) (ed25519.PublicKey, bool)) *Server {
	return &Server{identity: id, registry: reg, resolve: resolve}
}

// HandleEnvelope verifies env and, if it is a KindRegisterSegment
// request, applies it to the registry and returns a signed response
// envelope.
func (s *Server) HandleEnvelope(env *remoteproto.Envelope, tsMillis int64) (*remoteproto.Envelope, error) {
	pub, ok := s.resolve(env.From)
	if !ok {
		return s.errorEnvelope(constants.ErrorInvalidSig, fmt.Sprintf("unknown principal %q", env.From), tsMillis)
	}
	if err := env.Verify(pub); err != nil {
		return s.errorEnvelope(constants.ErrorInvalidSig, err.Error(), tsMillis)
	}

	switch env.Kind {
	case constants.KindRegisterSegment:
		return s.handleRegisterSegment(env, tsMillis)
	default:
		return s.errorEnvelope(constants.ErrorVersionMismatch, fmt.Sprintf("unsupported request kind %d", env.Kind), tsMillis)
	}
}

func (s *Server) handleRegisterSegment(env *remoteproto.Envelope, tsMillis int64) (*remoteproto.Envelope, error) {
	req, ok := env.Body.(RegisterSegmentRequest)
	if !ok {
		decoded, err := decodeRegisterSegmentBody(env.Body)
		if err != nil {
			return s.errorEnvelope(constants.ErrorVersionMismatch, "malformed RegisterSegment body", tsMillis)
		}
		req = decoded
	}

	segs := fromWireSegments(req.Segments)
	failures := s.registry.RegisterBatch(req.Dataset, segs, req.Behavior)

	resp := RegisterSegmentResponse{Failures: make(map[string]string, len(failures))}
	for id, err := range failures {
		resp.Failures[id] = err.Error()
	}

	out := remoteproto.NewEnvelope(constants.KindRegisterAck, s.identity.ID(), env.Seq, tsMillis, resp)
	if err := out.Sign(s.identity.SigningPrivateKey); err != nil {
		return nil, fmt.Errorf("registry: signing RegisterAck response: %w", err)
	}
	return out, nil
}

func (s *Server) errorEnvelope(code uint16, reason string, tsMillis int64) (*remoteproto.Envelope, error) {
	out := remoteproto.NewEnvelope(constants.KindError, s.identity.ID(), 0, tsMillis, remoteproto.NewError(code, reason))
	if err := out.Sign(s.identity.SigningPrivateKey); err != nil {
		return nil, fmt.Errorf("registry: signing error response: %w", err)
	}
	return out, nil
}

func fromWireSegments(specs []SegmentSpec) []Segment {
	out := make([]Segment, 0, len(specs))
	for _, spec := range specs {
		layers := make([]Layer, 0, len(spec.Layers))
		for _, layerSpec := range spec.Layers {
			schema := make(map[entitypath.Path][]component.Descriptor)
			for _, entry := range layerSpec.Schema {
				path := entitypath.New(entry.EntityPath)
				desc := component.New(entry.Component).WithComponentType(entry.ComponentType)
				schema[path] = append(schema[path], desc)
			}
			layers = append(layers, Layer{Name: layerSpec.Name, Schema: schema})
		}
		out = append(out, Segment{ID: spec.ID, Layers: layers})
	}
	return out
}
