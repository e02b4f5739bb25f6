package registry_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/rerun-io/rerun-sub005/pkg/component"
	"github.com/rerun-io/rerun-sub005/pkg/constants"
	"github.com/rerun-io/rerun-sub005/pkg/entitypath"
	"github.com/rerun-io/rerun-sub005/pkg/identity"
	"github.com/rerun-io/rerun-sub005/pkg/registry"
	"github.com/rerun-io/rerun-sub005/pkg/remoteproto"
)

func TestClientServerRegisterSegmentRoundTrip(t *testing.T) {
	clientID, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate client identity: %v", err)
	}
	serverID, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate server identity: %v", err)
	}

	reg := registry.New()
	resolve := func(principal string) (ed25519.PublicKey, bool) {
		if principal == clientID.ID() {
			return clientID.SigningPublicKey, true
		}
		return nil, false
	}
	server := registry.NewServer(serverID, reg, resolve)
	client := registry.NewClient(clientID)

	good := registry.Segment{
		ID: "seg-1",
		Layers: []registry.Layer{{
			Name: "layer-1",
			Schema: map[entitypath.Path][]component.Descriptor{
				entitypath.New("/world/points"): {{ComponentIdentifier: "Points3D:positions", ComponentType: "rerun.components.Position3D"}},
			},
		}},
	}

	env, err := client.BuildRegisterSegmentEnvelope("dataset-a", []registry.Segment{good}, registry.IfDuplicateError, 1000)
	if err != nil {
		t.Fatalf("BuildRegisterSegmentEnvelope: %v", err)
	}
	if env.Kind != constants.KindRegisterSegment {
		t.Fatalf("envelope kind = %d, want %d", env.Kind, constants.KindRegisterSegment)
	}

	// Round-trip through canonical CBOR the way a real connection would,
	// so the server sees the same generic-map Body a wire receiver does
	// rather than the original typed struct still sitting in memory.
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	decodedEnv := &remoteproto.Envelope{}
	if err := decodedEnv.Unmarshal(raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	resp, err := server.HandleEnvelope(decodedEnv, 1001)
	if err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}
	if resp.Kind != constants.KindRegisterAck {
		t.Fatalf("response kind = %d, want KindRegisterAck (%d); body=%v", resp.Kind, constants.KindRegisterAck, resp.Body)
	}

	if err := resp.Verify(serverID.SigningPublicKey); err != nil {
		t.Fatalf("response signature should verify: %v", err)
	}
}

func TestClientServerRegisterSegmentConflictSurfacesOverWire(t *testing.T) {
	clientID, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate client identity: %v", err)
	}
	serverID, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate server identity: %v", err)
	}

	reg := registry.New()
	resolve := func(principal string) (ed25519.PublicKey, bool) {
		if principal == clientID.ID() {
			return clientID.SigningPublicKey, true
		}
		return nil, false
	}
	server := registry.NewServer(serverID, reg, resolve)
	client := registry.NewClient(clientID)

	segs := []registry.Segment{
		{
			ID: "seg-1",
			Layers: []registry.Layer{{
				Name: "layer-1",
				Schema: map[entitypath.Path][]component.Descriptor{
					entitypath.New("/world/points"): {{ComponentIdentifier: "Points3D:positions", ComponentType: "rerun.components.Position3D"}},
				},
			}},
		},
		{
			ID: "seg-2",
			Layers: []registry.Layer{{
				Name: "layer-1",
				Schema: map[entitypath.Path][]component.Descriptor{
					entitypath.New("/world/points"): {{ComponentIdentifier: "Points3D:positions", ComponentType: "rerun.components.Position2D"}},
				},
			}},
		},
	}

	env, err := client.BuildRegisterSegmentEnvelope("dataset-a", segs, registry.IfDuplicateError, 1000)
	if err != nil {
		t.Fatalf("BuildRegisterSegmentEnvelope: %v", err)
	}

	// Round-trip through canonical CBOR so the reconstructed segments (and
	// their schemas) are the ones the server actually sees, not the
	// original typed Go values still sitting in the client's memory.
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	decodedEnv := &remoteproto.Envelope{}
	if err := decodedEnv.Unmarshal(raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	resp, err := server.HandleEnvelope(decodedEnv, 1001)
	if err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}
	if resp.Kind != constants.KindRegisterAck {
		t.Fatalf("response kind = %d, want KindRegisterAck (%d); body=%v", resp.Kind, constants.KindRegisterAck, resp.Body)
	}

	ack, ok := resp.Body.(registry.RegisterSegmentResponse)
	if !ok {
		t.Fatalf("response body has unexpected type %T", resp.Body)
	}
	if _, failed := ack.Failures["seg-1"]; failed {
		t.Fatalf("seg-1 should have registered cleanly, got failure %q", ack.Failures["seg-1"])
	}
	if _, failed := ack.Failures["seg-2"]; !failed {
		t.Fatalf("seg-2 should have failed with a schema conflict against seg-1's Position3D type, got no failure: %v", ack.Failures)
	}
}

func TestServerRejectsUnknownPrincipal(t *testing.T) {
	clientID, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate client identity: %v", err)
	}
	serverID, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate server identity: %v", err)
	}

	reg := registry.New()
	resolve := func(principal string) (ed25519.PublicKey, bool) { return nil, false }
	server := registry.NewServer(serverID, reg, resolve)
	client := registry.NewClient(clientID)

	env, err := client.BuildRegisterSegmentEnvelope("dataset-a", nil, registry.IfDuplicateError, 1000)
	if err != nil {
		t.Fatalf("BuildRegisterSegmentEnvelope: %v", err)
	}

	resp, err := server.HandleEnvelope(env, 1001)
	if err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}
	if resp.Kind != constants.KindError {
		t.Fatalf("expected an error envelope for an unresolvable principal, got kind %d", resp.Kind)
	}
}
