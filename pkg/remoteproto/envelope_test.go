package remoteproto_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/rerun-io/rerun-sub005/pkg/constants"
	"github.com/rerun-io/rerun-sub005/pkg/identity"
	"github.com/rerun-io/rerun-sub005/pkg/remoteproto"
)

func TestEnvelopeSignVerifyRoundTrip(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := remoteproto.NewEnvelope(constants.KindRegisterSegment, id.ID(), 1, now.UnixMilli(), map[string]string{"hello": "world"})
	if err := e.Sign(id.SigningPrivateKey); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	data, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded remoteproto.Envelope
	if err := decoded.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if err := decoded.Verify(id.SigningPublicKey); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := decoded.Validate(now); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestEnvelopeVerifyRejectsTamperedBody(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	e := remoteproto.NewEnvelope(constants.KindRegisterSegment, id.ID(), 1, 0, "original")
	if err := e.Sign(id.SigningPrivateKey); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	e.Body = "tampered"
	if err := e.Verify(id.SigningPublicKey); err == nil {
		t.Fatalf("expected verification to fail after tampering with the body")
	}
}

func TestEnvelopeValidateRejectsClockSkew(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stale := now.Add(-10 * time.Minute)
	e := remoteproto.NewEnvelope(constants.KindRegisterSegment, id.ID(), 1, stale.UnixMilli(), nil)
	if err := e.Sign(id.SigningPrivateKey); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := e.Validate(now); err == nil {
		t.Fatalf("expected Validate to reject a timestamp outside the allowed clock skew")
	}
}

func TestWriteReadEnvelopeRoundTrip(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	e := remoteproto.NewEnvelope(constants.KindRegisterSegment, id.ID(), 42, 0, "payload")
	if err := e.Sign(id.SigningPrivateKey); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	var buf bytes.Buffer
	if err := remoteproto.WriteEnvelope(&buf, e); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	got, err := remoteproto.ReadEnvelope(&buf)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if got.Seq != 42 || got.From != id.ID() {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if err := got.Verify(id.SigningPublicKey); err != nil {
		t.Fatalf("Verify after round trip: %v", err)
	}
}
