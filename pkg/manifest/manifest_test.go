package manifest

import (
	"testing"

	"github.com/rerun-io/rerun-sub005/pkg/codec/cborcanon"
)

func sampleSegments() []Segment {
	return []Segment{
		{CID: mustTestID("a"), Offset: 10, Size: 5},
		{CID: mustTestID("b"), Offset: 0, Size: 10},
	}
}

func mustTestID(seed string) ID {
	m, err := Build("store", "/e", []Segment{{CID: ID{}, Offset: 0, Size: uint64(len(seed) + 1)}}, 0)
	if err != nil {
		panic(err)
	}
	id, err := ComputeID(m)
	if err != nil {
		panic(err)
	}
	return id
}

func TestBuildSortsSegmentsByOffset(t *testing.T) {
	m, err := Build("store-1", "/world/car", sampleSegments(), 1000)
	if err != nil {
		t.Fatal(err)
	}
	if m.Segments[0].Offset != 0 || m.Segments[1].Offset != 10 {
		t.Fatalf("segments not sorted by offset: %+v", m.Segments)
	}
	if m.TotalSize != 15 {
		t.Fatalf("TotalSize = %d, want 15", m.TotalSize)
	}
}

func TestComputeIDIsDeterministic(t *testing.T) {
	m1, err := Build("store-1", "/world/car", sampleSegments(), 1000)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := Build("store-1", "/world/car", sampleSegments(), 1000)
	if err != nil {
		t.Fatal(err)
	}
	id1, err := ComputeID(m1)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := ComputeID(m2)
	if err != nil {
		t.Fatal(err)
	}
	if !id1.Equal(id2) {
		t.Fatalf("ComputeID not deterministic: %s != %s", id1, id2)
	}
}

func TestComputeIDChangesWithContent(t *testing.T) {
	m1, _ := Build("store-1", "/world/car", sampleSegments(), 1000)
	m2, _ := Build("store-2", "/world/car", sampleSegments(), 1000)
	id1, _ := ComputeID(m1)
	id2, _ := ComputeID(m2)
	if id1.Equal(id2) {
		t.Fatalf("different manifests produced the same id %s", id1)
	}
}

func TestVerifyRejectsGapsAndOverlaps(t *testing.T) {
	m := &Manifest{
		Version:   1,
		TotalSize: 20,
		Segments: []Segment{
			{CID: mustTestID("a"), Offset: 0, Size: 5},
			{CID: mustTestID("b"), Offset: 10, Size: 10}, // gap between 5 and 10
		},
	}
	if err := Verify(m); err == nil {
		t.Fatalf("Verify should reject a manifest with a gap between segments")
	}
}

func TestValidateAgainstIDDetectsTampering(t *testing.T) {
	m, _ := Build("store-1", "/world/car", sampleSegments(), 1000)
	id, _ := ComputeID(m)

	m.TotalSize += 1 // tamper
	if err := ValidateAgainstID(m, id); err == nil {
		t.Fatalf("ValidateAgainstID should detect tampering")
	}
}

func TestIDRoundTripsThroughCBOR(t *testing.T) {
	m, _ := Build("store-1", "/world/car", sampleSegments(), 1000)
	data, err := cborcanon.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Manifest
	if err := cborcanon.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if !decoded.Segments[0].CID.Equal(m.Segments[0].CID) {
		t.Fatalf("segment CID did not round-trip: got %s want %s", decoded.Segments[0].CID, m.Segments[0].CID)
	}
}
