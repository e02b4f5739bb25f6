// Package constants holds the cross-cutting defaults shared by the
// external-facing layer (pkg/identity, pkg/remoteproto, pkg/registry), the
// way the teacher's pkg/constants collects §18/§21 defaults in one file
// rather than scattering them per package.
package constants

import "time"

// ProtocolVersion is the wire envelope version pkg/remoteproto frames
// carry and pkg/registry RPCs negotiate.
const ProtocolVersion = 1

// DefaultQUICPort is the default port a chunkstored registry server
// listens on.
const DefaultQUICPort = 28711

// HashAlgorithm names the content-addressing hash pkg/manifest and
// pkg/registry use, mirroring the teacher's HashAlgorithm constant.
const HashAlgorithm = "blake3-256"

// MaxClockSkew bounds how far a remoteproto frame's timestamp may drift
// from the receiver's clock before Validate rejects it.
const MaxClockSkew = 120 * time.Second

// HandshakeTimeout is a time budget for a Noise-IK handshake; nothing in
// this module reads it, so no handshake is bounded by it.
const HandshakeTimeout = 10 * time.Second

// Wire error codes (spec.md §7's taxonomy, extended with the transport
// layer's own small set of codes that don't belong to any chunkstore
// package because they never reach one — they're rejected in
// pkg/remoteproto itself).
const (
	ErrorInvalidSig      = 1
	ErrorVersionMismatch = 2
	ErrorClockSkew       = 3
)

// Frame kinds carried in a remoteproto.Envelope's Kind field.
const (
	KindRegisterSegment  = 10
	KindRegisterAck      = 11
	KindScanManifest     = 12
	KindManifestPage     = 13
	KindStoreEventBatch  = 14
	KindBlueprintLoad    = 15
	KindBlueprintLoadAck = 16
	KindBlueprintSave    = 17
	KindBlueprintSaveAck = 18
	KindError            = 0
)
