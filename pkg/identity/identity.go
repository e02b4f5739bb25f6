// Package identity implements the signing identity used to authenticate
// pkg/remoteproto connections and to sign pkg/registry requests. Adapted
// from the teacher's pkg/identity/identity.go (Ed25519 signing key +
// curve25519 key-agreement key, cached canonical id string), trimmed of
// the beenet-specific device-delegation and honeytag fields that have no
// chunk-store analogue: a chunk-store client authenticates a connection
// and signs a request, it never claims a human-facing handle.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"

	"golang.org/x/crypto/curve25519"
)

// idPrefix distinguishes an identity's canonical string form from a
// manifest.ID or a chunkid.ChunkId that might end up in the same log line.
const idPrefix = "id"

// Identity is one principal's signing and key-agreement key pair.
type Identity struct {
	SigningPublicKey  ed25519.PublicKey
	SigningPrivateKey ed25519.PrivateKey

	KeyAgreementPublicKey  [32]byte
	KeyAgreementPrivateKey [32]byte

	id string
}

// Generate creates a new identity with fresh Ed25519 and X25519 key pairs.
func Generate() (*Identity, error) {
	sigPub, sigPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generating Ed25519 key pair: %w", err)
	}

	var kaPriv, kaPub [32]byte
	if _, err := rand.Read(kaPriv[:]); err != nil {
		return nil, fmt.Errorf("identity: generating X25519 private key: %w", err)
	}
	curve25519.ScalarBaseMult(&kaPub, &kaPriv)

	id := &Identity{
		SigningPublicKey:       sigPub,
		SigningPrivateKey:      sigPriv,
		KeyAgreementPublicKey:  kaPub,
		KeyAgreementPrivateKey: kaPriv,
	}
	id.id = id.computeID()
	return id, nil
}

// FromSigningKey rebuilds an Identity around an existing Ed25519 private
// key, deriving a fresh X25519 agreement key pair. Used when a caller
// already persists the signing key itself (e.g. loaded from a keystore)
// and only needs the rest of the identity machinery wired around it.
func FromSigningKey(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: bad Ed25519 private key size %d", len(priv))
	}
	var kaPriv, kaPub [32]byte
	if _, err := rand.Read(kaPriv[:]); err != nil {
		return nil, fmt.Errorf("identity: generating X25519 private key: %w", err)
	}
	curve25519.ScalarBaseMult(&kaPub, &kaPriv)

	id := &Identity{
		SigningPublicKey:       priv.Public().(ed25519.PublicKey),
		SigningPrivateKey:      priv,
		KeyAgreementPublicKey:  kaPub,
		KeyAgreementPrivateKey: kaPriv,
	}
	id.id = id.computeID()
	return id, nil
}

// ID returns the canonical base32 form of the identity's Ed25519 public
// key, the value pkg/remoteproto frames carry as their "from" field and
// pkg/registry records as a request's authenticated principal.
func (id *Identity) ID() string {
	if id.id == "" {
		id.id = id.computeID()
	}
	return id.id
}

func (id *Identity) computeID() string {
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(id.SigningPublicKey)
	return fmt.Sprintf("%s:%s", idPrefix, strings.ToLower(encoded))
}

// ParseID parses the "id:<base32>" string form produced by ID and returns
// the raw Ed25519 public key bytes it encodes.
func ParseID(s string) (ed25519.PublicKey, error) {
	const prefix = idPrefix + ":"
	if !strings.HasPrefix(s, prefix) {
		return nil, fmt.Errorf("identity: bad id %q: missing %q prefix", s, prefix)
	}
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(strings.TrimPrefix(s, prefix)))
	if err != nil {
		return nil, fmt.Errorf("identity: bad id %q: %w", s, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: bad id %q: want %d key bytes, got %d", s, ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Sign signs data with the identity's Ed25519 private key.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.SigningPrivateKey, data)
}

// Verify checks a signature against a known Ed25519 public key, used by a
// server that has already resolved the claimed identity to a key (e.g.
// from a prior registration) rather than trusting a self-asserted one.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	return ed25519.Verify(pub, data, sig)
}
