package remoteproto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/flynn/noise"

	"github.com/rerun-io/rerun-sub005/pkg/codec/cborcanon"
	"github.com/rerun-io/rerun-sub005/pkg/identity"
)

// ClientHello is the initiator's handshake message, mirroring
// noiseik.ClientHello trimmed of beenet's swarm/capability/PSK/admission
// fields — a registry connection authenticates one identity to one
// server, it doesn't negotiate swarm membership.
type ClientHello struct {
	V        uint16 `cbor:"v"`
	From     string `cbor:"from"`
	Nonce    uint64 `cbor:"nonce"`
	NoiseKey []byte `cbor:"noisekey"`
	Proof    []byte `cbor:"proof"`
}

// ServerHello is the responder's handshake message.
type ServerHello struct {
	V        uint16 `cbor:"v"`
	From     string `cbor:"from"`
	Nonce    uint64 `cbor:"nonce"`
	NoiseKey []byte `cbor:"noisekey"`
	Proof    []byte `cbor:"proof"`
}

func (ch *ClientHello) signingBytes() ([]byte, error) {
	unsigned := *ch
	unsigned.Proof = nil
	return cborcanon.Marshal(&unsigned)
}

func (sh *ServerHello) signingBytes() ([]byte, error) {
	unsigned := *sh
	unsigned.Proof = nil
	return cborcanon.Marshal(&unsigned)
}

// Sign signs ch with priv.
func (ch *ClientHello) Sign(priv ed25519.PrivateKey) error {
	data, err := ch.signingBytes()
	if err != nil {
		return err
	}
	ch.Proof = ed25519.Sign(priv, data)
	return nil
}

// Verify checks ch's signature against pub.
func (ch *ClientHello) Verify(pub ed25519.PublicKey) error {
	if len(ch.Proof) == 0 {
		return fmt.Errorf("remoteproto: ClientHello has no proof")
	}
	data, err := ch.signingBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, data, ch.Proof) {
		return fmt.Errorf("remoteproto: ClientHello signature verification failed")
	}
	return nil
}

// Sign signs sh with priv.
func (sh *ServerHello) Sign(priv ed25519.PrivateKey) error {
	data, err := sh.signingBytes()
	if err != nil {
		return err
	}
	sh.Proof = ed25519.Sign(priv, data)
	return nil
}

// Verify checks sh's signature against pub.
func (sh *ServerHello) Verify(pub ed25519.PublicKey) error {
	if len(sh.Proof) == 0 {
		return fmt.Errorf("remoteproto: ServerHello has no proof")
	}
	data, err := sh.signingBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, data, sh.Proof) {
		return fmt.Errorf("remoteproto: ServerHello signature verification failed")
	}
	return nil
}

// Handshake drives one side of a Noise-IK handshake binding a registry
// connection to the peer's identity.ID(), mirroring noiseik.Handshake
// with the PSK/admission-token extensions dropped.
type Handshake struct {
	identity    *identity.Identity
	nonce       uint64
	isInitiator bool
	peerKey     []byte
	noiseState  *noise.HandshakeState
	cipherSuite noise.CipherSuite
	complete    bool
}

func newNonce() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	var n uint64
	for _, c := range b {
		n = n<<8 | uint64(c)
	}
	return n, nil
}

// NewClientHandshake starts a client-side handshake against a server
// whose static X25519 public key is serverPublicKey.
func NewClientHandshake(id *identity.Identity, serverPublicKey []byte) (*Handshake, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, fmt.Errorf("remoteproto: generating nonce: %w", err)
	}
	h := &Handshake{
		identity:    id,
		nonce:       nonce,
		isInitiator: true,
		cipherSuite: noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2b),
	}
	state, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: h.cipherSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeIK,
		Initiator:   true,
		StaticKeypair: noise.DHKey{
			Private: id.KeyAgreementPrivateKey[:],
			Public:  id.KeyAgreementPublicKey[:],
		},
		PeerStatic: serverPublicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("remoteproto: creating client handshake state: %w", err)
	}
	h.noiseState = state
	return h, nil
}

// NewServerHandshake starts a server-side handshake.
func NewServerHandshake(id *identity.Identity) (*Handshake, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, fmt.Errorf("remoteproto: generating nonce: %w", err)
	}
	h := &Handshake{
		identity:    id,
		nonce:       nonce,
		isInitiator: false,
		cipherSuite: noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2b),
	}
	state, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: h.cipherSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeIK,
		Initiator:   false,
		StaticKeypair: noise.DHKey{
			Private: id.KeyAgreementPrivateKey[:],
			Public:  id.KeyAgreementPublicKey[:],
		},
	})
	if err != nil {
		return nil, fmt.Errorf("remoteproto: creating server handshake state: %w", err)
	}
	h.noiseState = state
	return h, nil
}

// CreateClientHello builds and signs this handshake's ClientHello.
func (h *Handshake) CreateClientHello() (*ClientHello, error) {
	hello := &ClientHello{
		V:        1,
		From:     h.identity.ID(),
		Nonce:    h.nonce,
		NoiseKey: append([]byte(nil), h.identity.KeyAgreementPublicKey[:]...),
	}
	if err := hello.Sign(h.identity.SigningPrivateKey); err != nil {
		return nil, fmt.Errorf("remoteproto: signing ClientHello: %w", err)
	}
	return hello, nil
}

// ProcessClientHello validates ch against the claimed sender's public key
// (resolved by the caller — a registry server looks it up from its
// dataset-owner records) and produces a signed ServerHello.
func (h *Handshake) ProcessClientHello(ch *ClientHello, senderPub ed25519.PublicKey) (*ServerHello, error) {
	if err := ch.Verify(senderPub); err != nil {
		return nil, err
	}
	h.peerKey = append([]byte(nil), ch.NoiseKey...)

	hello := &ServerHello{
		V:        1,
		From:     h.identity.ID(),
		Nonce:    h.nonce,
		NoiseKey: append([]byte(nil), h.identity.KeyAgreementPublicKey[:]...),
	}
	if err := hello.Sign(h.identity.SigningPrivateKey); err != nil {
		return nil, fmt.Errorf("remoteproto: signing ServerHello: %w", err)
	}
	h.complete = true
	return hello, nil
}

// ProcessServerHello validates sh against the server's known public key
// and completes the client side of the handshake.
func (h *Handshake) ProcessServerHello(sh *ServerHello, serverPub ed25519.PublicKey) error {
	if err := sh.Verify(serverPub); err != nil {
		return err
	}
	h.peerKey = append([]byte(nil), sh.NoiseKey...)
	h.complete = true
	return nil
}

// IsComplete reports whether the hello exchange finished.
func (h *Handshake) IsComplete() bool { return h.complete }

// PeerStaticKey returns the peer's X25519 static key once the hello
// exchange has completed.
func (h *Handshake) PeerStaticKey() ([]byte, bool) {
	if !h.complete {
		return nil, false
	}
	return h.peerKey, true
}
