package remoteproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxEnvelopeSize bounds a single envelope so a malformed or malicious
// length prefix can't make ReadEnvelope try to allocate an unbounded
// buffer.
const maxEnvelopeSize = 64 << 20 // 64 MiB

// WriteEnvelope writes e to w as a 4-byte big-endian length prefix
// followed by its canonical-CBOR bytes. A QUIC stream is a raw byte
// stream with no message boundaries of its own, unlike the teacher's
// control API which runs over encoding/json.Decoder's self-delimiting
// stream decoding — remoteproto adds the length prefix wire.BaseFrame
// never needed because wire frames are always read one-shot out of a UDP
// datagram rather than a stream.
func WriteEnvelope(w io.Writer, e *Envelope) error {
	data, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("remoteproto: marshaling envelope: %w", err)
	}
	if len(data) > maxEnvelopeSize {
		return fmt.Errorf("remoteproto: envelope too large: %d bytes", len(data))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("remoteproto: writing length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("remoteproto: writing envelope body: %w", err)
	}
	return nil
}

// ReadEnvelope reads one length-prefixed envelope from r.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxEnvelopeSize {
		return nil, fmt.Errorf("remoteproto: envelope length %d exceeds maximum %d", n, maxEnvelopeSize)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("remoteproto: reading envelope body: %w", err)
	}
	var e Envelope
	if err := e.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("remoteproto: unmarshaling envelope: %w", err)
	}
	return &e, nil
}
