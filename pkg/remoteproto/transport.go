package remoteproto

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Transport is a minimal transport abstraction, trimmed from
// transport.Transport down to the one implementation this module ships
// (QUIC) — the teacher keeps a Registry of interchangeable transports
// (QUIC, TCP) for beenet's wider peer-to-peer surface; a chunkstore
// registry connection only ever needs one.
type Transport interface {
	Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (Listener, error)
	Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (Conn, error)
}

// Listener accepts incoming Conns.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() net.Addr
}

// Conn is a bidirectional, ordered byte stream, matching transport.Conn.
type Conn interface {
	net.Conn
}

// Config mirrors transport.Config, trimmed to the fields this module
// actually sets.
type Config struct {
	ALPNProtocols  []string
	ConnectTimeout time.Duration
	MaxIdleTimeout time.Duration
}

// DefaultConfig returns the ALPN/timeout defaults for a registry
// connection.
func DefaultConfig() Config {
	return Config{
		ALPNProtocols:  []string{"chunkstore-registry/1"},
		ConnectTimeout: 30 * time.Second,
		MaxIdleTimeout: 5 * time.Minute,
	}
}
