package remoteproto

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// QUICTransport implements Transport over QUIC + TLS 1.3, adapted from
// the teacher's pkg/transport/quic.Transport: each registry connection is
// one QUIC connection carrying exactly one bidirectional stream, since a
// registry client never needs to multiplex independent request streams
// over a single connection the way beenet's gossip/DHT traffic does.
type QUICTransport struct{}

// NewQUICTransport returns a QUIC-backed Transport.
func NewQUICTransport() Transport { return &QUICTransport{} }

func (t *QUICTransport) Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (Listener, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	cfg := DefaultConfig()
	quicTLS := tlsConfig.Clone()
	if quicTLS == nil {
		quicTLS = &tls.Config{}
	}
	if len(quicTLS.NextProtos) == 0 {
		quicTLS.NextProtos = cfg.ALPNProtocols
	}
	ln, err := quic.ListenAddr(addr, quicTLS, &quic.Config{MaxIdleTimeout: cfg.MaxIdleTimeout})
	if err != nil {
		return nil, fmt.Errorf("remoteproto: listening on %s: %w", addr, err)
	}
	return &quicListener{listener: ln}, nil
}

func (t *QUICTransport) Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (Conn, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	cfg := DefaultConfig()
	quicTLS := tlsConfig.Clone()
	if quicTLS == nil {
		quicTLS = &tls.Config{}
	}
	if len(quicTLS.NextProtos) == 0 {
		quicTLS.NextProtos = cfg.ALPNProtocols
	}
	conn, err := quic.DialAddr(ctx, addr, quicTLS, &quic.Config{MaxIdleTimeout: cfg.MaxIdleTimeout})
	if err != nil {
		return nil, fmt.Errorf("remoteproto: dialing %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		return nil, fmt.Errorf("remoteproto: opening stream to %s: %w", addr, err)
	}
	return &quicConn{connection: conn, stream: stream}, nil
}

type quicListener struct {
	listener *quic.Listener
}

func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to accept stream")
		return nil, fmt.Errorf("remoteproto: accepting stream: %w", err)
	}
	return &quicConn{connection: conn, stream: stream}, nil
}

func (l *quicListener) Close() error   { return l.listener.Close() }
func (l *quicListener) Addr() net.Addr { return l.listener.Addr() }

type quicConn struct {
	connection *quic.Conn
	stream     *quic.Stream
}

func (c *quicConn) Read(b []byte) (int, error)  { return c.stream.Read(b) }
func (c *quicConn) Write(b []byte) (int, error) { return c.stream.Write(b) }

func (c *quicConn) Close() error {
	if err := c.stream.Close(); err != nil {
		c.connection.CloseWithError(0, "stream close error")
		return err
	}
	return c.connection.CloseWithError(0, "normal close")
}

func (c *quicConn) LocalAddr() net.Addr  { return c.connection.LocalAddr() }
func (c *quicConn) RemoteAddr() net.Addr { return c.connection.RemoteAddr() }

func (c *quicConn) SetDeadline(t time.Time) error      { return c.stream.SetDeadline(t) }
func (c *quicConn) SetReadDeadline(t time.Time) error  { return c.stream.SetReadDeadline(t) }
func (c *quicConn) SetWriteDeadline(t time.Time) error { return c.stream.SetWriteDeadline(t) }
