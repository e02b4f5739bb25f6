// Package main implements chunkstored, the long-running daemon hosting a
// *storehub.Hub behind a local control surface and a remote registry
// server. Grounded on cmd/beenet/main.go's thin daemon entry point (a
// small command switch delegating to package-level setup rather than the
// fuller CLI shape of cmd/bee/main.go).
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rerun-io/rerun-sub005/pkg/chunkstore"
	"github.com/rerun-io/rerun-sub005/pkg/constants"
	"github.com/rerun-io/rerun-sub005/pkg/control"
	"github.com/rerun-io/rerun-sub005/pkg/identity"
	"github.com/rerun-io/rerun-sub005/pkg/registry"
	"github.com/rerun-io/rerun-sub005/pkg/remoteproto"
	"github.com/rerun-io/rerun-sub005/pkg/storehub"
)

var (
	version    = "dev"
	buildTime  = "unknown"
	commitHash = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Starting chunkstored... (default mode)")
		if err := runCommand(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "run":
		if err := runCommand(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runCommand() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubID, err := identity.Generate()
	if err != nil {
		return fmt.Errorf("generating hub identity: %w", err)
	}
	fmt.Printf("chunkstored starting as %s\n", hubID.ID())

	hub := storehub.New(storehub.BlueprintPersistence{})
	hub.InsertStore(&storehub.Entry{
		ID:    "default",
		AppID: "default",
		Kind:  storehub.KindRecording,
		Store: chunkstore.New("default", chunkstore.DefaultConfig()),
	})
	hub.SetActiveApp("default")

	controlListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("starting control listener: %w", err)
	}
	defer controlListener.Close()
	controlServer := control.NewServer(hub, nil)
	go func() {
		if err := controlServer.Serve(ctx, controlListener); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "control server: %v\n", err)
		}
	}()
	fmt.Printf("control surface listening on %s\n", controlListener.Addr())

	reg := registry.New()
	registryServer := registry.NewServer(hubID, reg, func(principal string) (ed25519.PublicKey, bool) {
		pub, err := identity.ParseID(principal)
		if err != nil {
			return nil, false
		}
		return pub, true
	})

	quicTransport := remoteproto.NewQUICTransport()
	quicAddr := fmt.Sprintf("127.0.0.1:%d", constants.DefaultQUICPort)
	listener, err := quicTransport.Listen(ctx, quicAddr, selfSignedTLSConfig())
	if err != nil {
		return fmt.Errorf("starting registry listener on %s: %w", quicAddr, err)
	}
	defer listener.Close()
	fmt.Printf("registry surface listening on %s\n", listener.Addr())
	go serveRegistry(ctx, listener, registryServer)

	<-ctx.Done()
	fmt.Println("chunkstored shutting down")
	return nil
}

// serveRegistry accepts registry connections and answers exactly one
// RegisterSegment request per connection, mirroring a registry client's
// connect-send-receive-disconnect pattern rather than beenet's
// long-lived gossip connections.
func serveRegistry(ctx context.Context, listener remoteproto.Listener, server *registry.Server) {
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		go func(c remoteproto.Conn) {
			defer c.Close()
			env, err := remoteproto.ReadEnvelope(c)
			if err != nil {
				fmt.Fprintf(os.Stderr, "registry: reading envelope: %v\n", err)
				return
			}
			resp, err := server.HandleEnvelope(env, time.Now().UnixMilli())
			if err != nil {
				fmt.Fprintf(os.Stderr, "registry: handling envelope: %v\n", err)
				return
			}
			if err := remoteproto.WriteEnvelope(c, resp); err != nil {
				fmt.Fprintf(os.Stderr, "registry: writing response: %v\n", err)
			}
		}(conn)
	}
}

// selfSignedTLSConfig generates an ephemeral self-signed certificate for
// the QUIC registry listener, grounded on
// pkg/transport/quic/quic_test.go's generateTestTLSConfig helper — a
// chunkstored instance has no PKI of its own, only the Ed25519 identity
// pkg/remoteproto's handshake authenticates over the TLS channel.
func selfSignedTLSConfig() *tls.Config {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(fmt.Sprintf("chunkstored: generating TLS key: %v", err))
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"chunkstored"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, priv.Public(), priv)
	if err != nil {
		panic(fmt.Sprintf("chunkstored: generating self-signed cert: %v", err))
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{certDER}, PrivateKey: priv}},
		NextProtos:   remoteproto.DefaultConfig().ALPNProtocols,
		MinVersion:   tls.VersionTLS13,
	}
}

func printVersion() {
	fmt.Printf("chunkstored %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`chunkstored v%s - chunk store daemon

Usage:
  chunkstored [run]

Commands:
  run       Start the daemon (hub + control surface + registry server) [default]
  version   Show version information
  help      Show this help message
`, version)
}
