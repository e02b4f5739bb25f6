package remoteproto_test

import (
	"testing"

	"github.com/rerun-io/rerun-sub005/pkg/identity"
	"github.com/rerun-io/rerun-sub005/pkg/remoteproto"
)

func TestHandshakeHelloExchange(t *testing.T) {
	clientID, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate client identity: %v", err)
	}
	serverID, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate server identity: %v", err)
	}

	client, err := remoteproto.NewClientHandshake(clientID, serverID.KeyAgreementPublicKey[:])
	if err != nil {
		t.Fatalf("NewClientHandshake: %v", err)
	}
	server, err := remoteproto.NewServerHandshake(serverID)
	if err != nil {
		t.Fatalf("NewServerHandshake: %v", err)
	}

	clientHello, err := client.CreateClientHello()
	if err != nil {
		t.Fatalf("CreateClientHello: %v", err)
	}

	serverHello, err := server.ProcessClientHello(clientHello, clientID.SigningPublicKey)
	if err != nil {
		t.Fatalf("ProcessClientHello: %v", err)
	}
	if !server.IsComplete() {
		t.Fatalf("server handshake should be complete after processing ClientHello")
	}

	if err := client.ProcessServerHello(serverHello, serverID.SigningPublicKey); err != nil {
		t.Fatalf("ProcessServerHello: %v", err)
	}
	if !client.IsComplete() {
		t.Fatalf("client handshake should be complete after processing ServerHello")
	}

	peerKey, ok := client.PeerStaticKey()
	if !ok {
		t.Fatalf("expected client to know the server's static key")
	}
	if string(peerKey) != string(serverID.KeyAgreementPublicKey[:]) {
		t.Fatalf("client's recorded peer key does not match the server's actual key")
	}
}

func TestProcessClientHelloRejectsWrongSigningKey(t *testing.T) {
	clientID, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate client identity: %v", err)
	}
	serverID, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate server identity: %v", err)
	}
	impostor, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate impostor identity: %v", err)
	}

	client, err := remoteproto.NewClientHandshake(clientID, serverID.KeyAgreementPublicKey[:])
	if err != nil {
		t.Fatalf("NewClientHandshake: %v", err)
	}
	server, err := remoteproto.NewServerHandshake(serverID)
	if err != nil {
		t.Fatalf("NewServerHandshake: %v", err)
	}

	clientHello, err := client.CreateClientHello()
	if err != nil {
		t.Fatalf("CreateClientHello: %v", err)
	}

	if _, err := server.ProcessClientHello(clientHello, impostor.SigningPublicKey); err == nil {
		t.Fatalf("expected ProcessClientHello to reject a ClientHello verified against the wrong key")
	}
}
