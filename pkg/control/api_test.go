package control

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rerun-io/rerun-sub005/pkg/chunkstore"
	"github.com/rerun-io/rerun-sub005/pkg/storehub"
)

func newTestHub(t *testing.T) *storehub.Hub {
	t.Helper()
	hub := storehub.New(storehub.BlueprintPersistence{})
	hub.InsertStore(&storehub.Entry{
		ID:    "rec-1",
		AppID: "app-1",
		Kind:  storehub.KindRecording,
		Store: chunkstore.New("rec-1", chunkstore.AllDisabledConfig()),
	})
	return hub
}

func dialServer(t *testing.T, server *Server) (net.Conn, func()) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := server.Serve(ctx, listener); err != nil && err != context.Canceled {
			t.Errorf("Serve: %v", err)
		}
	}()
	time.Sleep(10 * time.Millisecond)

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		cancel()
		listener.Close()
		t.Fatalf("Dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		cancel()
		listener.Close()
	}
}

func call(t *testing.T, conn net.Conn, req Request) Response {
	t.Helper()
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestStoresListReportsRegisteredStore(t *testing.T) {
	hub := newTestHub(t)
	server := NewServer(hub, nil)
	conn, closeFn := dialServer(t, server)
	defer closeFn()

	resp := call(t, conn, Request{Method: "stores.list", ID: "1"})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result has unexpected shape: %#v", resp.Result)
	}
	stores, ok := result["stores"].([]interface{})
	if !ok || len(stores) != 1 {
		t.Fatalf("expected exactly one store, got %#v", result["stores"])
	}
}

func TestSetActiveAppThenActiveRecording(t *testing.T) {
	hub := newTestHub(t)
	server := NewServer(hub, nil)
	conn, closeFn := dialServer(t, server)
	defer closeFn()

	setResp := call(t, conn, Request{Method: "stores.setActiveApp", ID: "1", Params: map[string]interface{}{"app_id": "app-1"}})
	if setResp.Error != "" {
		t.Fatalf("setActiveApp: %s", setResp.Error)
	}

	recResp := call(t, conn, Request{Method: "stores.activeRecording", ID: "2"})
	if recResp.Error != "" {
		t.Fatalf("activeRecording: %s", recResp.Error)
	}
	result := recResp.Result.(map[string]interface{})
	if active, _ := result["active"].(bool); !active {
		t.Fatalf("expected an active recording after SetActiveApp, got %#v", result)
	}
	if result["store_id"] != "rec-1" {
		t.Fatalf("store_id = %v, want rec-1", result["store_id"])
	}
}

func TestUnknownMethodReturnsError(t *testing.T) {
	hub := newTestHub(t)
	server := NewServer(hub, nil)
	conn, closeFn := dialServer(t, server)
	defer closeFn()

	resp := call(t, conn, Request{Method: "does.not.exist", ID: "1"})
	if resp.Error == "" {
		t.Fatalf("expected an error for an unknown method")
	}
}

func TestSetActiveRecordingRejectsUnknownStoreID(t *testing.T) {
	hub := newTestHub(t)
	server := NewServer(hub, nil)
	conn, closeFn := dialServer(t, server)
	defer closeFn()

	resp := call(t, conn, Request{Method: "stores.setActiveRecording", ID: "1", Params: map[string]interface{}{"store_id": "does-not-exist"}})
	if resp.Error == "" {
		t.Fatalf("expected an error for an unknown store id")
	}
}
