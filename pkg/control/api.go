// Package control implements a local control surface over a
// *storehub.Hub. Grounded on pkg/control/api.go's actual shape: a
// Request/Response pair decoded and encoded with encoding/json directly
// over a raw net.Conn, not net/http — this module never pulls in an HTTP
// router either, the same way the teacher never does.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/rerun-io/rerun-sub005/pkg/storehub"
)

// Request is one control-surface call.
type Request struct {
	Method string                 `json:"method"`
	ID     string                 `json:"id"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Response is the Server's answer to a Request, identified by the same ID.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Server dispatches decoded Requests against a *storehub.Hub.
type Server struct {
	hub           *storehub.Hub
	timeCursorFor storehub.TimeCursorFor
}

// NewServer returns a Server answering requests against hub. timeCursorFor
// is passed through to Hub.PurgeFractionOfRAM for the "gc.purge" method.
func NewServer(hub *storehub.Hub, timeCursorFor storehub.TimeCursorFor) *Server {
	return &Server{hub: hub, timeCursorFor: timeCursorFor}
}

// Serve accepts connections from listener until ctx is done, handling each
// on its own goroutine.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				continue
			}
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var request Request
		if err := decoder.Decode(&request); err != nil {
			return
		}
		if err := encoder.Encode(s.handleRequest(request)); err != nil {
			return
		}
	}
}

func (s *Server) handleRequest(request Request) Response {
	switch request.Method {
	case "stores.list":
		return s.handleStoresList(request)
	case "stores.activeApp":
		return s.handleActiveApp(request)
	case "stores.setActiveApp":
		return s.handleSetActiveApp(request)
	case "stores.activeRecording":
		return s.handleActiveRecording(request)
	case "stores.setActiveRecording":
		return s.handleSetActiveRecording(request)
	case "gc.purge":
		return s.handleGCPurge(request)
	case "gc.blueprints":
		return s.handleGCBlueprints(request)
	default:
		return Response{ID: request.ID, Error: fmt.Sprintf("unknown method: %s", request.Method)}
	}
}

func (s *Server) handleStoresList(request Request) Response {
	stats := s.hub.Stats()
	out := make([]map[string]interface{}, len(stats))
	for i, st := range stats {
		out[i] = map[string]interface{}{
			"id":         string(st.ID),
			"kind":       st.Kind.String(),
			"num_chunks": st.NumChunks,
			"size_bytes": st.SizeBytes,
		}
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"stores": out}}
}

func (s *Server) handleActiveApp(request Request) Response {
	appID, ok := s.hub.ActiveApp()
	if !ok {
		return Response{ID: request.ID, Result: map[string]interface{}{"active": false}}
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"active": true, "app_id": string(appID)}}
}

func (s *Server) handleSetActiveApp(request Request) Response {
	appID, ok := request.Params["app_id"].(string)
	if !ok || appID == "" {
		return Response{ID: request.ID, Error: "app_id parameter is required and must be a string"}
	}
	s.hub.SetActiveApp(storehub.AppID(appID))
	return Response{ID: request.ID, Result: map[string]interface{}{"app_id": appID}}
}

func (s *Server) handleActiveRecording(request Request) Response {
	id, ok := s.hub.ActiveStoreID()
	if !ok {
		return Response{ID: request.ID, Result: map[string]interface{}{"active": false}}
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"active": true, "store_id": string(id)}}
}

func (s *Server) handleSetActiveRecording(request Request) Response {
	storeID, ok := request.Params["store_id"].(string)
	if !ok || storeID == "" {
		return Response{ID: request.ID, Error: "store_id parameter is required and must be a string"}
	}
	if err := s.hub.SetActiveRecordingID(storehub.StoreID(storeID)); err != nil {
		return Response{ID: request.ID, Error: err.Error()}
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"store_id": storeID}}
}

func (s *Server) handleGCPurge(request Request) Response {
	fraction, ok := request.Params["fraction"].(float64)
	if !ok {
		return Response{ID: request.ID, Error: "fraction parameter is required and must be a number"}
	}
	freed := s.hub.PurgeFractionOfRAM(fraction, s.timeCursorFor)
	return Response{ID: request.ID, Result: map[string]interface{}{"freed_bytes": freed}}
}

func (s *Server) handleGCBlueprints(request Request) Response {
	errs := s.hub.GCBlueprints()
	messages := make([]string, len(errs))
	for i, err := range errs {
		messages[i] = err.Error()
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"errors": messages}}
}
