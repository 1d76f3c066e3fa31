// SSE (default) and websocket (upgrade path) transport for the two
// long-lived channels spec.md §6 defines: subscribeChat (per workspace) and
// subscribeMetadata (process-wide). Both are exposed over SSE to match the
// teacher's own `handleTaskEvents`, plus a `gorilla/websocket` upgrade for
// clients (the desktop shell) that don't want one-way SSE.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mux-run/mux/backend/internal/apierror"
)

var upgrader = websocket.Upgrader{
	// Accepts every Origin; a cross-origin deployment fronts this with its
	// own origin check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleSubscribeChat streams workspaceID's chat events as SSE, or upgrades
// to a websocket if the request asks for one.
func (s *Server) handleSubscribeChat(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("id")
	ch, cancel, err := s.engine.SubscribeChat(workspaceID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	if websocket.IsWebSocketUpgrade(r) {
		serveWebsocketEvents(w, r, func(send func(any) error) {
			for ev := range ch {
				if err := send(streamEventToV1(ev)); err != nil {
					return
				}
			}
		})
		return
	}
	serveSSE(w, r, func(send func(string, any) error) error {
		for ev := range ch {
			if err := send("message", streamEventToV1(ev)); err != nil {
				return err
			}
		}
		return nil
	})
}

// handleSubscribeMetadata streams the process-wide workspace metadata
// channel as SSE, or upgrades to a websocket.
func (s *Server) handleSubscribeMetadata(w http.ResponseWriter, r *http.Request) {
	ch, cancel := s.engine.SubscribeMetadata()
	defer cancel()

	if websocket.IsWebSocketUpgrade(r) {
		serveWebsocketEvents(w, r, func(send func(any) error) {
			for ev := range ch {
				if err := send(metadataEventToV1(ev)); err != nil {
					return
				}
			}
		})
		return
	}
	serveSSE(w, r, func(send func(string, any) error) error {
		for ev := range ch {
			if err := send("message", metadataEventToV1(ev)); err != nil {
				return err
			}
		}
		return nil
	})
}

// serveSSE writes SSE headers, flushes, and hands control to produce which
// pumps events through send until the client disconnects or produce returns.
func serveSSE(w http.ResponseWriter, r *http.Request, produce func(send func(event string, payload any) error) error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierror.InternalError("streaming not supported", nil))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	idx := 0
	send := func(event string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\nid: %d\n\n", event, data, idx); err != nil {
			return err
		}
		idx++
		flusher.Flush()
		return nil
	}
	if err := produce(send); err != nil {
		slog.Debug("sse stream ended", "err", err)
	}
}

// serveWebsocketEvents upgrades the connection and hands control to produce,
// which pumps events through send until the client disconnects.
func serveWebsocketEvents(w http.ResponseWriter, r *http.Request, produce func(send func(payload any) error)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	send := func(payload any) error {
		return conn.WriteJSON(payload)
	}
	produce(send)
}
