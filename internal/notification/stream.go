package notification

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sapliy/supplyhub/pkg/jsonutil"
)

// Live delivery timing. The SSE transport relies on client-driven proactive
// rotation (reverse proxies cut idle connections outside our control), so the
// server sends no keepalive there. The websocket transport pings instead.
const (
	wsPingInterval  = 30 * time.Second
	wsWriteTimeout  = 10 * time.Second
	wsPongWait      = 60 * time.Second
	wsReadSizeLimit = 512
)

// Stream handles GET /notifications/stream: a one-directional server-push
// channel. It emits one named `initial` event with the user's current
// snapshot, then an `update` event for every batch created for that user.
// The client never sends data here; all mutations go through the REST
// endpoints. When the transport drops, the hub subscription is released and
// reconnection is entirely the client's job.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		jsonutil.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonutil.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Streaming unsupported",
		})
		return
	}

	// Subscribe before reading the snapshot, so a batch created in between is
	// buffered on the subscription and delivered as an update right after
	// initial. The overlap case (batch lands in both) only produces a
	// duplicate, which clients dedupe by id; the reverse order would drop the
	// batch entirely until the next rotation.
	sub := h.hub.Subscribe(r.Context(), userID)
	defer h.hub.Unsubscribe(sub)

	snapshot, err := h.svc.Snapshot(r.Context(), userID, h.snapshotLimit)
	if err != nil {
		log.Printf("Snapshot failed for user %d: %v", userID, err)
		jsonutil.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Failed to load notifications",
		})
		return
	}
	if snapshot == nil {
		snapshot = []*Notification{}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	LiveConnections.Inc()
	defer LiveConnections.Dec()

	if err := writeSSEEvent(w, "initial", snapshot); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case batch, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, "update", batch); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// streamFrame is the websocket framing for the same protocol: one `initial`
// frame then `update` frames.
type streamFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // same-origin enforcement happens at the gateway
	},
}

// StreamWS handles GET /notifications/ws, the bidirectional-socket variant of
// the live channel. Unlike SSE it sends server-initiated pings, so clients on
// this transport do not need proactive rotation; the payload protocol is
// otherwise identical.
func (h *Handler) StreamWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		jsonutil.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	// Same subscribe-then-snapshot order as Stream: a batch created in the
	// window is buffered and follows initial as an update.
	sub := h.hub.Subscribe(r.Context(), userID)
	defer h.hub.Unsubscribe(sub)

	snapshot, err := h.svc.Snapshot(r.Context(), userID, h.snapshotLimit)
	if err != nil {
		log.Printf("Snapshot failed for user %d: %v", userID, err)
		jsonutil.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Failed to load notifications",
		})
		return
	}
	if snapshot == nil {
		snapshot = []*Notification{}
	}

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}
	defer conn.Close()

	LiveConnections.Inc()
	defer LiveConnections.Dec()

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(streamFrame{Event: "initial", Data: snapshot}); err != nil {
		return
	}

	// Read pump: the client sends no data, but reading is what surfaces close
	// frames and pong responses.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(wsReadSizeLimit)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case batch, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(streamFrame{Event: "update", Data: batch}); err != nil {
				return
			}
		}
	}
}
