package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
)

const (
	feedBuffer     = 256
	feedPongWait   = 90 * time.Second
	feedPingPeriod = 30 * time.Second
	feedWriteWait  = 10 * time.Second
)

// graphUpgrader is the shared upgrader for live feed connections.
var graphUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS for WebSocket is handled at the HTTP layer already.
		return true
	},
}

// GraphWebSocket streams every change to one collection.
// Query params:
//   path (required)
//
// The store subscription is registered before the handshake completes, so a
// client that returns from dialing will not miss a later write.
func GraphWebSocket(w http.ResponseWriter, r *http.Request) {
	store, ok := requireStore(w)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if !graph.ValidPath(path) {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	events := make(chan graph.Event, feedBuffer)
	overflow := make(chan struct{})
	var overflowOnce sync.Once

	sub := store.On(path, graph.ListenerFunc(func(p, key string, rec graph.Record) {
		select {
		case events <- graph.Event{Type: graph.EventTypeRecord, Path: p, Key: key, Data: rec}:
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
	}))
	defer sub.Off()

	conn, err := graphUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	// Writer goroutine: forward store events to this connection
	go func() {
		ticker := time.NewTicker(feedPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case evt := <-events:
				_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
				if err := conn.WriteJSON(evt); err != nil {
					conn.Close()
					return
				}
			case <-overflow:
				log.Printf("graph: feed %s fell behind, closing", path)
				_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
				_ = conn.WriteJSON(graph.Event{Type: graph.EventTypeError, Path: path, Error: "feed overflow"})
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
					conn.Close()
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Reader loop: the feed is one-way, reading only services pongs and close
	conn.SetReadLimit(4 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
