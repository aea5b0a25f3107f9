// Package wsdebug is a developer-only debug WebSocket stream for a single
// worker's raw progress feed, independent of the aggregated broadcast the
// gateway exposes to real clients on /ws. Only started when DEV_MODE is set.
package wsdebug

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"
)

var logger = log.New(os.Stdout, "[wsdebug] ", log.LstdFlags)

// Hub broadcasts progress snapshots for one worker device to every attached
// debug client.
type Hub struct {
	device int

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
}

// NewHub builds a debug hub for a single device.
func NewHub(device int) *Hub {
	return &Hub{
		device: device,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP upgrades the connection and keeps it registered until the peer
// disconnects. The hub is read-only from the client's perspective: incoming
// frames are drained and discarded so the connection stays alive.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Printf("gpu %d: upgrade failed: %v", h.device, err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	logger.Printf("gpu %d: debug client connected: %s", h.device, conn.RemoteAddr())

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
		logger.Printf("gpu %d: debug client disconnected", h.device)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Broadcast sends a progress snapshot to every attached debug client.
func (h *Hub) Broadcast(snapshot any) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		logger.Printf("gpu %d: marshal snapshot: %v", h.device, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Printf("gpu %d: write to debug client failed: %v", h.device, err)
		}
	}
}

// ClientCount reports how many debug clients are currently attached.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
