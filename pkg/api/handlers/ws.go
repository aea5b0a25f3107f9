package handlers

import (
	"log"
	"os"
	"time"

	"github.com/gofiber/contrib/websocket"
)

var wsLogger = log.New(os.Stdout, "[ws] ", log.LstdFlags)

const broadcastInterval = 500 * time.Millisecond

// WS is the GET /ws handler: it sends an initial snapshot the moment a
// client connects, then pushes a fresh map of every task's TaskSnapshot
// every broadcastInterval, matching the original's websocket_endpoint (send
// immediately, then 0.5s sleep between sends) until the connection closes
// or the write fails.
func (h *Handlers) WS(c *websocket.Conn) {
	defer c.Close()

	if err := c.WriteJSON(h.Core.Snapshot()); err != nil {
		wsLogger.Printf("write failed, closing: %v", err)
		return
	}

	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := c.WriteJSON(h.Core.Snapshot()); err != nil {
			wsLogger.Printf("write failed, closing: %v", err)
			return
		}
	}
}
