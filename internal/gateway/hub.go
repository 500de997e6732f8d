// Package gateway fans run-progress events out to WebSocket clients.
// It drains the engine's event ring and broadcasts JSON envelopes; slow
// clients are dropped rather than allowed to stall the fan-out.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"backtest-enginev1/internal/event"
)

const sendBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Local tooling UI; same-origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub manages WebSocket clients and event fan-out.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, clients: make(map[*Client]bool)}
}

// ServeWS upgrades an HTTP request and registers the peer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &Client{conn: conn, send: make(chan []byte, sendBuffer), hub: h}

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("ws client connected", slog.Int("clients", n))

	go c.writePump()
	go c.readPump()
}

// RemoveClient unregisters a peer and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount reports the number of connected peers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends one event to every client. Full send queues drop the
// message for that client.
func (h *Hub) Broadcast(ev event.Event) {
	h.mu.Lock()
	h.seq++
	envelope, err := json.Marshal(struct {
		Seq int64 `json:"seq"`
		event.Event
	}{Seq: h.seq, Event: ev})
	if err != nil {
		h.mu.Unlock()
		return
	}
	for c := range h.clients {
		select {
		case c.send <- envelope:
		default:
			// Slow consumer: drop this message, keep the connection.
		}
	}
	h.mu.Unlock()
}

// Close disconnects every client. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
