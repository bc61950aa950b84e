// Package websocket pushes allocation snapshots and alarm payloads to
// connected operator dashboards. Allocation snapshots are sent when a caller
// invokes BroadcastAllocations; the server does so after each forced
// recompute, not after recomputes triggered by session events.
package websocket

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/websocket/v2"
)

type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Outbound messages to push to every registered client.
	broadcast chan []byte

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	mu sync.RWMutex
}

type Client struct {
	hub *Hub
	// The websocket connection.
	conn *websocket.Conn
	// Buffered channel of outbound messages.
	send chan []byte
	// User ID
	userID string
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastAllocations marshals an allocation map and pushes it to every
// connected dashboard client. Slow or disconnected clients are dropped by
// Run's non-blocking send rather than stalling the broadcast.
func (h *Hub) BroadcastAllocations(allocations map[string]float64) error {
	payload, err := json.Marshal(struct {
		Allocations map[string]float64 `json:"allocations"`
	}{Allocations: allocations})
	if err != nil {
		return err
	}
	h.broadcast <- payload
	return nil
}

// BroadcastAlarm pushes a raw alarm payload (e.g. a BESS emergency event
// consumed off the alarm queue) to every connected dashboard client.
func (h *Hub) BroadcastAlarm(payload []byte) error {
	h.broadcast <- payload
	return nil
}

func (h *Hub) AddClient(conn *websocket.Conn, userID string) {
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256), userID: userID}
	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		// Read message loop needed to keep connection alive and process incoming control messages (ping/pong)
		// We might not expect messages from client for this hub (mostly push)
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued chat messages to the current websocket message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		}
	}
}
