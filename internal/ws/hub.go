// Package ws mirrors the agent's session state to locally connected
// UIs over WebSocket.
package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is one connected local UI.
type Client struct {
	ID   uuid.UUID
	Conn *websocket.Conn
	Send chan any
	Done chan struct{}

	closeOnce sync.Once
}

// Close shuts the client down. Safe to call more than once. Send is
// never closed: broadcasters race client teardown, so they check Done
// instead of relying on channel state.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Done)
		c.Conn.Close()
	})
}

// Hub tracks connected local clients and fans session-state snapshots
// out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
	log     zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]*Client),
		log:     log.With().Str("component", "ws").Logger(),
	}
}

// Add registers a connection and starts its pumps.
func (h *Hub) Add(conn *websocket.Conn) *Client {
	client := &Client{
		ID:   uuid.New(),
		Conn: conn,
		Send: make(chan any, 64),
		Done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	go h.writePump(client)
	go h.readPump(client)
	return client
}

// Remove drops a client from the hub and closes it.
func (h *Hub) Remove(client *Client) {
	h.mu.Lock()
	delete(h.clients, client.ID)
	h.mu.Unlock()
	client.Close()
}

// Broadcast sends a message to every connected client. Slow clients
// are skipped rather than blocking the caller.
func (h *Hub) Broadcast(message any) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case <-client.Done:
		case client.Send <- message:
		default:
		}
	}
}

// CloseAll disconnects every client, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[uuid.UUID]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

// readPump drains inbound frames; local UIs only listen, so anything
// other than control frames just keeps the connection healthy.
func (h *Hub) readPump(client *Client) {
	defer h.Remove(client)

	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("client", client.ID.String()).Msg("unexpected close")
			}
			return
		}
	}
}

func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteJSON(message); err != nil {
				h.log.Debug().Err(err).Str("client", client.ID.String()).Msg("write failed")
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.Done:
			client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
