package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ikkim/storecover-backend/pkg/logger"
)

const (
	// maximum client messages per second
	maxMessagesPerSecond = 10

	sendBufferSize = 256
)

// ClientMessage is the envelope of inbound messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// Client is one connected browser tab.
type Client struct {
	Hub           *Hub
	Conn          *Conn
	UserID        string
	Send          chan []byte
	MessageCount  int       // messages received in the current second
	LastResetTime time.Time // start of the current second
	RateMu        sync.Mutex
}

// NewClient builds a client with a buffered send queue.
func NewClient(hub *Hub, conn *Conn, userID string) *Client {
	return &Client{
		Hub:           hub,
		Conn:          conn,
		UserID:        userID,
		Send:          make(chan []byte, sendBufferSize),
		LastResetTime: time.Now(),
	}
}

// Hub fans job events out to every connected client.
type Hub struct {
	// UserID -> clients (one per device)
	clients map[string][]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string][]*Client),
		register:   make(chan *Client, 256),
		unregister: make(chan *Client, 256),
		broadcast:  make(chan []byte, 1024),
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every client's send queue.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for userID, list := range h.clients {
				for _, client := range list {
					close(client.Send)
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			logger.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.UserID] = append(h.clients[client.UserID], client)
			sessions := len(h.clients[client.UserID])
			h.mu.Unlock()
			logger.Info("WebSocket client registered", map[string]interface{}{
				"user_id":        client.UserID,
				"total_sessions": sessions,
			})

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for _, list := range h.clients {
				for _, client := range list {
					select {
					case client.Send <- message:
					default:
						slow = append(slow, client)
					}
				}
			}
			h.mu.RUnlock()

			for _, client := range slow {
				logger.Warn("Client send buffer full, disconnecting", map[string]interface{}{
					"user_id": client.UserID,
				})
				h.remove(client)
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	remaining := make([]*Client, 0, len(list))
	found := false
	for _, c := range list {
		if c == client {
			found = true
			continue
		}
		remaining = append(remaining, c)
	}
	if !found {
		return
	}
	if len(remaining) == 0 {
		delete(h.clients, client.UserID)
	} else {
		h.clients[client.UserID] = remaining
	}
	close(client.Send)

	logger.Info("WebSocket client unregistered", map[string]interface{}{
		"user_id":            client.UserID,
		"remaining_sessions": len(remaining),
	})
}

// Broadcast queues message for every client. Messages are dropped when the
// hub is saturated.
func (h *Hub) Broadcast(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		logger.Error("Failed to marshal broadcast message", err)
		return err
	}

	select {
	case h.broadcast <- data:
	default:
		logger.Warn("Broadcast channel full, message dropped")
	}
	return nil
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// ConnectedClients counts open connections across all users.
func (h *Hub) ConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, list := range h.clients {
		n += len(list)
	}
	return n
}

// HandleClientMessage applies the rate limit to inbound messages. The channel
// is push-only, so accepted messages are only logged. It reports whether the
// message was within the limit.
func (h *Hub) HandleClientMessage(client *Client, message []byte) bool {
	client.RateMu.Lock()
	now := time.Now()
	if now.Sub(client.LastResetTime) >= time.Second {
		client.MessageCount = 0
		client.LastResetTime = now
	}
	client.MessageCount++
	count := client.MessageCount
	client.RateMu.Unlock()

	if count > maxMessagesPerSecond {
		logger.Warn("Rate limit exceeded", map[string]interface{}{
			"user_id": client.UserID,
			"count":   count,
		})
		return false
	}

	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		logger.Warn("Failed to parse client message", map[string]interface{}{
			"user_id": client.UserID,
			"error":   err.Error(),
		})
		return true
	}
	logger.Debug("WebSocket message received", map[string]interface{}{
		"user_id": client.UserID,
		"type":    msg.Type,
	})
	return true
}
