package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Message is a live event pushed to dashboard clients, e.g.
// wallet_credited or occurrence_updated.
type Message struct {
	Type    string         `json:"type"`
	Entity  string         `json:"entity"`
	Action  string         `json:"action"`
	ID      int64          `json:"id,omitempty"`
	ChildID int64          `json:"child_id,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action string, id int64, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// ForChild scopes the message to one child. Clients watching a different
// child will not receive it.
func (m Message) ForChild(childID int64) Message {
	m.ChildID = childID
	return m
}

// Hub fans messages out to connected clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.With("component", "websocket"),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client connected", "child_id", c.childID)
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast delivers msg to every client it is visible to. Slow clients
// drop messages rather than block the caller.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(msg) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client buffer full, dropping message", "type", msg.Type)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
