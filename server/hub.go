package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/boat-builder/mediapod"
)

const writeWait = 10 * time.Second

// client is one websocket observer of a session.
type client struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	writeMu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans session updates out to the websocket clients subscribed to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[string]*client
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]map[string]*client),
		logger:  logger,
	}
}

// Subscribe registers conn as an observer of sessionID.
func (h *Hub) Subscribe(sessionID, clientID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[string]*client)
	}
	h.clients[sessionID][clientID] = &client{id: clientID, sessionID: sessionID, conn: conn}
}

func (h *Hub) Unsubscribe(sessionID, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[sessionID], clientID)
	if len(h.clients[sessionID]) == 0 {
		delete(h.clients, sessionID)
	}
}

// Count returns the number of observers of sessionID.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

func (h *Hub) subscribers(sessionID string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients[sessionID]))
	for _, c := range h.clients[sessionID] {
		out = append(out, c)
	}
	return out
}

// Broadcast writes u to every observer of its session. Failed clients are dropped.
func (h *Hub) Broadcast(u mediapod.Update) {
	data, err := json.Marshal(u)
	if err != nil {
		h.logger.Error("Failed to marshal update", "session_id", u.SessionID, "msg_id", u.MsgID, "error", err)
		return
	}

	clients := h.subscribers(u.SessionID)
	if len(clients) == 0 {
		h.logger.Debug("No observers for update", "session_id", u.SessionID, "type", u.Type)
		return
	}

	failed := 0
	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.logger.Warn("Failed to send update", "client_id", c.id, "session_id", u.SessionID, "error", err)
			h.Unsubscribe(c.sessionID, c.id)
			c.conn.Close()
			failed++
		}
	}
	h.logger.Debug("Update broadcast", "session_id", u.SessionID, "type", u.Type, "seq", u.Seq,
		"success", len(clients)-failed, "failed", failed)
}

// CloseSession disconnects every observer of sessionID.
func (h *Hub) CloseSession(sessionID string) {
	for _, c := range h.subscribers(sessionID) {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		c.conn.Close()
		h.Unsubscribe(sessionID, c.id)
	}
}
