// Package realtime pushes upload change events to WebSocket subscribers.
package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4 * 1024
	sendBuffer = 64

	// AllSections subscribes to every section.
	AllSections = "*"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is pushed to clients subscribed to its section.
type Event struct {
	Type    string `json:"type"`
	Section string `json:"section"`
	Payload any    `json:"payload,omitempty"`
}

// connection represents a single WebSocket client
type connection struct {
	conn     *websocket.Conn
	send     chan []byte
	sections map[string]bool
}

func (c *connection) wants(section string) bool {
	return c.sections[AllSections] || c.sections[section]
}

// Hub manages all active WebSocket connections.
type Hub struct {
	mu          sync.RWMutex
	connections map[*connection]struct{}
	closed      bool
	log         *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		connections: make(map[*connection]struct{}),
		log:         log,
	}
}

func (h *Hub) register(c *connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.connections[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[c]; ok {
		delete(h.connections, c)
		close(c.send)
	}
}

// Len is the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Publish sends an event to every client subscribed to section.
// Slow clients miss the event.
func (h *Hub) Publish(section, eventType string, payload any) {
	data, err := json.Marshal(&Event{Type: eventType, Section: section, Payload: payload})
	if err != nil {
		h.log.Warn("event encode failed", zap.String("type", eventType), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.connections {
		if !c.wants(section) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.Debug("dropping event for slow client", zap.String("type", eventType))
		}
	}
}

// Handle upgrades the request. ?section=a,b limits the subscription;
// without it the client receives every section.
func (h *Hub) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.ServeWS(conn, parseSections(c.Query("section")))
}

// ServeWS registers conn and runs its read and write loops until it closes.
func (h *Hub) ServeWS(conn *websocket.Conn, sections []string) {
	c := &connection{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		sections: make(map[string]bool, len(sections)),
	}
	for _, s := range sections {
		c.sections[s] = true
	}
	if len(c.sections) == 0 {
		c.sections[AllSections] = true
	}

	if !h.register(c) {
		conn.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(c)
	}()
	h.readPump(c)
	<-done
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.connections {
		delete(h.connections, c)
		close(c.send)
	}
}

func (h *Hub) readPump(c *connection) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd struct {
			Type    string `json:"type"`
			Section string `json:"section"`
		}
		if err := json.Unmarshal(msg, &cmd); err != nil {
			continue
		}
		section := strings.ToLower(strings.TrimSpace(cmd.Section))
		if section == "" {
			continue
		}

		switch cmd.Type {
		case "subscribe":
			h.mu.Lock()
			c.sections[section] = true
			h.mu.Unlock()
		case "unsubscribe":
			h.mu.Lock()
			delete(c.sections, section)
			h.mu.Unlock()
		}
	}
}

func (h *Hub) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func parseSections(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
