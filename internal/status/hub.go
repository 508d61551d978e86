// Package status streams sync engine state and the pending count to
// WebSocket clients and serves a small JSON status API.
package status

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fittrack/backend/internal/logging"
	syncpkg "github.com/fittrack/backend/internal/sync"
)

// Event types sent to clients.
const (
	EventSyncState     = "sync.state"
	EventSyncPending   = "sync.pending"
	EventSyncCompleted = "sync.completed"
)

const (
	sendBuffer = 256
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Envelope wraps every event sent to a client.
type Envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

type message struct {
	typ  string
	data []byte
	to   *client
}

// Hub maintains active client connections and broadcasts events to them.
// The latest event of each type is replayed to clients as they connect.
type Hub struct {
	clients    map[*client]struct{}
	last       map[string][]byte
	broadcast  chan message
	direct     chan message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	count      chan chan int
	now        func() time.Time
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		last:       make(map[string][]byte),
		broadcast:  make(chan message, sendBuffer),
		direct:     make(chan message),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		count:      make(chan chan int),
		now:        time.Now,
	}
}

// Run manages client connections and broadcasts until ctx is cancelled.
// It must be called exactly once.
func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		close(h.done)
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-h.register:
			h.clients[c] = struct{}{}
			for typ, data := range h.last {
				if c.wants(typ) {
					c.send <- data
				}
			}
			logging.Debug("status client connected", map[string]interface{}{
				"client": c.id,
				"total":  len(h.clients),
			})

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			logging.Debug("status client disconnected", map[string]interface{}{
				"client": c.id,
				"total":  len(h.clients),
			})

		case msg := <-h.broadcast:
			h.last[msg.typ] = msg.data
			for c := range h.clients {
				if !c.wants(msg.typ) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Slow client: drop it rather than stall everyone else.
					delete(h.clients, c)
					close(c.send)
				}
			}

		case msg := <-h.direct:
			if _, ok := h.clients[msg.to]; ok {
				select {
				case msg.to.send <- msg.data:
				default:
				}
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// Clients returns the number of connected clients, or 0 once the hub stopped.
func (h *Hub) Clients() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Broadcast sends an event to every client subscribed to messageType.
func (h *Hub) Broadcast(messageType string, data map[string]interface{}) {
	envelope := Envelope{
		Type:      messageType,
		Data:      data,
		Timestamp: h.now().Unix(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("failed to marshal status event", err, map[string]interface{}{"type": messageType})
		return
	}

	select {
	case h.broadcast <- message{typ: messageType, data: bytes}:
	case <-h.done:
	}
}

// BroadcastState publishes an engine state.
func (h *Hub) BroadcastState(state syncpkg.State) {
	data := map[string]interface{}{"kind": string(state.Kind)}
	if state.Message != "" {
		data["message"] = state.Message
	}
	h.Broadcast(EventSyncState, data)
}

// BroadcastPending publishes the number of queued mutations.
func (h *Hub) BroadcastPending(count int) {
	h.Broadcast(EventSyncPending, map[string]interface{}{"count": count})
}

// BroadcastCompleted publishes the outcome of a finished pass.
func (h *Hub) BroadcastCompleted(result syncpkg.SyncResult) {
	h.Broadcast(EventSyncCompleted, map[string]interface{}{
		"success":      result.Success,
		"synced_count": result.SyncedCount,
		"error_count":  result.ErrorCount,
		"message":      result.Message,
	})
}

// Follow relays the engine's state and pending count to clients until ctx
// is cancelled.
func (h *Hub) Follow(ctx context.Context, engine syncpkg.Syncer) error {
	states, stopStates := engine.SubscribeState()
	defer stopStates()
	pending, stopPending := engine.SubscribePending()
	defer stopPending()

	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-states:
			if !ok {
				return nil
			}
			h.BroadcastState(st)
		case n, ok := <-pending:
			if !ok {
				return nil
			}
			h.BroadcastPending(n)
		}
	}
}

// client is one WebSocket connection.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu            sync.RWMutex
	subscriptions map[string]bool
}

// wants reports whether the client receives events of typ. A client with no
// subscriptions receives everything.
func (c *client) wants(typ string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[typ]
}

// clientMessage is a control message sent by a client.
type clientMessage struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// readPump handles control messages until the connection closes.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("status client read failed", map[string]interface{}{
					"client": c.id,
					"error":  err.Error(),
				})
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logging.Debug("invalid status client message", map[string]interface{}{"client": c.id})
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				c.subscriptions[e] = true
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "subscribe_ack", "subscribed": msg.Events})

		case "unsubscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				delete(c.subscriptions, e)
			}
			c.mu.Unlock()

		case "ping":
			c.reply(map[string]interface{}{"action": "pong"})
		}
	}
}

// reply queues a direct response through the hub, which owns c.send.
func (c *client) reply(body map[string]interface{}) {
	body["timestamp"] = c.hub.now().Unix()
	bytes, err := json.Marshal(body)
	if err != nil {
		return
	}
	select {
	case c.hub.direct <- message{data: bytes, to: c}:
	case <-c.hub.done:
	}
}

// writePump writes queued events and keeps the connection alive with pings.
func (c *client) writePump() {
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
