package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/storysync/internal/events"
	"github.com/kimhsiao/storysync/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// Envelope wraps every event relayed over WebSocket.
type Envelope struct {
	Type      events.Type `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// clientMessage is a control message sent by a client.
type clientMessage struct {
	Action string   `json:"action"` // subscribe, unsubscribe, ping
	Events []string `json:"events,omitempty"`
}

type outbound struct {
	typ     events.Type
	payload []byte
}

// wsClient is one WebSocket connection. An empty subscription set receives
// every event.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu            sync.RWMutex
	subscriptions map[events.Type]bool
}

func (c *wsClient) wants(t events.Type) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[t]
}

// Hub relays bus events to connected WebSocket clients.
type Hub struct {
	upgrader   websocket.Upgrader
	clients    map[string]*wsClient
	broadcast  chan outbound
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	mu         sync.RWMutex
	nextID     uint64
	now        func() time.Time
}

// NewHub creates a Hub. Browser connections are accepted from
// allowedOrigins and from the server's own host; an empty list allows only
// the latter.
func NewHub(allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowed[origin] || allowed["*"] {
					return true
				}
				return origin == "http://"+r.Host || origin == "https://"+r.Host
			},
		},
		clients:    make(map[string]*wsClient),
		broadcast:  make(chan outbound, sendBuffer),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run manages client connections and broadcasts until ctx is done, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			n := len(h.clients)
			h.mu.Unlock()
			logging.Info("WebSocket client connected", map[string]interface{}{
				"client": c.id,
				"total":  n,
			})

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			logging.Info("WebSocket client disconnected", map[string]interface{}{
				"client": c.id,
				"total":  n,
			})

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				if !c.wants(msg.typ) {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// slow client
					close(c.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Attach relays every event published on bus and returns a func that stops
// relaying.
func (h *Hub) Attach(bus *events.Bus) func() {
	return bus.Subscribe(h.Publish)
}

// Publish encodes e and queues it for every interested client. It never
// blocks: events are dropped when the broadcast buffer is full.
func (h *Hub) Publish(e events.Event) {
	payload, err := json.Marshal(Envelope{
		Type:      e.Type(),
		Data:      e,
		Timestamp: h.now().UnixMilli(),
	})
	if err != nil {
		logging.Error("Failed to encode event", err, map[string]interface{}{
			"event": string(e.Type()),
		})
		return
	}

	select {
	case h.broadcast <- outbound{typ: e.Type(), payload: payload}:
	default:
		logging.Warn("WebSocket broadcast buffer full, dropping event", map[string]interface{}{
			"event": string(e.Type()),
		})
	}
}

// ServeHTTP upgrades the connection and starts the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	h.mu.Lock()
	h.nextID++
	id := fmt.Sprintf("%d-%s", h.nextID, r.RemoteAddr)
	h.mu.Unlock()

	c := &wsClient{
		id:            id,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		hub:           h,
		subscriptions: make(map[events.Type]bool),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump handles control messages until the connection fails.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("WebSocket read failed", map[string]interface{}{
					"client": c.id,
					"error":  err.Error(),
				})
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				c.subscriptions[events.Type(e)] = true
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "subscribe_ack", "subscribed": msg.Events})

		case "unsubscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				delete(c.subscriptions, events.Type(e))
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "unsubscribe_ack", "unsubscribed": msg.Events})

		case "ping":
			c.reply(map[string]interface{}{"action": "pong"})
		}
	}
}

// writePump writes queued messages and keeps the connection alive.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// reply queues a control response. It is dropped if the client is slow.
func (c *wsClient) reply(v map[string]interface{}) {
	v["timestamp"] = c.hub.now().UnixMilli()
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}
