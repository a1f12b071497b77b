// Package websocket provides live updates for open query editors.
// It implements a hub pattern: template changes from the event bus are
// broadcast to every client, and clients may ask for a preview of an element
// sequence which is compiled and answered on the same connection.
package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"corpus_dashboard/events"
	"corpus_dashboard/query"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// defaultMaxMessageSize bounds preview requests when no limit is configured.
	defaultMaxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	// MessageTypeTemplateSaved is sent when a template is created or replaced.
	MessageTypeTemplateSaved MessageType = "template_saved"
	// MessageTypeTemplateDeleted is sent when a template is removed.
	MessageTypeTemplateDeleted MessageType = "template_deleted"
	// MessageTypeTemplatesReloaded is sent when the template file was re-read.
	MessageTypeTemplatesReloaded MessageType = "templates_reloaded"
	// MessageTypePreview is both the client request and the server reply.
	MessageTypePreview MessageType = "preview"
	// MessageTypeError answers a request the server could not handle.
	MessageTypeError MessageType = "error"
)

// Message represents a WebSocket message sent to clients.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"` // Unix timestamp in milliseconds
	Payload   interface{} `json:"payload"`
}

// TemplatePayload describes a template change.
type TemplatePayload struct {
	Name    string `json:"name"`
	Query   string `json:"query,omitempty"`
	User    string `json:"user,omitempty"`
	Created bool   `json:"created,omitempty"`
}

// ReloadPayload describes a reload of the template file.
type ReloadPayload struct {
	Count int `json:"count"`
}

// PreviewRequest is sent by a client to compile an element sequence.
type PreviewRequest struct {
	Type     MessageType    `json:"type"`
	ID       string         `json:"id"`
	Elements query.Sequence `json:"elements"`
}

// PreviewPayload answers a PreviewRequest.
type PreviewPayload struct {
	ID         string           `json:"id"`
	Query      string           `json:"query"`
	Validation query.Validation `json:"validation"`
}

// ErrorPayload reports a rejected client message.
type ErrorPayload struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// Client represents a connected WebSocket client.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients        map[*Client]bool
	broadcast      chan []byte
	register       chan *Client
	unregister     chan *Client
	mu             sync.RWMutex
	running        bool
	stopCh         chan struct{}
	wg             sync.WaitGroup
	maxMessageSize int64

	// Event bus subscription
	eventBus      *events.Bus
	subscriptions []*events.Subscription
}

// Option is a functional option for configuring the hub.
type Option func(*Hub)

// WithMaxMessageSize bounds the size of a single client message.
func WithMaxMessageSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxMessageSize = int64(n)
		}
	}
}

// NewHub creates a new WebSocket hub.
func NewHub(eventBus *events.Bus, opts ...Option) *Hub {
	h := &Hub{
		clients:        make(map[*Client]bool),
		broadcast:      make(chan []byte, 256),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		stopCh:         make(chan struct{}),
		maxMessageSize: defaultMaxMessageSize,
		eventBus:       eventBus,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start begins the hub's main loop.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	h.subscribeToEvents()

	h.wg.Add(1)
	go h.run()

	log.Printf("WebSocket hub started")
}

// Stop gracefully shuts down the hub.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	for _, sub := range h.subscriptions {
		sub.Unsubscribe()
	}
	h.subscriptions = nil

	close(h.stopCh)
	h.wg.Wait()

	log.Printf("WebSocket hub stopped")
}

// subscribeToEvents subscribes to template events on the bus.
func (h *Hub) subscribeToEvents() {
	if h.eventBus == nil {
		return
	}

	h.subscriptions = append(h.subscriptions,
		h.eventBus.Subscribe(events.TemplateSaved, func(e events.Event) {
			evt := e.(*events.TemplateSavedEvent)
			h.broadcastMessage(Message{
				Type:      MessageTypeTemplateSaved,
				Timestamp: evt.Timestamp().UnixMilli(),
				Payload: TemplatePayload{
					Name:    evt.Name,
					Query:   evt.Query,
					User:    evt.User,
					Created: evt.Created,
				},
			})
		}),
		h.eventBus.Subscribe(events.TemplateDeleted, func(e events.Event) {
			evt := e.(*events.TemplateDeletedEvent)
			h.broadcastMessage(Message{
				Type:      MessageTypeTemplateDeleted,
				Timestamp: evt.Timestamp().UnixMilli(),
				Payload: TemplatePayload{
					Name: evt.Name,
					User: evt.User,
				},
			})
		}),
		h.eventBus.Subscribe(events.TemplatesReloaded, func(e events.Event) {
			evt := e.(*events.TemplatesReloadedEvent)
			h.broadcastMessage(Message{
				Type:      MessageTypeTemplatesReloaded,
				Timestamp: evt.Timestamp().UnixMilli(),
				Payload:   ReloadPayload{Count: evt.Count},
			})
		}),
	)
}

// broadcastMessage serializes and broadcasts a message to all clients.
func (h *Hub) broadcastMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("WebSocket: failed to marshal message: %v", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		log.Printf("WebSocket: broadcast channel full, dropping message")
	}
}

// sendTo queues data for one client. It drops the message if the client is
// gone or its buffer is full.
func (h *Hub) sendTo(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("WebSocket: client buffer full, dropping reply")
	}
}

// run is the main hub loop.
func (h *Hub) run() {
	defer h.wg.Done()

	for {
		select {
		case <-h.stopCh:
			// Close all client connections
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket: client connected (total: %d)", clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket: client disconnected (total: %d)", clientCount)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client buffer full, close connection
					go h.drop(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// drop asks the hub loop to forget c, unless the hub is shutting down.
func (h *Hub) drop(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopCh:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler returns an HTTP handler for WebSocket connections.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket: upgrade error: %v", err)
			return
		}

		client := &Client{
			hub:  h,
			conn: conn,
			send: make(chan []byte, 256),
		}

		select {
		case h.register <- client:
		case <-h.stopCh:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// handleMessage answers one message read from a client.
func (h *Hub) handleMessage(c *Client, data []byte) {
	var req PreviewRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.reply(c, Message{Type: MessageTypeError, Payload: ErrorPayload{Message: "invalid message: " + err.Error()}})
		return
	}

	switch req.Type {
	case MessageTypePreview:
		q := query.Serialize(req.Elements)
		h.reply(c, Message{
			Type: MessageTypePreview,
			Payload: PreviewPayload{
				ID:         req.ID,
				Query:      q,
				Validation: query.Validate(q),
			},
		})
	default:
		h.reply(c, Message{Type: MessageTypeError, Payload: ErrorPayload{
			ID:      req.ID,
			Message: "unknown message type: " + string(req.Type),
		}})
	}
}

func (h *Hub) reply(c *Client, msg Message) {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("WebSocket: failed to marshal reply: %v", err)
		return
	}
	h.sendTo(c, data)
}

// readPump reads client requests and keeps the connection alive via pongs.
func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket: read error: %v", err)
			}
			break
		}
		c.hub.handleMessage(c, data)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
// Each message goes in its own frame so clients can decode frames as JSON.
func (c *Client) writePump() {
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
				// Hub closed the channel
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
