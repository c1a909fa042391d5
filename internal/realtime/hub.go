// Package realtime provides a WebSocket hub that streams settlement
// events (orders, disputes, escrow transitions, payouts) to connected
// clients with per-client subscription filters.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waveform-market/waveform/internal/metrics"
	"github.com/waveform-market/waveform/internal/money"
)

// EventType identifies the kind of settlement event being broadcast.
type EventType string

const (
	EventOrderCreated     EventType = "order.created"
	EventPaymentSucceeded EventType = "order.payment_succeeded"
	EventPaymentFailed    EventType = "order.payment_failed"
	EventOrderCompleted   EventType = "order.completed"
	EventDisputeOpened    EventType = "dispute.opened"
	EventDisputeResolved  EventType = "dispute.resolved"
	EventEscrowReleased   EventType = "escrow.released"
	EventEscrowRefunded   EventType = "escrow.refunded"
	EventPayoutRequested  EventType = "payout.requested"
)

// Event is a message pushed to subscribed WebSocket clients.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscription controls which events a client receives.
type Subscription struct {
	// AllEvents subscribes to everything regardless of other filters.
	AllEvents bool `json:"allEvents"`

	// EventTypes limits delivery to the listed types.
	EventTypes []EventType `json:"eventTypes,omitempty"`

	// UserIDs limits delivery to events involving any of the listed
	// users (buyer, seller or artist on the event payload).
	UserIDs []string `json:"userIds,omitempty"`

	// MinAmount drops events whose amount is below the given decimal
	// string. Events without an amount pass the filter.
	MinAmount string `json:"minAmount,omitempty"`
}

// Client is a single WebSocket connection with its subscription.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan *Event

	mu  sync.RWMutex
	sub Subscription
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	maxClients     = 10000
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browser origin enforcement happens at the edge proxy.
		return true
	},
}

// Hub fans settlement events out to connected WebSocket clients.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}

	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client

	done     chan struct{}
	doneOnce sync.Once
}

// NewHub creates a Hub. Call Run before accepting connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes client registration and event fan-out until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer h.doneOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(count))
			h.logger.Debug("websocket client connected", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(count))
			h.logger.Debug("websocket client disconnected", "clients", count)

		case event := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if !client.shouldSend(event) {
					continue
				}
				select {
				case client.send <- event:
				default:
					// Slow consumer, drop the event rather than
					// stalling the hub.
					h.logger.Warn("dropping event for slow client", "type", event.Type)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.ActiveWebSocketClients.Set(0)
}

// Broadcast queues an event for delivery to matching clients. It never
// blocks; events are dropped when the hub is saturated or stopped.
func (h *Hub) Broadcast(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case <-h.done:
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "type", event.Type)
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats summarizes hub state for diagnostics endpoints.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"clients":       len(h.clients),
		"maxClients":    maxClients,
		"queueCapacity": cap(h.broadcast),
		"queueDepth":    len(h.broadcast),
	}
}

// HandleWebSocket upgrades an HTTP request to a WebSocket connection
// and attaches it to the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "service shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if h.ClientCount() >= maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan *Event, sendBuffer),
		sub:  Subscription{AllEvents: true},
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) shouldSend(event *Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.sub.AllEvents {
		if len(c.sub.EventTypes) > 0 {
			found := false
			for _, t := range c.sub.EventTypes {
				if t == event.Type {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}

		if len(c.sub.UserIDs) > 0 && !eventInvolves(event, c.sub.UserIDs) {
			return false
		}
	}

	if c.sub.MinAmount != "" {
		if amount, ok := event.Data["amount"].(string); ok {
			if money.Cmp(amount, c.sub.MinAmount) < 0 {
				return false
			}
		}
	}

	return true
}

func eventInvolves(event *Event, userIDs []string) bool {
	for _, key := range []string{"buyerId", "sellerId", "artistId"} {
		id, ok := event.Data[key].(string)
		if !ok {
			continue
		}
		for _, want := range userIDs {
			if id == want {
				return true
			}
		}
	}
	return false
}

// readPump reads subscription updates from the client until the
// connection closes.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var sub Subscription
		if err := c.conn.ReadJSON(&sub); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
	}
}

// writePump delivers queued events and keep-alive pings to the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
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
