// Package ws streams boundary events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/premarket/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	// sendBufferSize is the per-client outgoing queue.
	sendBufferSize = 256

	// maxReplay bounds the history pushed for ?since=.
	maxReplay = 200

	// allEvents subscribes to every event type.
	allEvents = "*"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Config wires the hub to the event bus. With a nil Bus the hub only relays
// what is handed to Broadcast.
type Config struct {
	Bus domain.SignalBus
	// Channel is the pub/sub channel carrying events.
	Channel string
	// Stream is the durable stream used for ?since= replay.
	Stream    string
	StartedAt time.Time
}

// Hub fans boundary events out to connected clients. Each client receives
// every event type unless it narrows its subscription.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	cfg        Config
	mu         sync.RWMutex
	logger     *slog.Logger
}

// client is a single websocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is what a client sends to change its event filter:
//
//	{"action":"subscribe","events":["order_created","order_cancelled"]}
type subscribeMsg struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// NewHub creates a Hub.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws")),
	}
}

// Broadcast queues one encoded event for every subscribed client. It never
// blocks; when the hub is backed up the event is dropped.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("ws: broadcast queue full, dropping event")
	}
}

// Run serves registrations and broadcasts until ctx is cancelled. With a bus
// configured it also relays the bus channel.
func (h *Hub) Run(ctx context.Context) error {
	if h.cfg.Bus != nil && h.cfg.Channel != "" {
		go h.subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case data := <-h.broadcast:
			typ := eventType(data)
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(typ) {
					continue
				}
				select {
				case c.send <- data:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribe relays the bus channel into the broadcast queue.
func (h *Hub) subscribe(ctx context.Context) {
	msgCh, err := h.cfg.Bus.Subscribe(ctx, h.cfg.Channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", h.cfg.Channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", h.cfg.Channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", h.cfg.Channel))
				return
			}
			h.Broadcast(data)
		}
	}
}

// HandleWS upgrades the request and registers the client. ?since=<stream id>
// first replays events recorded after that id; ?events=a,b narrows the
// subscription.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	since := r.URL.Query().Get("since")
	var history []domain.StreamMessage
	if since != "" {
		if h.cfg.Bus == nil || h.cfg.Stream == "" {
			http.Error(w, `{"error":"event history is not available"}`, http.StatusBadRequest)
			return
		}
		var err error
		history, err = h.cfg.Bus.StreamRead(r.Context(), h.cfg.Stream, since, maxReplay)
		if err != nil {
			h.logger.Error("ws: replay read failed", slog.String("since", since), slog.String("error", err.Error()))
			http.Error(w, `{"error":"event history read failed"}`, http.StatusBadGateway)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{allEvents: true},
	}
	if events := r.URL.Query()["events"]; len(events) > 0 {
		c.setFilter(splitEvents(events))
	}

	c.send <- h.hello(len(history))
	for _, m := range history {
		if c.isSubscribed(eventType(m.Payload)) {
			c.send <- m.Payload
		}
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// splitEvents flattens ?events=a,b&events=c.
func splitEvents(values []string) []string {
	var out []string
	for _, v := range values {
		for _, ev := range strings.Split(v, ",") {
			if ev = strings.TrimSpace(ev); ev != "" {
				out = append(out, ev)
			}
		}
	}
	return out
}

// hello is the first frame on every connection.
func (h *Hub) hello(replayed int) []byte {
	uptime := int64(time.Since(h.cfg.StartedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	msg, _ := json.Marshal(map[string]any{
		"type": "hello",
		"payload": map[string]any{
			"uptime_seconds": uptime,
			"replayed":       replayed,
		},
	})
	return msg
}

// eventType extracts the "event" field of an encoded domain.Event.
func eventType(data []byte) string {
	var head struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.Event
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription applies subscribe/unsubscribe/reset requests.
func (c *client) handleSubscription(msg subscribeMsg) {
	switch msg.Action {
	case "subscribe":
		// The first explicit subscription replaces the catch-all.
		c.mu.Lock()
		if c.subs[allEvents] && len(msg.Events) > 0 {
			delete(c.subs, allEvents)
		}
		for _, ev := range msg.Events {
			c.subs[ev] = true
		}
		c.mu.Unlock()
	case "unsubscribe":
		c.mu.Lock()
		for _, ev := range msg.Events {
			delete(c.subs, ev)
		}
		c.mu.Unlock()
	case "reset":
		c.setFilter([]string{allEvents})
	}
}

func (c *client) setFilter(events []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = make(map[string]bool, len(events))
	for _, ev := range events {
		c.subs[ev] = true
	}
}

func (c *client) isSubscribed(event string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[allEvents] || c.subs[event]
}

// writePump sends queued events as text frames and pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
