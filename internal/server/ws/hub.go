// Package ws bridges the Redis signal bus to WebSocket clients so dashboards
// can follow position, price, metadata, and sell events live.
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

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// busChannels are the signal bus channels bridged to clients. New
// connections start subscribed to all of them.
var busChannels = []string{"positions", "prices", "metadata", "sells"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin filtering happens in the CORS middleware upstream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Config captures runtime metadata for the status envelope sent on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub fans signal-bus traffic out to connected WebSocket clients, each
// filtered by its channel subscriptions.
type Hub struct {
	bus       domain.SignalBus
	logger    *slog.Logger
	mode      string
	startedAt time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}

	openPositions func() int
	onConnect     func(ctx context.Context)
}

// Option configures optional hub collaborators.
type Option func(*Hub)

// WithOpenPositions supplies the open-position count for status envelopes.
func WithOpenPositions(count func() int) Option {
	return func(h *Hub) { h.openPositions = count }
}

// WithConnectHook runs after every client connection. Used to re-sync the
// price feed target set so a fresh dashboard sees live prices immediately.
func WithConnectHook(hook func(ctx context.Context)) Option {
	return func(h *Hub) { h.onConnect = hook }
}

// NewHub creates a hub bridging the signal bus to WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config, opts ...Option) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	h := &Hub{
		bus:       bus,
		logger:    logger,
		mode:      mode,
		startedAt: startedAt,
		clients:   make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run bridges every bus channel until ctx is cancelled, then disconnects
// all clients.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range busChannels {
		go h.forward(ctx, ch)
	}

	<-ctx.Done()

	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	return ctx.Err()
}

// forward consumes one bus channel and fans messages out.
func (h *Hub) forward(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	for data := range msgCh {
		h.mu.RLock()
		for c := range h.clients {
			if !c.isSubscribed(channel) {
				continue
			}
			select {
			case c.send <- data:
			default:
				// Slow client, drop rather than stall the bridge.
			}
		}
		h.mu.RUnlock()
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client connected", slog.Int("total_clients", n))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))
	}
}

// HandleWS upgrades GET /ws and starts the client pumps.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	h.add(c)
	c.queueStatus()
	if h.onConnect != nil {
		h.onConnect(r.Context())
	}

	go c.writeLoop()
	go c.readLoop()
}

// client is one WebSocket connection with its channel filter.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	subs := make(map[string]bool, len(busChannels))
	for _, ch := range busChannels {
		subs[ch] = true
	}
	return &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: subs,
	}
}

// subscribeMsg is the JSON frame a client sends to adjust its filter.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

func (c *client) applyFilter(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		switch msg.Action {
		case "subscribe":
			c.subs[ch] = true
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

// queueStatus pushes a small envelope so clients can mark the connection
// healthy before any trade event flows.
func (c *client) queueStatus() {
	open := 0
	if c.hub.openPositions != nil {
		open = c.hub.openPositions()
	}
	msg, err := json.Marshal(map[string]any{
		"type": "bot_status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"ws_connected":   true,
			"uptime_seconds": max(int64(time.Since(c.hub.startedAt).Seconds()), 0),
			"open_positions": open,
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// readLoop consumes client frames, which only ever carry filter changes,
// and keeps the pong deadline fresh.
func (c *client) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(message, &msg); err == nil && msg.Action != "" {
			c.applyFilter(msg)
		}
	}
}

// writeLoop sends queued messages as text frames with keepalive pings.
func (c *client) writeLoop() {
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
