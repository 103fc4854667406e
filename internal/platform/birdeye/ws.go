package birdeye

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 45 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = 15 * time.Second
)

// SampleHandler receives price samples decoded from the stream.
type SampleHandler func(domain.PriceSample)

// WSClient is the WebSocket client for Birdeye's real-time price stream. It
// manages the connection, per-mint subscriptions, and keep-alive; reconnect
// policy belongs to the feed manager that owns it.
type WSClient struct {
	wsURL  string
	apiKey string

	mu            sync.Mutex
	conn          *websocket.Conn
	closed        bool
	subscriptions map[string]bool // mints to restore on reconnect

	handlerMu sync.RWMutex
	handlers  []SampleHandler

	// errCh receives exactly one error per connection when its read loop
	// dies, so the owner can decide whether to redial.
	errCh chan error
}

// NewWSClient creates a WebSocket client for the given stream URL.
func NewWSClient(wsURL, apiKey string) *WSClient {
	return &WSClient{
		wsURL:         wsURL,
		apiKey:        apiKey,
		subscriptions: make(map[string]bool),
		errCh:         make(chan error, 1),
	}
}

// OnSample registers a handler invoked for every decoded price sample.
func (w *WSClient) OnSample(h func(domain.PriceSample)) {
	w.handlerMu.Lock()
	w.handlers = append(w.handlers, h)
	w.handlerMu.Unlock()
}

// Errors exposes read-loop failures; one error is delivered per connection.
func (w *WSClient) Errors() <-chan error {
	return w.errCh
}

// Connect dials the stream and restores any prior subscriptions.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("birdeye/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL+"?x-api-key="+w.apiKey, nil)
	if err != nil {
		return fmt.Errorf("birdeye/ws: connect: %w", err)
	}
	w.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	for mint := range w.subscriptions {
		if err := w.sendLocked(subscribeMsg(mint)); err != nil {
			return fmt.Errorf("birdeye/ws: restore subscription %s: %w", mint, err)
		}
	}
	return nil
}

// Subscribe starts streaming prices for a mint.
func (w *WSClient) Subscribe(mint string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.subscriptions[mint] = true
	if w.conn == nil {
		return nil // sent on next Connect
	}
	if err := w.sendLocked(subscribeMsg(mint)); err != nil {
		return fmt.Errorf("birdeye/ws: subscribe %s: %w", mint, err)
	}
	return nil
}

// Unsubscribe stops streaming prices for a mint.
func (w *WSClient) Unsubscribe(mint string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.subscriptions, mint)
	if w.conn == nil {
		return nil
	}
	msg := wsMessage{Type: "UNSUBSCRIBE_PRICE", Data: wsSubData{Address: mint}}
	if err := w.sendLocked(msg); err != nil {
		return fmt.Errorf("birdeye/ws: unsubscribe %s: %w", mint, err)
	}
	return nil
}

// Close shuts the client down permanently.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

type wsMessage struct {
	Type string    `json:"type"`
	Data wsSubData `json:"data"`
}

type wsSubData struct {
	Address   string `json:"address"`
	ChartType string `json:"chartType,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

func subscribeMsg(mint string) wsMessage {
	return wsMessage{
		Type: "SUBSCRIBE_PRICE",
		Data: wsSubData{Address: mint, ChartType: "1m", Currency: "usd"},
	}
}

func (w *WSClient) sendLocked(msg wsMessage) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(msg)
}

type wsPriceEvent struct {
	Type string `json:"type"`
	Data struct {
		Address  string  `json:"address"`
		Value    float64 `json:"c"`
		UnixTime int64   `json:"unixTime"`
	} `json:"data"`
}

func (w *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			closed := w.closed
			if w.conn == conn {
				w.conn = nil
			}
			w.mu.Unlock()
			if !closed {
				select {
				case w.errCh <- fmt.Errorf("birdeye/ws: read: %w", err):
				default:
				}
			}
			return
		}

		var evt wsPriceEvent
		if err := json.Unmarshal(data, &evt); err != nil || evt.Type != "PRICE_DATA" {
			continue
		}

		sample := domain.PriceSample{
			Mint:      evt.Data.Address,
			Price:     evt.Data.Value,
			Source:    domain.PriceSourceBirdeye,
			Timestamp: time.Unix(evt.Data.UnixTime, 0).UTC(),
		}

		w.handlerMu.RLock()
		handlers := w.handlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(sample)
		}
	}
}

func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		w.mu.Lock()
		if w.conn != conn {
			w.mu.Unlock()
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		w.mu.Unlock()
		if err != nil {
			return
		}
	}
}
