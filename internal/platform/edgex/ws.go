// Package edgex contains the exchange adapter: a WebSocket client for the
// public market-data stream and a REST client for order placement.
package edgex

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/perpdex/perpflow/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// DepthHandler is called for every orderbook snapshot from the depth channel.
type DepthHandler func(domain.OrderbookSnapshot)

// TradeHandler is called for every trade print from the trades channel.
type TradeHandler func(domain.TradePrint)

// WSClient is a WebSocket client for the exchange's public market-data
// stream. It manages the connection lifecycle, subscriptions, and dispatches
// depth and trade messages to registered handlers. On disconnect it
// reconnects with exponential backoff, restoring subscriptions, up to
// maxReconnects consecutive failures.
type WSClient struct {
	wsURL          string
	reconnectDelay time.Duration
	maxReconnects  int

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool
	err    error

	// Subscriptions to restore on reconnect.
	subscriptions []WSCommand

	handlerMu     sync.RWMutex
	depthHandlers []DepthHandler
	tradeHandlers []TradeHandler

	// done is closed when the client is shut down or gives up reconnecting.
	done chan struct{}
}

// NewWSClient creates a WebSocket client for the given stream URL.
// reconnectDelay is the base backoff delay; maxReconnects bounds consecutive
// failed reconnection attempts before the client gives up (0 means no
// reconnection at all).
func NewWSClient(wsURL string, reconnectDelay time.Duration, maxReconnects int) *WSClient {
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	return &WSClient{
		wsURL:          wsURL,
		reconnectDelay: reconnectDelay,
		maxReconnects:  maxReconnects,
		done:           make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("edgex/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("edgex/ws: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	// Restore any previous subscriptions after reconnect.
	for _, cmd := range w.subscriptions {
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("edgex/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to the given channels for a contract ticker. Valid
// channels are "depth" and "trades".
func (w *WSClient) Subscribe(ctx context.Context, channels []string, ticker string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("edgex/ws: not connected")
	}

	for _, ch := range channels {
		cmd := WSCommand{
			Type:    "subscribe",
			Channel: ch,
			Ticker:  ticker,
		}
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("edgex/ws: subscribe to %s: %w", ch, err)
		}
		// Track subscription for reconnection.
		w.subscriptions = append(w.subscriptions, cmd)
	}

	return nil
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// Done is closed when the client shuts down, either via Close or after
// exhausting reconnection attempts. Err reports the terminal error, if any.
func (w *WSClient) Done() <-chan struct{} {
	return w.done
}

// Err returns the error that terminated the client, or nil after a clean
// Close.
func (w *WSClient) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.err
}

// OnDepth registers a handler for orderbook snapshots.
func (w *WSClient) OnDepth(handler DepthHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.depthHandlers = append(w.depthHandlers, handler)
}

// OnTrade registers a handler for trade prints.
func (w *WSClient) OnTrade(handler TradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tradeHandlers = append(w.tradeHandlers, handler)
}

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them. It runs in its own goroutine. On disconnect it hands off to
// reconnect, which restarts the loop via Connect.
func (w *WSClient) readLoop() {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			conn.Close()
			w.reconnect(err)
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw WebSocket message and routes it by channel.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable messages.
	}

	switch envelope.Channel {
	case "depth":
		var depth DepthMessage
		if err := json.Unmarshal(raw, &depth); err != nil {
			return
		}
		snap := DepthToSnapshot(&depth)

		w.handlerMu.RLock()
		handlers := w.depthHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(snap)
		}

	case "trades":
		var trade TradeMessage
		if err := json.Unmarshal(raw, &trade); err != nil {
			return
		}
		tp, err := TradeToPrint(&trade)
		if err != nil {
			return
		}

		w.handlerMu.RLock()
		handlers := w.tradeHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(tp)
		}
	}
}

// reconnect attempts to re-establish the connection with exponential
// backoff. It gives up after maxReconnects consecutive failures and marks
// the client done with a terminal error.
func (w *WSClient) reconnect(cause error) {
	if w.maxReconnects <= 0 {
		w.fail(fmt.Errorf("edgex/ws: connection lost: %w", cause))
		return
	}

	delay := w.reconnectDelay

	for attempt := 1; attempt <= w.maxReconnects; attempt++ {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}

	w.fail(fmt.Errorf("edgex/ws: gave up after %d reconnect attempts: %w", w.maxReconnects, cause))
}

// fail records a terminal error and closes done.
func (w *WSClient) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.err = err
	close(w.done)
}
