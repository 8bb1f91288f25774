package dex

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantavo/poolpilot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// PriceUpdateHandler is called for every streamed pool price event.
type PriceUpdateHandler func(PriceUpdate)

// WSClient is a WebSocket client for the DEX streaming price feed. It manages
// the connection lifecycle, pool subscriptions, and dispatches price events to
// registered handlers. Subscriptions are restored after a reconnect.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Pool ids to restore on reconnect.
	pools map[string]struct{}

	handlerMu sync.RWMutex
	handlers  []PriceUpdateHandler

	done chan struct{}
}

// NewWSClient creates a WebSocket client for the given streaming endpoint,
// e.g. "wss://stream.dex.example.com/v1/prices".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		pools: make(map[string]struct{}),
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("dex/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dex/ws: connect: %w", err)
	}
	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	if len(w.pools) > 0 {
		if err := w.sendCommand(WSCommand{Type: "subscribe", Pools: w.poolList()}); err != nil {
			return fmt.Errorf("dex/ws: restore subscriptions: %w", err)
		}
	}

	return nil
}

// Subscribe starts streaming prices for the given pools.
func (w *WSClient) Subscribe(ctx context.Context, poolIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("dex/ws: not connected")
	}

	if err := w.sendCommand(WSCommand{Type: "subscribe", Pools: poolIDs}); err != nil {
		return fmt.Errorf("dex/ws: subscribe: %w", err)
	}
	for _, id := range poolIDs {
		w.pools[id] = struct{}{}
	}
	return nil
}

// Unsubscribe stops streaming prices for the given pools.
func (w *WSClient) Unsubscribe(ctx context.Context, poolIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("dex/ws: not connected")
	}

	if err := w.sendCommand(WSCommand{Type: "unsubscribe", Pools: poolIDs}); err != nil {
		return fmt.Errorf("dex/ws: unsubscribe: %w", err)
	}
	for _, id := range poolIDs {
		delete(w.pools, id)
	}
	return nil
}

// OnPriceUpdate registers a handler called for every streamed price event.
func (w *WSClient) OnPriceUpdate(handler PriceUpdateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Close shuts down the connection and stops the read loop.
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

// sendCommand sends a JSON command. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) poolList() []string {
	out := make([]string, 0, len(w.pools))
	for id := range w.pools {
		out = append(out, id)
	}
	return out
}

// readLoop reads messages and dispatches price events. On disconnect it hands
// off to reconnect and exits; Connect starts a fresh loop.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

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
			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep the connection alive.
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

func (w *WSClient) handleMessage(raw []byte) {
	var msg priceMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return // drop unparseable messages
	}
	if msg.Event != "price" || msg.Price <= 0 {
		return
	}

	update := PriceUpdate{
		PoolID: msg.PoolID,
		Token:  msg.Token,
		Price:  msg.Price,
		At:     time.Unix(msg.Timestamp, 0),
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(update)
	}
}

// reconnect re-establishes the connection with exponential backoff. It blocks
// until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

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
}
