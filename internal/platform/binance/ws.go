package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/metrics"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed between messages from the peer before
	// the connection is considered dead.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less
	// than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// DepthUpdateHandler is called for every diff-depth event received.
type DepthUpdateHandler func(*DepthUpdate)

// ConnStateHandler is called when the connection drops (down) or is
// re-established after a drop (up).
type ConnStateHandler func(up bool)

// WSClient is a WebSocket client for the Binance spot diff-depth streams.
// It manages the connection lifecycle, subscriptions, and dispatches events
// to registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Streams to restore on reconnect.
	streams []string
	cmdID   atomic.Int64

	depthHandlers []DepthUpdateHandler
	stateHandlers []ConnStateHandler
	handlerMu     sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a new WebSocket client for the given endpoint, e.g.
// "wss://stream.binance.com:9443/ws".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("binance/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w", err)
	}

	w.conn = conn

	// The server pings every few minutes; any inbound frame refreshes the
	// read deadline.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	w.conn.SetPingHandler(func(appData string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		w.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return w.conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	go w.readLoop()
	go w.pingLoop()

	// Restore any previous subscriptions after reconnect.
	if len(w.streams) > 0 {
		if err := w.sendCommand(wsCommand{
			Method: "SUBSCRIBE",
			Params: append([]string(nil), w.streams...),
			ID:     w.cmdID.Add(1),
		}); err != nil {
			return fmt.Errorf("binance/ws: restore subscriptions: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to the diff-depth streams of the given native
// symbols.
func (w *WSClient) Subscribe(ctx context.Context, natives []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("binance/ws: not connected")
	}

	streams := make([]string, 0, len(natives))
	for _, native := range natives {
		streams = append(streams, StreamName(native))
	}

	if err := w.sendCommand(wsCommand{
		Method: "SUBSCRIBE",
		Params: streams,
		ID:     w.cmdID.Add(1),
	}); err != nil {
		return fmt.Errorf("binance/ws: subscribe: %w", err)
	}

	// Track for reconnection.
	w.streams = append(w.streams, streams...)
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

// OnDepthUpdate registers a handler called for every diff-depth event.
func (w *WSClient) OnDepthUpdate(handler DepthUpdateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.depthHandlers = append(w.depthHandlers, handler)
}

// OnConnState registers a handler called on disconnect and on successful
// reconnect.
func (w *WSClient) OnConnState(handler ConnStateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.stateHandlers = append(w.stateHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them. On disconnect, it attempts to reconnect with exponential backoff.
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
			conn.Close()

			select {
			case <-w.done:
				return
			default:
			}

			w.notifyState(false)
			w.reconnect()
			return // a fresh readLoop is started by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
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

// handleMessage parses a raw WebSocket message and routes depth events to
// the registered handlers. Command acks and unknown events are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // silently drop unparseable messages
	}

	if envelope.Event != "depthUpdate" {
		return
	}

	var update DepthUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return
	}

	w.handlerMu.RLock()
	handlers := w.depthHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(&update)
	}
}

// notifyState fans a connection-state change out to the registered
// handlers.
func (w *WSClient) notifyState(up bool) {
	w.handlerMu.RLock()
	handlers := w.stateHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(up)
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		metrics.WSReconnects.WithLabelValues("binance").Inc()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			w.notifyState(true)
			return
		}

		// Exponential backoff.
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
