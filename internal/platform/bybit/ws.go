package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/metrics"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait is the time allowed between messages before the connection
	// is considered dead. The server answers our pings, so a healthy
	// connection always has traffic.
	readWait = 60 * time.Second

	// pingPeriod sends the application-level ping at this interval; Bybit
	// asks clients to ping every 20 seconds.
	pingPeriod = 20 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// OrderbookHandler is called for every orderbook snapshot or delta event.
type OrderbookHandler func(*OrderbookMessage)

// ConnStateHandler is called when the connection drops (down) or is
// re-established after a drop (up).
type ConnStateHandler func(up bool)

// WSClient is a WebSocket client for the Bybit v5 public spot streams. It
// manages the connection lifecycle, subscriptions, and dispatches events to
// registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Topics to restore on reconnect.
	topics []string

	bookHandlers  []OrderbookHandler
	stateHandlers []ConnStateHandler
	handlerMu     sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a new WebSocket client for the given endpoint, e.g.
// "wss://stream.bybit.com/v5/public/spot".
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
		return fmt.Errorf("bybit/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("bybit/ws: connect: %w", err)
	}

	w.conn = conn
	w.conn.SetReadDeadline(time.Now().Add(readWait))

	go w.readLoop()
	go w.pingLoop()

	// Restore any previous subscriptions after reconnect.
	if len(w.topics) > 0 {
		if err := w.sendCommand(wsCommand{Op: "subscribe", Args: append([]string(nil), w.topics...)}); err != nil {
			return fmt.Errorf("bybit/ws: restore subscriptions: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to the orderbook topics of the given native symbols
// at the given depth.
func (w *WSClient) Subscribe(ctx context.Context, natives []string, depth int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("bybit/ws: not connected")
	}

	topics := make([]string, 0, len(natives))
	for _, native := range natives {
		topics = append(topics, TopicName(native, depth))
	}

	if err := w.sendCommand(wsCommand{Op: "subscribe", Args: topics}); err != nil {
		return fmt.Errorf("bybit/ws: subscribe: %w", err)
	}

	// Track for reconnection.
	w.topics = append(w.topics, topics...)
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

// OnOrderbook registers a handler called for every orderbook event.
func (w *WSClient) OnOrderbook(handler OrderbookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, handler)
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

		conn.SetReadDeadline(time.Now().Add(readWait))
		w.handleMessage(message)
	}
}

// pingLoop sends the application-level ping Bybit expects.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.conn == nil {
				w.mu.Unlock()
				return
			}
			err := w.sendCommand(wsCommand{Op: "ping"})
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw WebSocket message and routes orderbook events
// to the registered handlers. Pongs, subscription acks, and unknown topics
// are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // silently drop unparseable messages
	}

	if !strings.HasPrefix(envelope.Topic, "orderbook.") {
		return
	}

	var msg OrderbookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	w.handlerMu.RLock()
	handlers := w.bookHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(&msg)
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

		metrics.WSReconnects.WithLabelValues("bybit").Inc()
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
