package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfold/polyarb/internal/domain"
)

const (
	// dialTimeout bounds the opening handshake.
	dialTimeout = 15 * time.Second

	// writeWait bounds any single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long the read side waits for a pong before declaring
	// the connection dead. Pings go out well inside that window.
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// BookHandler is called for every order book snapshot on the market channel.
type BookHandler func(BookEvent)

// TradeHandler is called for every last-trade-price tick on the market channel.
type TradeHandler func(TradeEvent)

// WSClient is a single connection to the CLOB market data WebSocket. It does
// not reconnect; the owner watches Done and dials a fresh client, so there is
// never more than one read/ping loop per wire.
type WSClient struct {
	wsURL string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	// writeMu serializes frame writes; gorilla allows one writer at a time.
	writeMu sync.Mutex

	handlerMu     sync.RWMutex
	bookHandlers  []BookHandler
	tradeHandlers []TradeHandler

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error
}

// NewWSClient creates a client for the given WebSocket URL, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. A client connects at most once.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}
	if w.conn != nil {
		return fmt.Errorf("polymarket/ws: already connected")
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	w.conn = conn

	// Pongs push the read deadline forward; a stalled peer times the read
	// loop out instead of hanging it.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	return nil
}

// Subscribe sends a market-channel subscription for the given outcome token
// IDs. The venue replies with a book snapshot per token, then streams deltas.
func (w *WSClient) Subscribe(assetIDs []string) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	return w.writeJSON(conn, wsSubscription{
		Type:     "market",
		AssetIDs: assetIDs,
	})
}

// OnBook registers a handler for order book snapshots.
func (w *WSClient) OnBook(handler BookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, handler)
}

// OnLastTrade registers a handler for last-trade-price ticks.
func (w *WSClient) OnLastTrade(handler TradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tradeHandlers = append(w.tradeHandlers, handler)
}

// Done is closed when the connection has terminated, cleanly or not.
func (w *WSClient) Done() <-chan struct{} {
	return w.done
}

// Err returns the error that ended the connection, nil after a clean Close.
func (w *WSClient) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// Close shuts the connection down and releases both loops.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if w.conn != nil {
		goodbye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		w.writeMu.Lock()
		w.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = w.conn.WriteMessage(websocket.CloseMessage, goodbye)
		w.writeMu.Unlock()
		err = w.conn.Close()
	}
	w.doneOnce.Do(func() { close(w.done) })
	return err
}

func (w *WSClient) writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal frame: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("polymarket/ws: write frame: %w", err)
	}
	return nil
}

// readLoop reads frames until the connection dies, then records the error
// and signals Done.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		w.doneOnce.Do(func() { close(w.done) })
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			w.recordDisconnect(err)
			return
		}
		w.handleMessage(message)
	}
}

// recordDisconnect stores the terminating error unless the client was closed
// deliberately.
func (w *WSClient) recordDisconnect(cause error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	w.errMu.Lock()
	w.err = fmt.Errorf("polymarket/ws: %w: %v", domain.ErrWSDisconnect, cause)
	w.errMu.Unlock()
}

// pingLoop keeps the connection alive; the pong handler extends the read
// deadline.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses one frame. The market channel batches events as JSON
// arrays; single objects also occur.
func (w *WSClient) handleMessage(raw []byte) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return
	}

	if raw[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			return
		}
		for _, item := range batch {
			w.dispatchEvent(item)
		}
		return
	}
	w.dispatchEvent(raw)
}

// dispatchEvent routes one event object to its handlers. Unknown event types
// (price_change, tick_size_change) are dropped; the book snapshots that
// follow trades carry the prices this client is for.
func (w *WSClient) dispatchEvent(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.EventType {
	case "book":
		var book BookEvent
		if json.Unmarshal(raw, &book) == nil {
			for _, h := range w.snapshotBookHandlers() {
				h(book)
			}
		}

	case "last_trade_price":
		var trade TradeEvent
		if json.Unmarshal(raw, &trade) == nil {
			for _, h := range w.snapshotTradeHandlers() {
				h(trade)
			}
		}
	}
}

func (w *WSClient) snapshotBookHandlers() []BookHandler {
	w.handlerMu.RLock()
	defer w.handlerMu.RUnlock()
	return w.bookHandlers
}

func (w *WSClient) snapshotTradeHandlers() []TradeHandler {
	w.handlerMu.RLock()
	defer w.handlerMu.RUnlock()
	return w.tradeHandlers
}
