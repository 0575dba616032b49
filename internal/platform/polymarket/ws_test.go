package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/polyarb/internal/domain"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// startWSServer runs handler for each WebSocket connection and returns a
// ws:// URL for it.
func startWSServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// holdOpen drains frames until the peer goes away.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestWSSubscribeSendsMarketFrame(t *testing.T) {
	frames := make(chan wsSubscription, 1)
	url := startWSServer(t, func(conn *websocket.Conn) {
		var sub wsSubscription
		if err := conn.ReadJSON(&sub); err == nil {
			frames <- sub
		}
		holdOpen(conn)
	})

	client := NewWSClient(url)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.NoError(t, client.Subscribe([]string{"tok-yes", "tok-no"}))

	select {
	case sub := <-frames:
		assert.Equal(t, "market", sub.Type)
		assert.Equal(t, []string{"tok-yes", "tok-no"}, sub.AssetIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the subscription frame")
	}
}

func TestWSDispatchesBatchedEvents(t *testing.T) {
	// The market channel batches events as JSON arrays. price_change sits in
	// the middle to show unknown event types pass through harmlessly.
	batch := `[
		{"event_type": "book", "asset_id": "tok-yes", "market": "0xabc",
		 "asks": [{"price": "0.47", "size": "100"}, {"price": "0.45", "size": "250"}],
		 "bids": [{"price": "0.40", "size": "50"}],
		 "timestamp": "1700000000000"},
		{"event_type": "price_change", "asset_id": "tok-yes", "price": "0.46"},
		{"event_type": "last_trade_price", "asset_id": "tok-no",
		 "price": "0.52", "size": "10", "timestamp": "1700000000500"}
	]`
	url := startWSServer(t, func(conn *websocket.Conn) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(batch)); err != nil {
			return
		}
		holdOpen(conn)
	})

	books := make(chan BookEvent, 2)
	trades := make(chan TradeEvent, 2)

	client := NewWSClient(url)
	client.OnBook(func(ev BookEvent) { books <- ev })
	client.OnLastTrade(func(ev TradeEvent) { trades <- ev })
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	select {
	case ev := <-books:
		assert.Equal(t, "tok-yes", ev.AssetID)
		best, ok := ev.BestAsk()
		require.True(t, ok)
		assert.True(t, best.Equal(decimal.RequireFromString("0.45")), "best ask %s", best)
	case <-time.After(2 * time.Second):
		t.Fatal("book event never reached the handler")
	}

	select {
	case ev := <-trades:
		assert.Equal(t, "tok-no", ev.AssetID)
		assert.Equal(t, "0.52", ev.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("trade event never reached the handler")
	}
}

func TestWSSurvivesMalformedFrames(t *testing.T) {
	url := startWSServer(t, func(conn *websocket.Conn) {
		for _, frame := range []string{
			`{not json`,
			`[]`,
			`{"event_type": "book", "asset_id": "tok-yes", "asks": [{"price": "0.45", "size": "1"}]}`,
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		holdOpen(conn)
	})

	books := make(chan BookEvent, 1)
	client := NewWSClient(url)
	client.OnBook(func(ev BookEvent) { books <- ev })
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	select {
	case ev := <-books:
		assert.Equal(t, "tok-yes", ev.AssetID)
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not survive the malformed frames")
	}
}

func TestWSCloseClosesDone(t *testing.T) {
	url := startWSServer(t, holdOpen)

	client := NewWSClient(url)
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Close())

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("done channel still open after Close")
	}
	assert.NoError(t, client.Err(), "a local close is not a transport failure")
}

func TestWSServerDisconnectRecordsError(t *testing.T) {
	url := startWSServer(t, func(conn *websocket.Conn) {
		// Drop the connection without a close handshake.
	})

	client := NewWSClient(url)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { client.Close() })

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("done channel still open after server disconnect")
	}
	require.ErrorIs(t, client.Err(), domain.ErrWSDisconnect)
}

func TestWSConnectionStates(t *testing.T) {
	url := startWSServer(t, holdOpen)

	t.Run("double connect", func(t *testing.T) {
		client := NewWSClient(url)
		require.NoError(t, client.Connect(context.Background()))
		defer client.Close()
		require.Error(t, client.Connect(context.Background()))
	})

	t.Run("subscribe before connect", func(t *testing.T) {
		client := NewWSClient(url)
		require.Error(t, client.Subscribe([]string{"tok-yes"}))
	})

	t.Run("connect after close", func(t *testing.T) {
		client := NewWSClient(url)
		require.NoError(t, client.Close())
		require.ErrorIs(t, client.Connect(context.Background()), domain.ErrWSDisconnect)
	})
}
