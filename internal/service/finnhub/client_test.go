package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientStreamsMappedTrades(t *testing.T) {
	subscribed := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < 2; i++ {
			var msg map[string]string
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			subscribed <- msg["symbol"]
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"trade","data":[
			{"s":"BINANCE:USDCUSDT","p":0.9998,"v":120,"t":1700000000123},
			{"s":"BINANCE:BTCUSDT","p":65000,"v":1,"t":1700000000124},
			{"s":"COINBASE:DAIUSD","p":1.0004,"v":5,"t":1700000000125}
		]}`))
		// keep the connection open until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	c := New(Config{
		APIKey:  "secret",
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols: map[string]string{"binance:usdcusdt": "usdc", "COINBASE:DAIUSD": "DAI"},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.True(t, c.IsConnected())
	require.NoError(t, c.Subscribe(ctx))
	assert.Equal(t, "BINANCE:USDCUSDT", <-subscribed)
	assert.Equal(t, "COINBASE:DAIUSD", <-subscribed)

	out, _ := c.Read(ctx)

	first := <-out
	require.NotNil(t, first)
	assert.Equal(t, "USDC", first.Symbol)
	assert.Equal(t, "finnhub:binance", first.Source)
	assert.Equal(t, 0.9998, first.Price)
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), first.Timestamp)

	second := <-out
	require.NotNil(t, second)
	assert.Equal(t, "DAI", second.Symbol)
	assert.Equal(t, "finnhub:coinbase", second.Source)

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}

func TestSubscribeRequiresConnection(t *testing.T) {
	c := New(Config{Symbols: map[string]string{"X": "Y"}}, nil)
	assert.Error(t, c.Subscribe(context.Background()))
	assert.NoError(t, c.Close())
}

func TestReconnectHonoursContext(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1", ReconnectDelay: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Reconnect(ctx), context.Canceled)
}
