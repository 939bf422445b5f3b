// internal/app/gateway_test.go
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cryptotradex/stream-gateway/internal/config"
	"github.com/cryptotradex/stream-gateway/internal/ws"
	"github.com/cryptotradex/stream-gateway/pkg/logger"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T, restURL string) *config.Config {
	t.Helper()
	t.Setenv("GATEWAY_POLLING_BASE_URL", restURL)
	t.Setenv("GATEWAY_POLLING_INTERVAL", "100ms")
	t.Setenv("GATEWAY_POLLING_REQUEST_TIMEOUT", "50ms")
	t.Setenv("GATEWAY_BINANCE_ENABLED", "false")
	t.Setenv("GATEWAY_SYMBOLS", "BTCUSDT")
	t.Setenv("GATEWAY_HTTP_PORT", fmt.Sprint(freePort(t)))
	t.Setenv("GATEWAY_LOGGING_LEVEL", "error")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

// Весь сервис целиком: REST-снимок попадает в кэш, подписчик получает
// price_update, health отражает свежесть данных.
func TestGateway_EndToEnd(t *testing.T) {
	rest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"symbol":%q,"priceChangePercent":"1.0","lastPrice":"50000","highPrice":"51000","lowPrice":"49000","volume":"10","closeTime":%d}`,
			r.URL.Query().Get("symbol"), time.Now().UnixMilli())
	}))
	t.Cleanup(rest.Close)

	cfg := testConfig(t, rest.URL)
	log, err := logger.New(logger.Config{Level: "error", DevMode: true})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	gw, err := New(cfg, log, Options{})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	if gw.IsHealthy() {
		t.Fatal("gateway must be unhealthy before the first poll")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	// Ждём, пока HTTP поднимется и поллер наполнит кэш.
	wsURL := fmt.Sprintf("ws://127.0.0.1:%d%s", cfg.HTTP.Port, cfg.WS.Path)
	var client *websocket.Conn
	deadline := time.Now().Add(5 * time.Second)
	for {
		client, _, err = websocket.DefaultDialer.Dial(wsURL, nil)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial %s: %v", wsURL, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Cleanup(func() { _ = client.Close() })

	readFrame := func() ws.Envelope {
		t.Helper()
		_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, raw, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var env ws.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return env
	}

	if env := readFrame(); env.Type != ws.TypeConnected {
		t.Fatalf("first frame = %q, want connected", env.Type)
	}

	sub, _ := json.Marshal(ws.SymbolsPayload{Symbols: []string{"BTCUSDT"}})
	frame, _ := json.Marshal(ws.Envelope{Type: ws.TypeSubscribe, Data: sub})
	if err := client.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if env := readFrame(); env.Type != ws.TypeSubscribed {
		t.Fatalf("reply = %q, want subscribed", env.Type)
	}

	// Поллер крутится каждые 100мс: подписчик получает price_update.
	env := readFrame()
	if env.Type != ws.TypePriceUpdate {
		t.Fatalf("received %q, want price_update", env.Type)
	}

	if !gw.IsHealthy() {
		t.Fatal("gateway must be healthy once the cache has fresh data")
	}
	if rec, ok := gw.GetCachedPrice("BTCUSDT"); !ok || rec.Price.String() != "50000" {
		t.Fatalf("GetCachedPrice = %+v, %v", rec, ok)
	}
	if syms := gw.GetSupportedSymbols(); len(syms) != 1 || syms[0] != "BTCUSDT" {
		t.Fatalf("GetSupportedSymbols = %v", syms)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("gateway did not stop after cancellation")
	}
}
