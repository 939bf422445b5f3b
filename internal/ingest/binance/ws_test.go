// internal/ingest/binance/ws_test.go
package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cryptotradex/stream-gateway/internal/market"
	"github.com/cryptotradex/stream-gateway/pkg/logger"
)

func testCache(t *testing.T, symbols ...string) *market.Cache {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", DevMode: true})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	set, err := market.NewSymbolSet(symbols)
	if err != nil {
		t.Fatalf("NewSymbolSet: %v", err)
	}
	return market.NewCache(set, log)
}

// Фейковый Binance: принимает соединение, проверяет SUBSCRIBE и шлёт
// один ticker-кадр.
func fakeBinance(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var sub struct {
			Method string   `json:"method"`
			Params []string `json:"params"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Method != "SUBSCRIBE" || len(sub.Params) == 0 {
			t.Errorf("unexpected subscribe request: %+v", sub)
			return
		}
		_ = conn.WriteJSON(map[string]interface{}{"result": nil, "id": 1})

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Держим соединение, пока клиент не уйдёт.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestConnector_DeliversTickerToCache(t *testing.T) {
	ticker := `{"e":"24hrTicker","E":1672515782136,"s":"BTCUSDT","P":"2.5","c":"50000","h":"51000","l":"49000","v":"100"}`
	srv := fakeBinance(t, `{"garbage":`, ticker)
	t.Cleanup(srv.Close)

	cache := testCache(t, "BTCUSDT")
	log, _ := logger.New(logger.Config{Level: "error", DevMode: true})

	conn, err := NewConnector(Config{
		WSURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}, cache, log)
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.Run(ctx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if rec, ok := cache.Get("BTCUSDT"); ok {
			if rec.Price.String() != "50000" {
				t.Fatalf("price = %s, want 50000", rec.Price)
			}
			if rec.SourceTS != 1672515782136 {
				t.Fatalf("sourceTS = %d", rec.SourceTS)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ticker never reached the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connector did not stop after cancellation")
	}
}

func TestConnector_IgnoresUnsupportedSymbol(t *testing.T) {
	foreign := `{"e":"24hrTicker","E":1672515782136,"s":"DOGEUSDT","P":"0","c":"1","h":"1","l":"1","v":"1"}`
	known := `{"e":"24hrTicker","E":1672515782137,"s":"BTCUSDT","P":"0","c":"42","h":"1","l":"1","v":"1"}`
	srv := fakeBinance(t, foreign, known)
	t.Cleanup(srv.Close)

	cache := testCache(t, "BTCUSDT")
	log, _ := logger.New(logger.Config{Level: "error", DevMode: true})
	conn, err := NewConnector(Config{
		WSURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}, cache, log)
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = conn.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := cache.Get("BTCUSDT"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("known symbol never reached the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := cache.Get("DOGEUSDT"); ok {
		t.Fatal("unsupported symbol stored in cache")
	}
}
