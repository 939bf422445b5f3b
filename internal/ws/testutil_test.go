// internal/ws/testutil_test.go
package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cryptotradex/stream-gateway/internal/market"
	"github.com/cryptotradex/stream-gateway/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", DevMode: true})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func testSymbols(t *testing.T, raw ...string) *market.SymbolSet {
	t.Helper()
	set, err := market.NewSymbolSet(raw)
	if err != nil {
		t.Fatalf("NewSymbolSet: %v", err)
	}
	return set
}

// newTestPair поднимает настоящую WebSocket-пару: серверную Conn с
// запущенным writePump и клиентский конец для проверок доставки.
func newTestPair(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverSide := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverSide <- wsConn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	conn := newConn(<-serverSide, 16, testLogger(t))
	go conn.writePump()
	t.Cleanup(conn.close)
	return conn, client
}

// readEnvelope читает следующий кадр клиента и разбирает конверт.
func readEnvelope(t *testing.T, client *websocket.Conn) Envelope {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

// expectNoFrame убеждается, что клиенту ничего не пришло за window.
func expectNoFrame(t *testing.T, client *websocket.Conn, window time.Duration) {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(window))
	if _, raw, err := client.ReadMessage(); err == nil {
		t.Fatalf("unexpected frame delivered: %s", raw)
	}
}
