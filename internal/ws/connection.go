// internal/ws/connection.go
package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cryptotradex/stream-gateway/internal/market"
	"github.com/cryptotradex/stream-gateway/internal/metrics"
	"github.com/cryptotradex/stream-gateway/pkg/logger"
)

// writeWait — дедлайн на запись одного кадра клиенту.
const writeWait = 10 * time.Second

// Conn — одна живая клиентская сессия. Создаётся сервером после
// upgrade, владеет реестр: никакой другой компонент её не мутирует.
// Исходящая запись идёт только через буферизованный канал send и
// единственную writePump-горутину.
type Conn struct {
	id string
	ws *websocket.Conn

	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	mu     sync.RWMutex
	userID string
	subs   map[market.Symbol]struct{}
	alive  bool

	log *logger.Logger
}

func newConn(wsConn *websocket.Conn, sendBuffer int, log *logger.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:    id,
		ws:    wsConn,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
		subs:  make(map[market.Symbol]struct{}),
		alive: true,
		log:   log.With(zap.String("conn_id", id)),
	}
}

// ID возвращает непрозрачный идентификатор соединения.
func (c *Conn) ID() string { return c.id }

// UserID возвращает привязанный userId ("" до аутентификации).
func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Conn) setUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// Subscribed сообщает, подписано ли соединение на символ.
func (c *Conn) Subscribed(sym market.Symbol) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[sym]
	return ok
}

// Subscriptions возвращает копию набора подписок.
func (c *Conn) Subscriptions() []market.Symbol {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]market.Symbol, 0, len(c.subs))
	for sym := range c.subs {
		out = append(out, sym)
	}
	return out
}

// subscribe добавляет символы из supported, возвращая принятое
// подмножество. Мутация атомарна: набор меняется под одной блокировкой.
func (c *Conn) subscribe(symbols []market.Symbol, supported *market.SymbolSet) []market.Symbol {
	accepted := make([]market.Symbol, 0, len(symbols))
	c.mu.Lock()
	for _, sym := range symbols {
		if !supported.Contains(sym) {
			continue
		}
		c.subs[sym] = struct{}{}
		accepted = append(accepted, sym)
	}
	c.mu.Unlock()
	return accepted
}

// unsubscribe снимает подписки; отсутствующий символ — no-op.
func (c *Conn) unsubscribe(symbols []market.Symbol) []market.Symbol {
	removed := make([]market.Symbol, 0, len(symbols))
	c.mu.Lock()
	for _, sym := range symbols {
		if _, ok := c.subs[sym]; ok {
			delete(c.subs, sym)
			removed = append(removed, sym)
		}
	}
	c.mu.Unlock()
	return removed
}

// IsAlive возвращает текущий флаг живости.
func (c *Conn) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alive
}

func (c *Conn) setAlive(v bool) {
	c.mu.Lock()
	c.alive = v
	c.mu.Unlock()
}

// TrySend кладёт кадр в исходящий буфер без блокировки. Переполненный
// буфер или закрытое соединение — молчаливый дроп: отстающего клиента
// приберёт следующий heartbeat-цикл.
func (c *Conn) TrySend(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		metrics.MessagesDropped.Inc()
		c.log.Debug("ws: send buffer full, dropping frame")
		return false
	}
}

// SendEnvelope сериализует конверт и отправляет через TrySend.
func (c *Conn) SendEnvelope(env Envelope) bool {
	return c.TrySend(env.Encode())
}

// writePump — единственный писатель в транспорт. Завершается при
// закрытии соединения или ошибке записи.
func (c *Conn) writePump() {
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("ws: write failed", zap.Error(err))
				return
			}
		}
	}
}

// ping шлёт транспортный ping-кадр. WriteControl безопасен
// одновременно с writePump.
func (c *Conn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// close закрывает транспорт и будит writePump. Идемпотентен.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
