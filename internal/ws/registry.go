// internal/ws/registry.go
package ws

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/cryptotradex/stream-gateway/internal/market"
	"github.com/cryptotradex/stream-gateway/internal/metrics"
	"github.com/cryptotradex/stream-gateway/pkg/logger"
)

// ErrConnNotFound возвращается операциями над уже удалённым соединением.
// Для роутера это не фатальная ситуация, а повод ответить error-сообщением.
var ErrConnNotFound = errors.New("ws: connection not found")

// Registry — единственный владелец всех живых соединений. Все операции
// атомарны с точки зрения вызывающего и безопасны при одновременном
// вызове из receive-loop'ов, heartbeat-а и broadcast-пути.
type Registry struct {
	supported *market.SymbolSet
	log       *logger.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewRegistry создаёт пустой реестр для заданного набора символов.
func NewRegistry(supported *market.SymbolSet, log *logger.Logger) *Registry {
	return &Registry{
		supported: supported,
		log:       log.Named("registry"),
		conns:     make(map[string]*Conn),
	}
}

// Register добавляет только что принятое соединение: alive, без
// подписок, без userId. Всегда успешен.
func (r *Registry) Register(conn *Conn) string {
	r.mu.Lock()
	r.conns[conn.id] = conn
	total := len(r.conns)
	r.mu.Unlock()

	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Set(float64(total))
	r.log.Info("connection registered",
		zap.String("conn_id", conn.id),
		zap.Int("active", total),
	)
	return conn.id
}

// Unregister удаляет соединение и закрывает его транспорт. Идемпотентен.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	total := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return
	}
	conn.close()
	metrics.ConnectionsActive.Set(float64(total))
	r.log.Info("connection unregistered",
		zap.String("conn_id", connID),
		zap.Int("active", total),
	)
}

// Get возвращает соединение по id.
func (r *Registry) Get(connID string) (*Conn, bool) {
	r.mu.RLock()
	conn, ok := r.conns[connID]
	r.mu.RUnlock()
	return conn, ok
}

// Len возвращает число зарегистрированных соединений.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Authenticate привязывает userId к соединению. Исчезнувшее соединение
// — ошибка для вызывающего, не для сервиса.
func (r *Registry) Authenticate(connID, userID string) error {
	conn, ok := r.Get(connID)
	if !ok {
		return ErrConnNotFound
	}
	conn.setUserID(userID)
	r.log.Info("connection authenticated",
		zap.String("conn_id", connID),
		zap.String("user_id", userID),
	)
	return nil
}

// Subscribe добавляет поддерживаемые символы к подписке соединения и
// возвращает принятое подмножество. Неподдерживаемые символы
// отбрасываются по одному, не отменяя весь запрос.
func (r *Registry) Subscribe(connID string, symbols []market.Symbol) ([]market.Symbol, error) {
	conn, ok := r.Get(connID)
	if !ok {
		return nil, ErrConnNotFound
	}
	accepted := conn.subscribe(symbols, r.supported)
	r.log.Debug("subscriptions added",
		zap.String("conn_id", connID),
		zap.Int("requested", len(symbols)),
		zap.Int("accepted", len(accepted)),
	)
	return accepted, nil
}

// Unsubscribe снимает подписки и возвращает реально снятые символы.
func (r *Registry) Unsubscribe(connID string, symbols []market.Symbol) ([]market.Symbol, error) {
	conn, ok := r.Get(connID)
	if !ok {
		return nil, ErrConnNotFound
	}
	return conn.unsubscribe(symbols), nil
}

// MarkAlive отмечает соединение живым. Вызывается на транспортный pong.
func (r *Registry) MarkAlive(connID string) {
	if conn, ok := r.Get(connID); ok {
		conn.setAlive(true)
	}
}

// Sweep — один heartbeat-цикл: мёртвые (не подтвердившие живость с
// прошлого цикла) закрываются и удаляются, живые помечаются
// неподтверждёнными и получают транспортный ping. Два состояния и один
// флип за цикл дают детекцию за два интервала, третье состояние только
// затянуло бы её.
func (r *Registry) Sweep() []string {
	r.mu.Lock()
	var dead []*Conn
	var live []*Conn
	for _, conn := range r.conns {
		if conn.IsAlive() {
			live = append(live, conn)
		} else {
			dead = append(dead, conn)
			delete(r.conns, conn.id)
		}
	}
	total := len(r.conns)
	r.mu.Unlock()

	removed := make([]string, 0, len(dead))
	for _, conn := range dead {
		conn.close()
		removed = append(removed, conn.id)
		metrics.ConnectionsReaped.Inc()
		r.log.Info("dead connection reaped", zap.String("conn_id", conn.id))
	}
	metrics.ConnectionsActive.Set(float64(total))

	for _, conn := range live {
		conn.setAlive(false)
		if err := conn.ping(); err != nil {
			// Ошибка ping не фатальна: соединение не подтвердит
			// живость и будет убрано следующим циклом.
			r.log.Debug("heartbeat ping failed",
				zap.String("conn_id", conn.id),
				zap.Error(err),
			)
		}
	}
	return removed
}

// BroadcastFiltered отправляет конверт каждому соединению, для которого
// истинен предикат. Переполненные буферы пропускаются без ошибки:
// такие соединения закроет heartbeat. Возвращает число доставок в буфер.
func (r *Registry) BroadcastFiltered(env Envelope, predicate func(*Conn) bool) int {
	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		if predicate(conn) {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}
	frame := env.Encode()
	sent := 0
	for _, conn := range targets {
		if conn.TrySend(frame) {
			sent++
		}
	}
	return sent
}
