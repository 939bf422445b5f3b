// internal/market/cache.go
package market

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cryptotradex/stream-gateway/internal/metrics"
	"github.com/cryptotradex/stream-gateway/pkg/logger"
)

// DefaultStaleAfter — возраст, после которого запись считается устаревшей
// для оценки здоровья всего конвейера приёма данных.
const DefaultStaleAfter = 30 * time.Second

// UpdateObserver вызывается после каждого принятого обновления.
// Кэш ничего не знает о соединениях: фильтрацию по подпискам делает роутер.
type UpdateObserver func(rec PriceRecord)

// Cache — единственный источник истины по последней цене каждого символа.
// Безопасен при конкурентном доступе из push-коннекторов, поллера и
// read-API. Блокировка не удерживается во время вызова наблюдателей.
type Cache struct {
	symbols    *SymbolSet
	staleAfter time.Duration
	now        func() time.Time

	mu      sync.RWMutex
	records map[Symbol]PriceRecord

	obsMu     sync.RWMutex
	observers []UpdateObserver

	log *logger.Logger
}

// CacheOption настраивает кэш при создании.
type CacheOption func(*Cache)

// WithStaleAfter переопределяет порог устаревания (для health-проверки).
func WithStaleAfter(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

// WithClock подменяет источник времени (используется в тестах).
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache создаёт пустой кэш для заданного набора символов.
func NewCache(symbols *SymbolSet, log *logger.Logger, opts ...CacheOption) *Cache {
	c := &Cache{
		symbols:    symbols,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		records:    make(map[Symbol]PriceRecord, symbols.Len()),
		log:        log.Named("price-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnUpdate регистрирует наблюдателя принятых обновлений.
// Вызывать до старта ингеста; после старта список не мутируется.
func (c *Cache) OnUpdate(fn UpdateObserver) {
	if fn == nil {
		return
	}
	c.obsMu.Lock()
	c.observers = append(c.observers, fn)
	c.obsMu.Unlock()
}

// Update применяет запись, если её событийное время не старше сохранённого
// (или записи ещё нет). Возвращает true, если запись принята. Отклонение
// устаревшей записи — штатное поведение при двух источниках, не ошибка.
// source — метка источника для метрик ("binance-ws", "rest-poll", ...).
func (c *Cache) Update(source string, rec PriceRecord) bool {
	c.mu.Lock()
	stored, exists := c.records[rec.Symbol]
	if exists && rec.SourceTS < stored.SourceTS {
		c.mu.Unlock()
		metrics.PriceUpdatesStale.WithLabelValues(source).Inc()
		c.log.Debug("stale update discarded",
			zap.String("symbol", string(rec.Symbol)),
			zap.Int64("incoming_ts", rec.SourceTS),
			zap.Int64("stored_ts", stored.SourceTS),
		)
		return false
	}
	c.records[rec.Symbol] = rec
	c.mu.Unlock()

	metrics.PriceUpdatesAccepted.WithLabelValues(source).Inc()
	c.notify(rec)
	return true
}

func (c *Cache) notify(rec PriceRecord) {
	c.obsMu.RLock()
	observers := c.observers
	c.obsMu.RUnlock()
	for _, fn := range observers {
		fn(rec)
	}
}

// Get возвращает последнюю запись по символу. Чистое чтение.
func (c *Cache) Get(sym Symbol) (PriceRecord, bool) {
	c.mu.RLock()
	rec, ok := c.records[sym]
	c.mu.RUnlock()
	return rec, ok
}

// All возвращает копию всех сохранённых записей.
func (c *Cache) All() map[Symbol]PriceRecord {
	c.mu.RLock()
	out := make(map[Symbol]PriceRecord, len(c.records))
	for sym, rec := range c.records {
		out[sym] = rec
	}
	c.mu.RUnlock()
	return out
}

// Symbols возвращает поддерживаемый набор символов.
func (c *Cache) Symbols() []Symbol { return c.symbols.List() }

// Supported сообщает, входит ли символ в поддерживаемый набор.
func (c *Cache) Supported(sym Symbol) bool { return c.symbols.Contains(sym) }

// IsHealthy — true, если хотя бы одна запись не старше staleAfter.
// Сигнал живости конвейера в целом, независимо от конкретного символа.
func (c *Cache) IsHealthy() bool {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rec := range c.records {
		if rec.Age(now) <= c.staleAfter {
			return true
		}
	}
	return false
}
