// internal/ingest/binance/ws.go

// Package binance реализует push-ингест: постоянное WebSocket-соединение
// со стримами @ticker и трансляция событий в кэш цен.
package binance

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cryptotradex/stream-gateway/internal/market"
	"github.com/cryptotradex/stream-gateway/internal/metrics"
	"github.com/cryptotradex/stream-gateway/pkg/backoff"
	"github.com/cryptotradex/stream-gateway/pkg/logger"
)

// SourceName — метка источника в метриках и логах.
const SourceName = "binance-ws"

// Config задаёт параметры подключения к Binance WebSocket.
type Config struct {
	WSURL       string         `mapstructure:"ws_url"`       // напр. "wss://stream.binance.com:9443/ws"
	ReadTimeout time.Duration  `mapstructure:"read_timeout"` // ReadDeadline, по умолчанию 30s
	Backoff     backoff.Config `mapstructure:"backoff"`      // ретраи переподключения
}

// ApplyDefaults заполняет нулевые поля.
func (c *Config) ApplyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
}

// Validate проверяет конфигурацию.
func (c Config) Validate() error {
	if c.WSURL == "" {
		return fmt.Errorf("binance: ws_url is required")
	}
	return nil
}

// Connector держит соединение с авто-reconnect и пишет нормализованные
// записи в кэш. Ошибка разбора одного события логируется и пропускается,
// не трогая остальной поток.
type Connector struct {
	cfg     Config
	cache   *market.Cache
	streams []string
	log     *logger.Logger

	subscribeID uint64 // уникальный id для SUBSCRIBE-запросов
}

// NewConnector создаёт коннектор для всех поддерживаемых кэшем символов.
func NewConnector(cfg Config, cache *market.Cache, log *logger.Logger) (*Connector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	symbols := cache.Symbols()
	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		streams = append(streams, strings.ToLower(string(sym))+"@ticker")
	}

	return &Connector{
		cfg:     cfg,
		cache:   cache,
		streams: streams,
		log:     log.Named(SourceName),
	}, nil
}

// Name возвращает метку источника.
func (c *Connector) Name() string { return SourceName }

// Run крутит цикл connect → subscribe → read до отмены контекста.
// Любой обрыв транспорта ведёт к переподключению с бэкоффом.
func (c *Connector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.log.Info("connector stopped")
			return ctx.Err()
		default:
		}

		conn, err := c.connect(ctx)
		if err != nil {
			c.log.Error("connect failed after retries", zap.Error(err))
			continue
		}
		c.readLoop(ctx, conn)
	}
}

func (c *Connector) connect(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := backoff.Execute(ctx, c.cfg.Backoff, c.log, func(ctxTry context.Context) error {
		var dialErr error
		conn, _, dialErr = websocket.DefaultDialer.DialContext(ctxTry, c.cfg.WSURL, nil)
		return dialErr
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("connected", zap.String("url", c.cfg.WSURL), zap.Int("streams", len(c.streams)))
	return conn, nil
}

// readLoop обслуживает одно соединение до первой транспортной ошибки.
func (c *Connector) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()

	// ReadMessage не реагирует на контекст: при отмене рвём транспорт,
	// чтобы цикл чтения вернулся немедленно.
	go func() {
		<-pingCtx.Done()
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})
	go c.keepAlive(pingCtx, conn)

	if err := c.subscribe(conn); err != nil {
		c.log.Error("subscribe failed", zap.Error(err))
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("read error, reconnecting", zap.Error(err))
			}
			return
		}
		c.handleMessage(raw)
	}
}

func (c *Connector) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.ReadTimeout / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Warn("ping failed", zap.Error(err))
			}
		}
	}
}

func (c *Connector) subscribe(conn *websocket.Conn) error {
	req := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": c.streams,
		"id":     atomic.AddUint64(&c.subscribeID, 1),
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(req)
}

// handleMessage разбирает одно событие. Ответы на SUBSCRIBE и прочие
// не-ticker кадры молча пропускаются.
func (c *Connector) handleMessage(raw []byte) {
	rec, ok, err := parseTicker(raw)
	if err != nil {
		metrics.IngestParseErrors.Inc()
		c.log.Warn("ticker parse failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if !c.cache.Supported(rec.Symbol) {
		return
	}
	c.cache.Update(SourceName, rec)
}
