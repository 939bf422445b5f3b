// internal/app/gateway.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cryptotradex/stream-gateway/internal/config"
	"github.com/cryptotradex/stream-gateway/internal/ingest"
	"github.com/cryptotradex/stream-gateway/internal/ingest/binance"
	"github.com/cryptotradex/stream-gateway/internal/ingest/poller"
	"github.com/cryptotradex/stream-gateway/internal/market"
	"github.com/cryptotradex/stream-gateway/internal/metrics"
	"github.com/cryptotradex/stream-gateway/internal/sink"
	"github.com/cryptotradex/stream-gateway/internal/ws"
	"github.com/cryptotradex/stream-gateway/pkg/httpserver"
	"github.com/cryptotradex/stream-gateway/pkg/kafka"
	"github.com/cryptotradex/stream-gateway/pkg/logger"
	"github.com/cryptotradex/stream-gateway/pkg/telemetry"
)

// Options позволяет подменить внешних коллабораторов. Нулевые поля
// заменяются локальными реализациями по умолчанию.
type Options struct {
	Authenticator ws.Authenticator
	TradeExecutor ws.TradeExecutor
}

// Gateway — собранный сервис. Внешние потребители (settlement-логика,
// REST-слой платформы) работают только через его read/write API.
type Gateway struct {
	cfg *config.Config
	log *logger.Logger

	cache    *market.Cache
	registry *ws.Registry
	router   *ws.Router
	server   *ws.Server
	poller   *poller.Poller

	connectors []ingest.Connector
}

// New собирает все компоненты без запуска фоновых задач.
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Gateway, error) {
	metrics.Register(nil)

	if opts.Authenticator == nil {
		opts.Authenticator = ws.StaticAuthenticator{}
	}
	if opts.TradeExecutor == nil {
		opts.TradeExecutor = ws.LocalExecutor{}
	}

	symbols, err := market.NewSymbolSet(cfg.Symbols)
	if err != nil {
		return nil, fmt.Errorf("symbol set: %w", err)
	}

	cache := market.NewCache(symbols, log)
	registry := ws.NewRegistry(symbols, log)
	router := ws.NewRouter(registry, cache, opts.Authenticator, opts.TradeExecutor, log)

	server, err := ws.NewServer(cfg.WS.ServerConfig, registry, router, log)
	if err != nil {
		return nil, fmt.Errorf("ws server init: %w", err)
	}

	p, err := poller.NewPoller(cfg.Polling, cache, log)
	if err != nil {
		return nil, fmt.Errorf("poller init: %w", err)
	}

	g := &Gateway{
		cfg:        cfg,
		log:        log,
		cache:      cache,
		registry:   registry,
		router:     router,
		server:     server,
		poller:     p,
		connectors: []ingest.Connector{p},
	}

	if cfg.Binance.Enabled {
		conn, err := binance.NewConnector(cfg.Binance.Config, cache, log)
		if err != nil {
			return nil, fmt.Errorf("binance connector init: %w", err)
		}
		g.connectors = append(g.connectors, conn)
	}

	return g, nil
}

// Run запускает фоновые задачи и блокирует до отмены контекста.
func (g *Gateway) Run(ctx context.Context) error {
	cfg := g.cfg
	log := g.log

	// Трассировка (опционально)
	if cfg.Telemetry.Enabled {
		shutdownTracer, err := telemetry.InitTracer(ctx,
			cfg.Telemetry.OTLPEndpoint,
			cfg.ServiceName, cfg.ServiceVersion,
			cfg.Telemetry.Insecure,
			log,
		)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer shutdownSafe(ctx, "telemetry", func() error { return shutdownTracer(ctx) }, log)
	}

	// Kafka sink (опционально). Наблюдатель кэша только буферизует,
	// публикацией занимается priceSink.Run в общей errgroup.
	var priceSink *sink.PriceSink
	if cfg.Kafka.Enabled {
		prod, err := kafka.NewProducer(ctx, cfg.Kafka.Config, log)
		if err != nil {
			return fmt.Errorf("kafka producer init: %w", err)
		}
		defer shutdownSafe(ctx, "kafka-producer", prod.Close, log)
		priceSink = sink.NewPriceSink(prod, cfg.Kafka.PriceTopic, log)
		priceSink.Attach(g.cache)
	}

	// HTTP-сервер: /ws, /metrics, health. Готовность — свежесть кэша.
	readiness := func() error {
		if !g.cache.IsHealthy() {
			return errors.New("price cache has no fresh records")
		}
		return nil
	}
	httpSrv, err := httpserver.New(
		httpserver.Config{
			Addr:            fmt.Sprintf(":%d", cfg.HTTP.Port),
			ReadTimeout:     cfg.HTTP.ReadTimeout,
			WriteTimeout:    cfg.HTTP.WriteTimeout,
			IdleTimeout:     cfg.HTTP.IdleTimeout,
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
			MetricsPath:     cfg.HTTP.MetricsPath,
			HealthzPath:     cfg.HTTP.HealthzPath,
			ReadyzPath:      cfg.HTTP.ReadyzPath,
		},
		readiness,
		log,
		map[string]http.Handler{cfg.WS.Path: g.server},
		httpserver.RecoverMiddleware(log),
		httpserver.CORSMiddleware(),
	)
	if err != nil {
		return fmt.Errorf("httpserver init: %w", err)
	}

	heartbeat := ws.NewHeartbeat(g.registry, cfg.WS.HeartbeatInterval, log)

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return httpSrv.Run(ctx) })
	grp.Go(func() error { return heartbeat.Run(ctx) })
	if priceSink != nil {
		grp.Go(func() error { return priceSink.Run(ctx) })
	}
	for _, conn := range g.connectors {
		conn := conn
		grp.Go(func() error {
			log.Info("starting ingest connector", zap.String("source", conn.Name()))
			return conn.Run(ctx)
		})
	}

	if err := grp.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("gateway stopped by context")
			return nil
		}
		return err
	}
	return nil
}

/*
   --------------------------------------------------------------------------
   API ДЛЯ ВНЕШНИХ КОЛЛАБОРАТОРОВ
   --------------------------------------------------------------------------
*/

// GetCachedPrice возвращает последнюю запись по символу.
func (g *Gateway) GetCachedPrice(sym market.Symbol) (market.PriceRecord, bool) {
	return g.cache.Get(sym)
}

// GetAllCachedPrices возвращает копию всех записей.
func (g *Gateway) GetAllCachedPrices() map[market.Symbol]market.PriceRecord {
	return g.cache.All()
}

// IsHealthy сообщает, есть ли в кэше свежие данные.
func (g *Gateway) IsHealthy() bool { return g.cache.IsHealthy() }

// GetSupportedSymbols возвращает поддерживаемый набор символов.
func (g *Gateway) GetSupportedSymbols() []market.Symbol { return g.cache.Symbols() }

// PollingHealth возвращает серии подряд идущих сбоев REST-опроса.
func (g *Gateway) PollingHealth() map[market.Symbol]int { return g.poller.Health() }

// BroadcastTradeExecution рассылает результат сделки на все соединения
// пользователя. Вызывается settlement-логикой после фиксации сделки.
func (g *Gateway) BroadcastTradeExecution(userID string, tradeData interface{}) int {
	return g.router.BroadcastTradeExecution(userID, tradeData)
}

// shutdownSafe оборачивает вызов Close()/Shutdown() с логированием.
func shutdownSafe(ctx context.Context, name string, fn func() error, log *logger.Logger) {
	log.WithContext(ctx).Info(fmt.Sprintf("%s: shutting down", name))
	if err := fn(); err != nil {
		log.WithContext(ctx).Error(fmt.Sprintf("%s shutdown error", name), zap.Error(err))
	} else {
		log.WithContext(ctx).Info(fmt.Sprintf("%s: shutdown complete", name))
	}
}
