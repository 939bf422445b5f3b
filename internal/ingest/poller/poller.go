// internal/ingest/poller/poller.go

// Package poller реализует pull-ингест: периодический опрос REST-снимков
// по каждому поддерживаемому символу. Работает одновременно с push-
// коннектором; устаревшие снимки отсекает timestamp-gated Update кэша.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cryptotradex/stream-gateway/internal/market"
	"github.com/cryptotradex/stream-gateway/internal/metrics"
	"github.com/cryptotradex/stream-gateway/pkg/logger"
)

// SourceName — метка источника в метриках и логах.
const SourceName = "rest-poll"

// Config задаёт расписание опроса.
type Config struct {
	BaseURL        string        `mapstructure:"base_url"`        // напр. "https://api.binance.com"
	Interval       time.Duration `mapstructure:"interval"`        // период цикла, по умолчанию 5s
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // таймаут одного запроса, по умолчанию 3s
}

// ApplyDefaults заполняет нулевые поля.
func (c *Config) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 3 * time.Second
	}
}

// Validate проверяет конфигурацию. Таймаут запроса обязан быть меньше
// интервала: медленный апстрим не должен сдвигать следующий цикл.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("poller: base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("poller: invalid base_url: %w", err)
	}
	if c.RequestTimeout >= c.Interval {
		return fmt.Errorf("poller: request_timeout %v must be below interval %v", c.RequestTimeout, c.Interval)
	}
	return nil
}

// restTicker — снимок /api/v3/ticker/24hr. Числа приходят строками.
type restTicker struct {
	Symbol         string `json:"symbol"`
	PriceChangePct string `json:"priceChangePercent"`
	LastPrice      string `json:"lastPrice"`
	High           string `json:"highPrice"`
	Low            string `json:"lowPrice"`
	Volume         string `json:"volume"`
	CloseTime      int64  `json:"closeTime"` // мс, событийное время снимка
}

// Poller опрашивает все символы раз в Interval. Сбой одного символа
// логируется и пропускается, остальная часть цикла продолжается.
// Серии подряд идущих сбоев ведутся по-символьно и видны через Health.
type Poller struct {
	cfg    Config
	cache  *market.Cache
	client *http.Client
	log    *logger.Logger

	mu       sync.Mutex
	failures map[market.Symbol]int
}

// NewPoller создаёт поллер для всех поддерживаемых кэшем символов.
func NewPoller(cfg Config, cache *market.Cache, log *logger.Logger) (*Poller, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Poller{
		cfg:      cfg,
		cache:    cache,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		log:      log.Named(SourceName),
		failures: make(map[market.Symbol]int),
	}, nil
}

// Name возвращает метку источника.
func (p *Poller) Name() string { return SourceName }

// Run выполняет первый цикл сразу, далее по тикеру, до отмены контекста.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("poller started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("symbols", len(p.cache.Symbols())),
	)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.pollCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.pollCycle(ctx)
		}
	}
}

func (p *Poller) pollCycle(ctx context.Context) {
	for _, sym := range p.cache.Symbols() {
		if ctx.Err() != nil {
			return
		}
		rec, err := p.fetchSymbol(ctx, sym)
		if err != nil {
			metrics.PollErrors.WithLabelValues(string(sym)).Inc()
			streak := p.recordFailure(sym)
			p.log.Warn("symbol poll failed",
				zap.String("symbol", string(sym)),
				zap.Int("consecutive_failures", streak),
				zap.Error(err),
			)
			continue
		}
		p.clearFailure(sym)
		p.cache.Update(SourceName, rec)
	}
}

func (p *Poller) fetchSymbol(ctx context.Context, sym market.Symbol) (market.PriceRecord, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", p.cfg.BaseURL, url.QueryEscape(string(sym)))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return market.PriceRecord{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return market.PriceRecord{}, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return market.PriceRecord{}, fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}

	var snap restTicker
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return market.PriceRecord{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return parseSnapshot(sym, snap)
}

func parseSnapshot(sym market.Symbol, snap restTicker) (market.PriceRecord, error) {
	if snap.CloseTime <= 0 {
		return market.PriceRecord{}, fmt.Errorf("snapshot without close time")
	}
	rec := market.PriceRecord{
		Symbol:   sym,
		SourceTS: snap.CloseTime,
	}
	var err error
	if rec.Price, err = decimal.NewFromString(snap.LastPrice); err != nil {
		return market.PriceRecord{}, fmt.Errorf("bad last price %q: %w", snap.LastPrice, err)
	}
	if rec.Change24h, err = decimal.NewFromString(snap.PriceChangePct); err != nil {
		return market.PriceRecord{}, fmt.Errorf("bad change pct %q: %w", snap.PriceChangePct, err)
	}
	if rec.High24h, err = decimal.NewFromString(snap.High); err != nil {
		return market.PriceRecord{}, fmt.Errorf("bad high %q: %w", snap.High, err)
	}
	if rec.Low24h, err = decimal.NewFromString(snap.Low); err != nil {
		return market.PriceRecord{}, fmt.Errorf("bad low %q: %w", snap.Low, err)
	}
	if rec.Volume24h, err = decimal.NewFromString(snap.Volume); err != nil {
		return market.PriceRecord{}, fmt.Errorf("bad volume %q: %w", snap.Volume, err)
	}
	return rec, nil
}

func (p *Poller) recordFailure(sym market.Symbol) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[sym]++
	return p.failures[sym]
}

func (p *Poller) clearFailure(sym market.Symbol) {
	p.mu.Lock()
	delete(p.failures, sym)
	p.mu.Unlock()
}

// Health возвращает срез серий подряд идущих сбоев по символам.
// Пустая карта — все символы опрашиваются успешно.
func (p *Poller) Health() map[market.Symbol]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[market.Symbol]int, len(p.failures))
	for sym, n := range p.failures {
		out[sym] = n
	}
	return out
}
