// internal/ingest/poller/poller_test.go
package poller

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

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

func testPoller(t *testing.T, cfg Config, cache *market.Cache) *Poller {
	t.Helper()
	log, _ := logger.New(logger.Config{Level: "error", DevMode: true})
	p, err := NewPoller(cfg, cache, log)
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	return p
}

func snapshotJSON(symbol string, price string, closeTime int64) string {
	return fmt.Sprintf(`{"symbol":%q,"priceChangePercent":"1.5","lastPrice":%q,"highPrice":"2","lowPrice":"1","volume":"100","closeTime":%d}`,
		symbol, price, closeTime)
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults ok", Config{BaseURL: "https://api.binance.com"}, false},
		{"missing base url", Config{}, true},
		{"timeout above interval", Config{BaseURL: "http://x", Interval: time.Second, RequestTimeout: 2 * time.Second}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.ApplyDefaults()
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestPoller_CycleFeedsCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sym := r.URL.Query().Get("symbol")
		fmt.Fprint(w, snapshotJSON(sym, "50000", time.Now().UnixMilli()))
	}))
	t.Cleanup(srv.Close)

	cache := testCache(t, "BTCUSDT", "ETHUSDT")
	p := testPoller(t, Config{BaseURL: srv.URL}, cache)

	p.pollCycle(context.Background())

	for _, sym := range []market.Symbol{"BTCUSDT", "ETHUSDT"} {
		rec, ok := cache.Get(sym)
		if !ok {
			t.Fatalf("%s missing from cache", sym)
		}
		if rec.Price.String() != "50000" {
			t.Fatalf("%s price = %s", sym, rec.Price)
		}
	}
	if streaks := p.Health(); len(streaks) != 0 {
		t.Fatalf("Health() = %v, want empty", streaks)
	}
}

// Сбой одного символа не прерывает цикл: остальные символы обновляются.
func TestPoller_FailureSkipsSymbolOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sym := r.URL.Query().Get("symbol")
		if sym == "BTCUSDT" {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, snapshotJSON(sym, "3000", time.Now().UnixMilli()))
	}))
	t.Cleanup(srv.Close)

	cache := testCache(t, "BTCUSDT", "ETHUSDT")
	p := testPoller(t, Config{BaseURL: srv.URL}, cache)

	p.pollCycle(context.Background())
	p.pollCycle(context.Background())

	if _, ok := cache.Get("BTCUSDT"); ok {
		t.Fatal("failed symbol must not reach the cache")
	}
	if _, ok := cache.Get("ETHUSDT"); !ok {
		t.Fatal("healthy symbol skipped because another failed")
	}
	if streaks := p.Health(); streaks["BTCUSDT"] != 2 {
		t.Fatalf("failure streak = %d, want 2", streaks["BTCUSDT"])
	}
}

// После восстановления апстрима серия сбоев обнуляется.
func TestPoller_FailureStreakResets(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, snapshotJSON(r.URL.Query().Get("symbol"), "50000", time.Now().UnixMilli()))
	}))
	t.Cleanup(srv.Close)

	cache := testCache(t, "BTCUSDT")
	p := testPoller(t, Config{BaseURL: srv.URL}, cache)

	p.pollCycle(context.Background())
	if p.Health()["BTCUSDT"] != 1 {
		t.Fatalf("streak = %d, want 1", p.Health()["BTCUSDT"])
	}

	healthy.Store(true)
	p.pollCycle(context.Background())
	if len(p.Health()) != 0 {
		t.Fatalf("Health() = %v, want empty after recovery", p.Health())
	}
}

// Зависший апстрим отсекается таймаутом запроса, цикл не зависает.
func TestPoller_SlowUpstreamTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() { close(release); srv.Close() })

	cache := testCache(t, "BTCUSDT")
	p := testPoller(t, Config{
		BaseURL:        srv.URL,
		Interval:       500 * time.Millisecond,
		RequestTimeout: 50 * time.Millisecond,
	}, cache)

	start := time.Now()
	p.pollCycle(context.Background())
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("cycle took %v, timeout did not fire", elapsed)
	}
	if p.Health()["BTCUSDT"] != 1 {
		t.Fatal("timeout must count as a failure")
	}
}

// Устаревший снимок REST не затирает более свежие push-данные.
func TestPoller_StaleSnapshotLosesToFresherPush(t *testing.T) {
	staleTS := time.Now().Add(-time.Minute).UnixMilli()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, snapshotJSON(r.URL.Query().Get("symbol"), "49000", staleTS))
	}))
	t.Cleanup(srv.Close)

	cache := testCache(t, "BTCUSDT")
	cache.Update("push", market.PriceRecord{Symbol: "BTCUSDT", SourceTS: time.Now().UnixMilli()})

	p := testPoller(t, Config{BaseURL: srv.URL}, cache)
	p.pollCycle(context.Background())

	rec, _ := cache.Get("BTCUSDT")
	if rec.Price.String() == "49000" {
		t.Fatal("stale REST snapshot overwrote fresher push data")
	}
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, snapshotJSON(r.URL.Query().Get("symbol"), "50000", time.Now().UnixMilli()))
	}))
	t.Cleanup(srv.Close)

	cache := testCache(t, "BTCUSDT")
	p := testPoller(t, Config{
		BaseURL:        srv.URL,
		Interval:       50 * time.Millisecond,
		RequestTimeout: 20 * time.Millisecond,
	}, cache)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := cache.Get("BTCUSDT"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("poller never updated the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancellation")
	}
}
