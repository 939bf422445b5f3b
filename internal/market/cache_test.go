// internal/market/cache_test.go
package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

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

func testSymbols(t *testing.T, raw ...string) *SymbolSet {
	t.Helper()
	set, err := NewSymbolSet(raw)
	if err != nil {
		t.Fatalf("NewSymbolSet: %v", err)
	}
	return set
}

func rec(sym string, price string, ts int64) PriceRecord {
	return PriceRecord{
		Symbol:   Symbol(sym),
		Price:    decimal.RequireFromString(price),
		SourceTS: ts,
	}
}

func TestCache_UpdateOrdering(t *testing.T) {
	cases := []struct {
		name     string
		seed     []PriceRecord
		incoming PriceRecord
		accepted bool
		want     string // ожидаемая цена после Update
	}{
		{
			name:     "first write accepted",
			incoming: rec("BTCUSDT", "50000", 100),
			accepted: true,
			want:     "50000",
		},
		{
			name:     "newer timestamp replaces",
			seed:     []PriceRecord{rec("BTCUSDT", "50000", 100)},
			incoming: rec("BTCUSDT", "50100", 200),
			accepted: true,
			want:     "50100",
		},
		{
			name:     "older timestamp discarded",
			seed:     []PriceRecord{rec("BTCUSDT", "50100", 200)},
			incoming: rec("BTCUSDT", "50000", 100),
			accepted: false,
			want:     "50100",
		},
		{
			name:     "equal timestamp overwrites",
			seed:     []PriceRecord{rec("BTCUSDT", "50000", 100)},
			incoming: rec("BTCUSDT", "50050", 100),
			accepted: true,
			want:     "50050",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCache(testSymbols(t, "BTCUSDT"), testLogger(t))
			for _, r := range tc.seed {
				c.Update("seed", r)
			}
			got := c.Update("test", tc.incoming)
			if got != tc.accepted {
				t.Fatalf("Update accepted = %v, want %v", got, tc.accepted)
			}
			stored, ok := c.Get("BTCUSDT")
			if !ok {
				t.Fatal("Get: record missing")
			}
			if stored.Price.String() != tc.want {
				t.Fatalf("stored price = %s, want %s", stored.Price, tc.want)
			}
		})
	}
}

func TestCache_UpdateIndependentSymbols(t *testing.T) {
	c := NewCache(testSymbols(t, "BTCUSDT", "ETHUSDT"), testLogger(t))

	c.Update("test", rec("BTCUSDT", "50000", 500))
	// Старый штамп у другого символа не должен конфликтовать с BTCUSDT.
	if !c.Update("test", rec("ETHUSDT", "3000", 100)) {
		t.Fatal("update for independent symbol rejected")
	}

	all := c.All()
	if len(all) != 2 {
		t.Fatalf("All() = %d records, want 2", len(all))
	}
}

func TestCache_ObserversSeeAcceptedOnly(t *testing.T) {
	c := NewCache(testSymbols(t, "BTCUSDT"), testLogger(t))

	var seen []PriceRecord
	c.OnUpdate(func(r PriceRecord) { seen = append(seen, r) })

	c.Update("test", rec("BTCUSDT", "50000", 200))
	c.Update("test", rec("BTCUSDT", "49000", 100)) // устаревшее, должно молчать
	c.Update("test", rec("BTCUSDT", "50100", 300))

	if len(seen) != 2 {
		t.Fatalf("observer called %d times, want 2", len(seen))
	}
	if seen[1].Price.String() != "50100" {
		t.Fatalf("last observed price = %s, want 50100", seen[1].Price)
	}
}

func TestCache_IsHealthy(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	c := NewCache(testSymbols(t, "BTCUSDT"), testLogger(t),
		WithClock(func() time.Time { return now }),
	)

	if c.IsHealthy() {
		t.Fatal("empty cache must be unhealthy")
	}

	c.Update("test", rec("BTCUSDT", "50000", base.UnixMilli()))
	if !c.IsHealthy() {
		t.Fatal("fresh record must make cache healthy")
	}

	now = base.Add(DefaultStaleAfter + time.Second)
	if c.IsHealthy() {
		t.Fatal("record older than threshold must make cache unhealthy")
	}
}
