// internal/market/symbol_test.go
package market

import "testing"

func TestNewSymbolSet(t *testing.T) {
	set, err := NewSymbolSet([]string{" btcusdt ", "ETHUSDT", "BTCUSDT", ""})
	if err != nil {
		t.Fatalf("NewSymbolSet: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (normalized and deduped)", set.Len())
	}
	if !set.Contains("BTCUSDT") || !set.Contains("ETHUSDT") {
		t.Fatal("normalized symbols missing from set")
	}
	if set.Contains("btcusdt") {
		t.Fatal("lookup must be by normalized form only")
	}

	list := set.List()
	if list[0] != "BTCUSDT" || list[1] != "ETHUSDT" {
		t.Fatalf("List() = %v, want configuration order", list)
	}
	list[0] = "MUTATED"
	if !set.Contains("BTCUSDT") {
		t.Fatal("List() must return a copy")
	}
}

func TestNewSymbolSet_Empty(t *testing.T) {
	if _, err := NewSymbolSet([]string{"", "  "}); err == nil {
		t.Fatal("empty symbol list must be a configuration error")
	}
}
