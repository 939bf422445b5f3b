// internal/market/record.go
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceRecord — нормализованный последний снимок рынка по одному символу.
// Одна запись на символ; новая запись полностью замещает прежнюю в кэше.
// SourceTS — событийное время источника (epoch-миллисекунды), по нему
// кэш разрешает гонку push- и pull-источников (last-writer-wins по времени
// события, не по порядку прихода).
type PriceRecord struct {
	Symbol    Symbol          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change24h"`
	Volume24h decimal.Decimal `json:"volume24h"`
	High24h   decimal.Decimal `json:"high24h"`
	Low24h    decimal.Decimal `json:"low24h"`
	SourceTS  int64           `json:"timestamp"`
}

// SourceTime возвращает событийное время записи.
func (r PriceRecord) SourceTime() time.Time {
	return time.UnixMilli(r.SourceTS)
}

// Age возвращает возраст записи относительно now.
func (r PriceRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.SourceTime())
}
