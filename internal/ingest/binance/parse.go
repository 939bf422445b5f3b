// internal/ingest/binance/parse.go
package binance

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cryptotradex/stream-gateway/internal/market"
)

// tickerEvent — событие стрима <symbol>@ticker. Binance шлёт числа
// строками, поэтому поля разбираются в decimal отдельно.
type tickerEvent struct {
	Event          string `json:"e"` // "24hrTicker"
	EventTime      int64  `json:"E"` // event time, мс
	Symbol         string `json:"s"`
	PriceChangePct string `json:"P"`
	LastPrice      string `json:"c"`
	High           string `json:"h"`
	Low            string `json:"l"`
	Volume         string `json:"v"`
}

const eventTicker = "24hrTicker"

// parseTicker переводит сырое событие в нормализованную запись.
// Событие другого типа — не ошибка, а сигнал пропустить кадр.
func parseTicker(raw []byte) (market.PriceRecord, bool, error) {
	var ev tickerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return market.PriceRecord{}, false, fmt.Errorf("binance: unmarshal ticker: %w", err)
	}
	if ev.Event != eventTicker {
		return market.PriceRecord{}, false, nil
	}
	if ev.Symbol == "" || ev.EventTime <= 0 {
		return market.PriceRecord{}, false, fmt.Errorf("binance: ticker without symbol or event time")
	}

	rec := market.PriceRecord{
		Symbol:   market.Symbol(ev.Symbol),
		SourceTS: ev.EventTime,
	}
	var err error
	if rec.Price, err = decimal.NewFromString(ev.LastPrice); err != nil {
		return market.PriceRecord{}, false, fmt.Errorf("binance: bad last price %q: %w", ev.LastPrice, err)
	}
	if rec.Change24h, err = decimal.NewFromString(ev.PriceChangePct); err != nil {
		return market.PriceRecord{}, false, fmt.Errorf("binance: bad change pct %q: %w", ev.PriceChangePct, err)
	}
	if rec.High24h, err = decimal.NewFromString(ev.High); err != nil {
		return market.PriceRecord{}, false, fmt.Errorf("binance: bad high %q: %w", ev.High, err)
	}
	if rec.Low24h, err = decimal.NewFromString(ev.Low); err != nil {
		return market.PriceRecord{}, false, fmt.Errorf("binance: bad low %q: %w", ev.Low, err)
	}
	if rec.Volume24h, err = decimal.NewFromString(ev.Volume); err != nil {
		return market.PriceRecord{}, false, fmt.Errorf("binance: bad volume %q: %w", ev.Volume, err)
	}
	return rec, true, nil
}
