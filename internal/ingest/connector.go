// internal/ingest/connector.go

// Package ingest определяет контракт источников рыночных данных.
// Push-коннекторы и поллер работают одновременно: кэш сам решает по
// таймстемпу, чьи данные свежее, поэтому явного failover-а нет.
package ingest

import "context"

// Connector — один источник нормализованных ценовых записей.
// Реализация пишет в кэш через его timestamp-gated Update и обязана
// переживать любые ошибки апстрима самостоятельно: Run возвращается
// только по отмене контекста.
type Connector interface {
	// Name — стабильная метка источника для логов и метрик.
	Name() string
	// Run блокирует до отмены контекста.
	Run(ctx context.Context) error
}
