package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// ConnectionsActive — текущее число живых websocket-соединений.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "ws",
		Name:      "connections_active",
		Help:      "Current number of registered websocket connections",
	})

	// ConnectionsTotal — общее число принятых соединений с момента старта.
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "ws",
		Name:      "connections_total",
		Help:      "Total number of accepted websocket connections",
	})

	// ConnectionsReaped — число соединений, закрытых heartbeat-монитором.
	ConnectionsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "ws",
		Name:      "connections_reaped_total",
		Help:      "Connections closed by the heartbeat sweep",
	})

	// MessagesIn — входящие сообщения клиентов по типу.
	MessagesIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "ws",
		Name:      "messages_in_total",
		Help:      "Inbound client messages by envelope type",
	}, []string{"type"})

	// MessagesDropped — сообщения, отброшенные из-за переполнения исходящего буфера.
	MessagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "ws",
		Name:      "messages_dropped_total",
		Help:      "Outbound messages dropped because the connection buffer was full",
	})

	// ProtocolErrors — ошибки протокола (malformed / unknown type / unauthorized trade).
	ProtocolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "ws",
		Name:      "protocol_errors_total",
		Help:      "Protocol errors reported back to clients",
	}, []string{"reason"})

	// PriceUpdatesAccepted — принятые кэшем ценовые записи по источнику.
	PriceUpdatesAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "cache",
		Name:      "price_updates_accepted_total",
		Help:      "Price records accepted by the cache",
	}, []string{"source"})

	// PriceUpdatesStale — записи, отклонённые как устаревшие (нормальная работа
	// при двух источниках, не ошибка).
	PriceUpdatesStale = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "cache",
		Name:      "price_updates_stale_total",
		Help:      "Price records discarded because a newer timestamp was already stored",
	}, []string{"source"})

	// PollErrors — ошибки REST-поллинга по символу.
	PollErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "poller",
		Name:      "errors_total",
		Help:      "Polling fetch/parse errors per symbol",
	}, []string{"symbol"})

	// IngestParseErrors — ошибки разбора сообщений push-коннектора.
	IngestParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "ingest",
		Name:      "parse_errors_total",
		Help:      "Messages from the streaming feed that failed to parse",
	})

	// TradesForwarded — сделки, переданные внешнему исполнителю.
	TradesForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "trade",
		Name:      "forwarded_total",
		Help:      "Trade requests forwarded to the execution collaborator",
	})
)

// Register регистрирует все метрики в заданном реестре.
// Можно вызвать без аргументов, чтобы зарегистрировать в DefaultRegisterer.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer
		if len(registerers) > 0 && registerers[0] != nil {
			reg = registerers[0]
		} else {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			ConnectionsActive,
			ConnectionsTotal,
			ConnectionsReaped,
			MessagesIn,
			MessagesDropped,
			ProtocolErrors,
			PriceUpdatesAccepted,
			PriceUpdatesStale,
			PollErrors,
			IngestParseErrors,
			TradesForwarded,
		)
	})
}
