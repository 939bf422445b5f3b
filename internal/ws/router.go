// internal/ws/router.go
package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/cryptotradex/stream-gateway/internal/market"
	"github.com/cryptotradex/stream-gateway/internal/metrics"
	"github.com/cryptotradex/stream-gateway/pkg/logger"
)

// Тексты протокольных ошибок, видимые клиенту.
const (
	msgAuthFailed    = "Authentication failed"
	msgAuthRequired  = "Authentication required for trading"
	msgMalformed     = "Malformed message"
	msgUnknownPrefix = "Unknown message type: "
)

// Router разбирает входящие сообщения и ведёт исходящий broadcast.
// Ни одна входящая ошибка не фатальна для соединения: клиент получает
// error-конверт и может продолжать. Соединение закрывают только
// транспортные ошибки и heartbeat.
type Router struct {
	registry *Registry
	cache    *market.Cache
	auth     Authenticator
	executor TradeExecutor
	log      *logger.Logger
}

// NewRouter собирает роутер и подписывает его на обновления кэша.
func NewRouter(
	registry *Registry,
	cache *market.Cache,
	auth Authenticator,
	executor TradeExecutor,
	log *logger.Logger,
) *Router {
	r := &Router{
		registry: registry,
		cache:    cache,
		auth:     auth,
		executor: executor,
		log:      log.Named("router"),
	}
	cache.OnUpdate(r.broadcastPriceUpdate)
	return r
}

// HandleInbound обрабатывает один входящий кадр соединения.
func (r *Router) HandleInbound(ctx context.Context, conn *Conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		metrics.ProtocolErrors.WithLabelValues("malformed").Inc()
		conn.SendEnvelope(ErrorEnvelope(msgMalformed))
		return
	}
	metrics.MessagesIn.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case TypeAuthenticate:
		r.handleAuthenticate(ctx, conn, env.Data)
	case TypeSubscribe:
		r.handleSubscriptionChange(conn, env.Data, true)
	case TypeUnsubscribe:
		r.handleSubscriptionChange(conn, env.Data, false)
	case TypePing:
		// Ответный pong не отмечает живость: её подтверждает только
		// транспортный pong, который клиентский код не подделает.
		conn.SendEnvelope(NewEnvelope(TypePong, nil))
	case TypeTrade:
		r.handleTrade(ctx, conn, env.Data)
	default:
		metrics.ProtocolErrors.WithLabelValues("unknown_type").Inc()
		conn.SendEnvelope(ErrorEnvelope(msgUnknownPrefix + env.Type))
	}
}

func (r *Router) handleAuthenticate(ctx context.Context, conn *Conn, data json.RawMessage) {
	var payload AuthenticatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		metrics.ProtocolErrors.WithLabelValues("malformed").Inc()
		conn.SendEnvelope(ErrorEnvelope(msgMalformed))
		return
	}

	userID, err := r.auth.Authenticate(ctx, payload)
	if err != nil {
		metrics.ProtocolErrors.WithLabelValues("auth_failed").Inc()
		r.log.Warn("authentication rejected",
			zap.String("conn_id", conn.id),
			zap.Error(err),
		)
		conn.SendEnvelope(ErrorEnvelope(msgAuthFailed))
		return
	}
	if err := r.registry.Authenticate(conn.id, userID); err != nil {
		conn.SendEnvelope(ErrorEnvelope(msgAuthFailed))
		return
	}
	conn.SendEnvelope(NewEnvelope(TypeAuthenticated, AuthenticatedPayload{UserID: userID}))
}

func (r *Router) handleSubscriptionChange(conn *Conn, data json.RawMessage, add bool) {
	var payload SymbolsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		metrics.ProtocolErrors.WithLabelValues("malformed").Inc()
		conn.SendEnvelope(ErrorEnvelope(msgMalformed))
		return
	}

	requested := make([]market.Symbol, 0, len(payload.Symbols))
	for _, s := range payload.Symbols {
		requested = append(requested, market.Symbol(s))
	}

	var (
		affected []market.Symbol
		err      error
		reply    string
	)
	if add {
		affected, err = r.registry.Subscribe(conn.id, requested)
		reply = TypeSubscribed
	} else {
		affected, err = r.registry.Unsubscribe(conn.id, requested)
		reply = TypeUnsubscribed
	}
	if err != nil {
		conn.SendEnvelope(ErrorEnvelope(err.Error()))
		return
	}

	out := make([]string, 0, len(affected))
	for _, sym := range affected {
		out = append(out, string(sym))
	}
	conn.SendEnvelope(NewEnvelope(reply, SymbolsPayload{Symbols: out}))
}

func (r *Router) handleTrade(ctx context.Context, conn *Conn, data json.RawMessage) {
	userID := conn.UserID()
	if userID == "" {
		metrics.ProtocolErrors.WithLabelValues("unauthenticated_trade").Inc()
		conn.SendEnvelope(ErrorEnvelope(msgAuthRequired))
		return
	}

	ack, err := r.executor.Execute(ctx, userID, data)
	if err != nil {
		r.log.Warn("trade execution failed",
			zap.String("conn_id", conn.id),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		conn.SendEnvelope(ErrorEnvelope(err.Error()))
		return
	}
	metrics.TradesForwarded.Inc()
	conn.SendEnvelope(NewEnvelope(TypeTradeAck, ack))
}

// broadcastPriceUpdate рассылает принятое обновление всем подписчикам
// символа. Навешивается на кэш как наблюдатель.
func (r *Router) broadcastPriceUpdate(rec market.PriceRecord) {
	sym := rec.Symbol
	r.registry.BroadcastFiltered(
		NewEnvelope(TypePriceUpdate, rec),
		func(c *Conn) bool { return c.Subscribed(sym) },
	)
}

// BroadcastTradeExecution доставляет результат исполнения сделки на все
// открытые соединения пользователя (несколько вкладок — это штатно).
// Вызывается внешней логикой расчётов после фиксации сделки.
func (r *Router) BroadcastTradeExecution(userID string, tradeData interface{}) int {
	return r.registry.BroadcastFiltered(
		NewEnvelope(TypeTradeExecuted, tradeData),
		func(c *Conn) bool { return c.UserID() == userID },
	)
}
