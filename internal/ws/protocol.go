// internal/ws/protocol.go
package ws

import (
	"encoding/json"
	"time"
)

// Типы сообщений протокола. Клиент и сервер различают сообщения
// только по полю type: порядок доставки между независимыми
// событиями не гарантируется.
const (
	// client -> server
	TypeAuthenticate = "authenticate"
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypePing         = "ping"
	TypeTrade        = "trade"

	// server -> client
	TypeConnected     = "connected"
	TypeAuthenticated = "authenticated"
	TypeSubscribed    = "subscribed"
	TypeUnsubscribed  = "unsubscribed"
	TypePong          = "pong"
	TypeTradeAck      = "trade_ack"
	TypeTradeExecuted = "trade_executed"
	TypePriceUpdate   = "price_update"
	TypeError         = "error"
)

// Envelope — единый конверт сообщений в обе стороны.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// AuthenticatePayload — входящий запрос аутентификации. Клиент может
// прислать либо готовый userId, либо токен для внешней проверки.
type AuthenticatePayload struct {
	UserID string `json:"userId,omitempty"`
	Token  string `json:"token,omitempty"`
}

// AuthenticatedPayload подтверждает привязку userId к соединению.
type AuthenticatedPayload struct {
	UserID string `json:"userId"`
}

// SymbolsPayload — запрос/ответ subscribe и unsubscribe.
// В ответе список может быть подмножеством запрошенного.
type SymbolsPayload struct {
	Symbols []string `json:"symbols"`
}

// TradeAckPayload — подтверждение принятия торгового запроса.
type TradeAckPayload struct {
	TradeID string `json:"tradeId"`
	Status  string `json:"status"`
}

// MessagePayload — произвольное текстовое сообщение (connected, error).
type MessagePayload struct {
	Message string `json:"message"`
}

// NewEnvelope сериализует data и оборачивает её конвертом с текущим
// временем. Ошибка маршалинга наших собственных типов невозможна,
// поэтому паникуем: это программная ошибка, а не условие среды.
func NewEnvelope(msgType string, data interface{}) Envelope {
	env := Envelope{Type: msgType, Timestamp: time.Now().UnixMilli()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			panic("ws: marshal outbound payload: " + err.Error())
		}
		env.Data = raw
	}
	return env
}

// ErrorEnvelope — стандартный конверт ошибки протокола.
func ErrorEnvelope(message string) Envelope {
	return NewEnvelope(TypeError, MessagePayload{Message: message})
}

// Encode возвращает конверт в виде JSON-байтов для отправки.
func (e Envelope) Encode() []byte {
	raw, err := json.Marshal(e)
	if err != nil {
		panic("ws: marshal envelope: " + err.Error())
	}
	return raw
}
