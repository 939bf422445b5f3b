// internal/ws/collaborators.go
package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// Authenticator проверяет предъявленную клиентом личность. Реальная
// проверка сессий живёт вне этого сервиса; сюда она входит только
// через этот интерфейс.
type Authenticator interface {
	Authenticate(ctx context.Context, payload AuthenticatePayload) (userID string, err error)
}

// TradeExecutor принимает торговый запрос аутентифицированного
// пользователя. Исполнение и персистентность сделок — внешняя забота;
// этот слой лишь пересылает запрос и возвращает подтверждение приёма.
type TradeExecutor interface {
	Execute(ctx context.Context, userID string, params json.RawMessage) (TradeAckPayload, error)
}

// StaticAuthenticator — дефолтная реализация: доверяет присланному
// userId либо трактует token как заранее выданный идентификатор.
// Пустая нагрузка — отказ.
type StaticAuthenticator struct{}

func (StaticAuthenticator) Authenticate(_ context.Context, payload AuthenticatePayload) (string, error) {
	switch {
	case payload.UserID != "":
		return payload.UserID, nil
	case payload.Token != "":
		return payload.Token, nil
	default:
		return "", errors.New("empty credentials")
	}
}

// LocalExecutor — дефолтный исполнитель: генерирует ссылку сделки и
// отвечает статусом accepted, никуда не пересылая параметры.
type LocalExecutor struct{}

func (LocalExecutor) Execute(_ context.Context, _ string, _ json.RawMessage) (TradeAckPayload, error) {
	return TradeAckPayload{
		TradeID: uuid.NewString(),
		Status:  "accepted",
	}, nil
}
