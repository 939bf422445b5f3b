// internal/ws/heartbeat.go
package ws

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cryptotradex/stream-gateway/pkg/logger"
)

// DefaultHeartbeatInterval — период heartbeat-цикла.
const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeat — единственный периодический процесс, дёргающий
// Registry.Sweep. Соединение, не подтвердившее живость два цикла
// подряд, удаляется вторым Sweep после регистрации.
type Heartbeat struct {
	registry *Registry
	interval time.Duration
	log      *logger.Logger
}

// NewHeartbeat создаёт монитор. Неположительный интервал заменяется
// значением по умолчанию.
func NewHeartbeat(registry *Registry, interval time.Duration, log *logger.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{
		registry: registry,
		interval: interval,
		log:      log.Named("heartbeat"),
	}
}

// Run крутит цикл до отмены контекста. Sweep выполняется синхронно,
// поэтому к моменту возврата ни один проход не остаётся недоделанным.
func (h *Heartbeat) Run(ctx context.Context) error {
	h.log.Info("heartbeat started", zap.Duration("interval", h.interval))
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("heartbeat stopped")
			return ctx.Err()
		case <-ticker.C:
			if removed := h.registry.Sweep(); len(removed) > 0 {
				h.log.Info("sweep reaped connections",
					zap.Int("count", len(removed)),
					zap.Strings("conn_ids", removed),
				)
			}
		}
	}
}
