// internal/ws/server.go
package ws

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cryptotradex/stream-gateway/pkg/logger"
)

// maxInboundBytes ограничивает размер входящего кадра.
const maxInboundBytes = 8192

// ServerConfig задаёт параметры клиентского WebSocket-endpoint'а.
type ServerConfig struct {
	SendBuffer  int           `mapstructure:"send_buffer"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// ApplyDefaults заполняет нулевые поля.
func (c *ServerConfig) ApplyDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
}

// Validate проверяет согласованность конфигурации.
func (c ServerConfig) Validate() error {
	if c.ReadTimeout < time.Second {
		return fmt.Errorf("ws: read_timeout %v is too small", c.ReadTimeout)
	}
	return nil
}

// Server принимает клиентские WebSocket-соединения и ведёт их
// receive-loop. Каждое соединение — одна горутина чтения и одна записи;
// всё остальное общение идёт через Registry и Router.
type Server struct {
	cfg      ServerConfig
	registry *Registry
	router   *Router
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewServer собирает endpoint. CheckOrigin пропускает всех: доступ
// ограничивает внешний периметр, а не этот сервис.
func NewServer(cfg ServerConfig, registry *Registry, router *Router, log *logger.Logger) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		router:   router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log.Named("ws-server"),
	}, nil
}

// ServeHTTP — точка входа соединения: upgrade, регистрация,
// приветствие, receive-loop до закрытия транспорта.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(wsConn, s.cfg.SendBuffer, s.log)
	s.registry.Register(conn)

	wsConn.SetReadLimit(maxInboundBytes)
	_ = wsConn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	wsConn.SetPongHandler(func(string) error {
		// Транспортный pong — единственный сигнал живости.
		s.registry.MarkAlive(conn.id)
		return wsConn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	go conn.writePump()
	conn.SendEnvelope(NewEnvelope(TypeConnected, MessagePayload{
		Message: "Connected to market data stream",
	}))

	ctx := logger.ContextWithConnID(req.Context(), conn.id)
	for {
		_, raw, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read error", zap.String("conn_id", conn.id), zap.Error(err))
			}
			break
		}
		_ = wsConn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.router.HandleInbound(ctx, conn, raw)
	}

	s.registry.Unregister(conn.id)
}
