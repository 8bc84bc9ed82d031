package api

import (
	"net/http"

	"Steward/backend/go/internal/notify"
	"Steward/backend/go/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// EventStream 把任务事件推送给 WebSocket 订阅者。
type EventStream struct {
	hub      *notify.Hub
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewEventStream 创建事件流处理器。
func NewEventStream(hub *notify.Hub, log *logger.Logger) *EventStream {
	if log == nil {
		log = logger.Discard()
	}
	return &EventStream{
		hub: hub,
		upgrader: websocket.Upgrader{
			// 连接已经通过认证中间件，不再检查 Origin。
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Subscribe 升级连接并注册到 Hub，直到客户端断开。客户端发来的消息被忽略。
func (s *EventStream) Subscribe(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket 升级失败")
		return
	}
	id := uuid.NewString()
	s.hub.Add(id, conn)
	log := s.log.WithFields(map[string]interface{}{"subscriber": id, "principal": Principal(c)})
	log.Info("事件订阅者已连接")

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.Remove(id)
	log.Info("事件订阅者已断开")
}
