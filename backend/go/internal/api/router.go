package api

import (
	"time"

	"Steward/backend/go/internal/channel"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Routes 是挂载到路由上的组件。Events 和 Slack 可以为 nil。
type Routes struct {
	Handler *Handler
	Auth    *Authenticator
	Events  *EventStream
	Slack   *channel.Slack
	Logger  *logger.Logger
}

// Register 在 engine 上注册所有路由。
func Register(engine *gin.Engine, r Routes) {
	if r.Logger != nil {
		engine.Use(RequestLogger(r.Logger))
	}
	h := r.Handler

	engine.GET("/healthz", h.Healthz)

	// Slack 回调用签名校验代替 JWT。
	if r.Slack != nil {
		slack := engine.Group("/slack")
		slack.POST("/events", gin.WrapH(r.Slack.EventsHandler()))
		slack.POST("/interactions", gin.WrapH(r.Slack.InteractionsHandler()))
	}

	v1 := engine.Group("/api/v1")
	v1.Use(r.Auth.Middleware())
	{
		v1.POST("/dispatch", h.Dispatch)
		v1.GET("/agents", h.ListAgents)

		tasks := v1.Group("/tasks")
		tasks.GET("", h.ListTasks)
		tasks.GET("/:id", h.GetTask)
		tasks.POST("/:id/approve", h.Approve)
		tasks.POST("/:id/reject", h.Reject)

		proposals := v1.Group("/proposals")
		proposals.GET("", h.ListProposals)
		proposals.GET("/:id", h.View)
		proposals.PUT("/:id", h.EditProposal)
		proposals.POST("/:id/approve", h.Approve)
		proposals.POST("/:id/reject", h.Reject)

		v1.GET("/reviews/:id", h.View)

		v1.POST("/voice", h.UploadVoice)
		v1.GET("/voice/search", h.SearchVoice)

		if r.Events != nil {
			v1.GET("/events/ws", r.Events.Subscribe)
		}
	}
}

// RequestLogger 记录每个请求的方法、路径、状态码和耗时。
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithRequest(models.RequestInfo{
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			RemoteAddr: c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
			Principal:  Principal(c),
		}).WithFields(map[string]interface{}{
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("请求失败")
			return
		}
		entry.Debug("请求完成")
	}
}
