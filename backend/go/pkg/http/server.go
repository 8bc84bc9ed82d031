package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"Steward/backend/go/internal/config"
	"Steward/backend/go/pkg/circuitbreaker"
	"Steward/backend/go/pkg/httpmiddleware"
	"Steward/backend/go/pkg/logger"
	"Steward/backend/go/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
)

// Server 包装 http.Server 和一个 gin.Engine，按配置挂载限流和熔断中间件。
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	log        *logger.Logger
}

// ServerOption defines a function for configuring a Server.
type ServerOption func(*Server)

// WithAddress sets the address for the server to listen on.
func WithAddress(addr string) ServerOption {
	return func(s *Server) {
		s.httpServer.Addr = addr
	}
}

// WithLogger 替换服务器日志。
func WithLogger(log *logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// NewServer 创建服务器。中间件在路由注册之前挂载，所以对所有路由生效。
func NewServer(cfg *config.AppConfig, opts ...ServerOption) (*Server, error) {
	engine := gin.New()
	engine.Use(gin.Recovery())

	srv := &Server{
		httpServer: &http.Server{Handler: engine, ReadHeaderTimeout: 10 * time.Second},
		engine:     engine,
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.httpServer.Addr == "" {
		srv.httpServer.Addr = cfg.App.Address
	}
	if srv.httpServer.Addr == "" {
		srv.httpServer.Addr = ":8080"
	}

	if rl := cfg.Middleware.RateLimiter; rl.Enabled {
		srv.log.Infof("启用限流中间件: rate=%.1f/s capacity=%d", rl.Rate, rl.Capacity)
		engine.Use(httpmiddleware.RateLimit(NewRateLimiter(rl)))
	}
	if cb := cfg.Middleware.CircuitBreaker; cb.Enabled {
		breaker, err := NewCircuitBreaker(cb)
		if err != nil {
			return nil, err
		}
		srv.log.Info("启用熔断中间件")
		engine.Use(httpmiddleware.CircuitBreak(breaker))
	}
	return srv, nil
}

// Engine 返回用于注册路由的 gin.Engine。
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe 启动服务器。正常关闭时返回 nil。
func (s *Server) ListenAndServe() error {
	s.log.Infof("HTTP 服务监听 %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// NewRateLimiter 按配置创建令牌桶。
func NewRateLimiter(cfg config.RateLimiterConfig) ratelimiter.RateLimiter {
	return ratelimiter.NewTokenBucket(cfg.Rate, cfg.Capacity)
}

// NewCircuitBreaker 按配置创建熔断器。
func NewCircuitBreaker(cfg config.CircuitBreakerConfig) (*circuitbreaker.Breaker, error) {
	var timeout time.Duration
	if cfg.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid circuit breaker timeout duration: %w", err)
		}
	}
	return circuitbreaker.New(circuitbreaker.Settings{
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		Timeout:          timeout,
	}), nil
}
