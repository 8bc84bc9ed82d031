// Package httpmiddleware 提供 gin 的限流和熔断中间件。
package httpmiddleware

import (
	"errors"
	"fmt"
	"net/http"

	"Steward/backend/go/pkg/circuitbreaker"
	"Steward/backend/go/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
)

// RateLimit 在令牌耗尽时返回 429。
func RateLimit(limiter ratelimiter.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
			return
		}
		c.Next()
	}
}

// CircuitBreak 把状态码 >= 500 的响应记为失败。熔断打开时直接返回 503。
func CircuitBreak(breaker *circuitbreaker.Breaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := breaker.Execute(func() error {
			c.Next()
			if status := c.Writer.Status(); status >= http.StatusInternalServerError {
				return fmt.Errorf("server error: status code %d", status)
			}
			return nil
		})
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Service Unavailable: Circuit Breaker is open"})
		}
	}
}
