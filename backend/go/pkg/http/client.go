package http

import (
	"fmt"
	"net/http"
	"time"

	"Steward/backend/go/pkg/circuitbreaker"
)

// Client 是带熔断保护的 HTTP 客户端。
type Client struct {
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewClient 创建客户端。breaker 为 nil 时不做熔断。
func NewClient(timeout time.Duration, breaker *circuitbreaker.Breaker) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}, breaker: breaker}
}

// Do executes an HTTP request with circuit breaker protection.
// It considers status codes >= 500 as failures.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.httpClient.Do(req)
	}
	return circuitbreaker.Do(c.breaker, func() (*http.Response, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			return nil, fmt.Errorf("server error: received status code %d", resp.StatusCode)
		}
		return resp, nil
	})
}
