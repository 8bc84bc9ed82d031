package llm

import (
	"context"
	"fmt"
	"time"

	"Steward/backend/go/internal/config"
	"Steward/backend/go/pkg/circuitbreaker"
)

// Generator 是文本生成能力的窄接口。分发器、执行器和语音管道都只依赖它。
type Generator interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// GeneratorFunc 让普通函数实现 Generator，主要用于测试。
type GeneratorFunc func(ctx context.Context, system, user string, maxTokens int) (string, error)

// Complete 调用 f 本身。
func (f GeneratorFunc) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	return f(ctx, system, user, maxTokens)
}

// NewClient 是一个工厂函数，根据配置创建对应提供商的 Generator。
// 返回的客户端带有单次调用超时；breaker 不为 nil 时还会被熔断器包裹。
func NewClient(ctx context.Context, cfg config.LLMConfig, breaker *circuitbreaker.Breaker) (Generator, error) {
	var (
		gen Generator
		err error
	)
	switch cfg.Provider {
	case "gemini":
		gen, err = NewGemini(ctx, cfg.Gemini.Model, cfg.Gemini.APIKey)
	case "openai":
		gen, err = NewOpenAI(cfg.OpenAI.Model, cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	case "ollama":
		gen, err = NewOllama(cfg.Ollama.Model, cfg.Ollama.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	gen = WithTimeout(gen, config.Duration(cfg.Timeout))
	if breaker != nil {
		gen = WithBreaker(gen, breaker)
	}
	return gen, nil
}

type timeoutGenerator struct {
	next    Generator
	timeout time.Duration
}

// WithTimeout 为每次调用加上超时。timeout <= 0 时原样返回。
func WithTimeout(next Generator, timeout time.Duration) Generator {
	if timeout <= 0 {
		return next
	}
	return &timeoutGenerator{next: next, timeout: timeout}
}

func (g *timeoutGenerator) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.Complete(ctx, system, user, maxTokens)
}

type breakerGenerator struct {
	next    Generator
	breaker *circuitbreaker.Breaker
}

// WithBreaker 用熔断器包裹 Generator。熔断打开时直接返回 circuitbreaker.ErrCircuitOpen，
// 分发器因此可以立刻退回关键词路由。
func WithBreaker(next Generator, breaker *circuitbreaker.Breaker) Generator {
	return &breakerGenerator{next: next, breaker: breaker}
}

func (g *breakerGenerator) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	return circuitbreaker.Do(g.breaker, func() (string, error) {
		return g.next.Complete(ctx, system, user, maxTokens)
	})
}
