package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	olla "github.com/ollama/ollama/api"
)

// Ollama 是一个用于 Ollama API 的 Generator。
type Ollama struct {
	client *olla.Client // Ollama 客户端实例。
	model  string       // 要使用的模型名称。
}

// NewOllama 创建一个新的 Ollama 客户端。
// baseURL 为空时默认为 "http://localhost:11434"。
func NewOllama(model, baseURL string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	// 创建一个带有超时设置的 HTTP 客户端。
	hc := &http.Client{
		Timeout: 120 * time.Second,
	}
	return &Ollama{client: olla.NewClient(parsedURL, hc), model: model}, nil
}

// Complete 使用 Ollama 的 generate 接口生成内容 (非流式)。
func (o *Ollama) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	stream := false
	req := &olla.GenerateRequest{
		Model:  o.model,
		System: system,
		Prompt: user,
		Stream: &stream,
	}
	if maxTokens > 0 {
		req.Options = map[string]interface{}{"num_predict": maxTokens}
	}

	var result olla.GenerateResponse
	err := o.client.Generate(ctx, req, func(resp olla.GenerateResponse) error {
		result = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate content with ollama: %w", err)
	}
	return result.Response, nil
}
