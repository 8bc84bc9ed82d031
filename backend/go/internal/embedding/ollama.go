package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// OllamaModel 是一个用于 Ollama API 的 Embedding 模型客户端。
type OllamaModel struct {
	client *ollama.Client // Ollama 客户端实例。
	model  string         // 要使用的模型名称。
}

// NewOllamaModel 创建一个新的 OllamaModel 客户端。
//
// 参数:
//
//	model: 要使用的模型名称。
//	baseURL: Ollama 服务的基准 URL。如果为空，则默认为 "http://localhost:11434"。
func NewOllamaModel(model, baseURL string) (*OllamaModel, error) {
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
	return &OllamaModel{client: ollama.NewClient(parsedURL, hc), model: model}, nil
}

// Embed 为单个文本生成嵌入向量。
func (m *OllamaModel) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := m.client.Embed(ctx, &ollama.EmbedRequest{
		Model: m.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get embeddings from ollama: %w", err)
	}

	// 返回第一个嵌入向量（单个文本输入）。
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Embeddings[0], nil
}
