package embedding

import (
	"context"
	"errors"
)

// ErrDimensionMismatch 表示模型返回的向量维度与配置的固定维度不一致。
var ErrDimensionMismatch = errors.New("embedding: dimension mismatch")

// Embedder 定义了所有 embedding 模型需要实现的接口。
type Embedder interface {
	// Embed 为单个文本生成嵌入向量。
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ModelType 是一个枚举类型，用于表示不同的模型厂商。
type ModelType string

const (
	OpenAI ModelType = "openai" // OpenAI 模型类型。
	Google ModelType = "gemini" // Google 模型类型。
	Ollama ModelType = "ollama" // Ollama 模型类型。
)
