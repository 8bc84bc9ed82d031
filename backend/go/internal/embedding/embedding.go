package embedding

import (
	"context"
	"fmt"

	"Steward/backend/go/internal/config"
)

// NewClient 根据配置创建 Embedder，并用固定维度校验包裹它。
//
// 参数:
//
//	ctx: 上下文，用于初始化需要联网的客户端。
//	cfg: Embedding 配置，Dimension 必须与向量索引一致。
func NewClient(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	var (
		model Embedder
		err   error
	)
	// 根据提供商类型创建相应的 Embedding 模型实例。
	switch ModelType(cfg.Provider) {
	case Google:
		model, err = NewGoogleModel(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	case OpenAI:
		model, err = NewOpenAIModel(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	case Ollama:
		model, err = NewOllamaModel(cfg.Ollama.Model, cfg.Ollama.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider) // 如果提供商不支持，返回错误。
	}
	if err != nil {
		return nil, err
	}
	return WithDimension(model, cfg.Dimension), nil
}

type fixedDimension struct {
	next Embedder
	dim  int
}

// WithDimension 要求每个向量的长度都等于 dim，否则返回 ErrDimensionMismatch。dim <= 0 时不校验。
func WithDimension(next Embedder, dim int) Embedder {
	if dim <= 0 {
		return next
	}
	return &fixedDimension{next: next, dim: dim}
}

func (f *fixedDimension) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := f.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != f.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), f.dim)
	}
	return vec, nil
}
