package embedding

import (
	"context"
	"errors"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleModel 是一个用于 Google GenAI Embedding API 的客户端。
type GoogleModel struct {
	model *genai.EmbeddingModel
}

// NewGoogleModel 创建并返回一个新的 GoogleModel 客户端实例。
func NewGoogleModel(ctx context.Context, apiKey, modelName string) (*GoogleModel, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GoogleModel{
		model: client.EmbeddingModel(modelName),
	}, nil
}

// Embed 为单个文本生成嵌入向量。
func (m *GoogleModel) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := m.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if res.Embedding == nil {
		return nil, errors.New("no embedding returned")
	}
	return res.Embedding.Values, nil // 返回嵌入向量的值。
}
