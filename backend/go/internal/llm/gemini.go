package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini 是一个实现了 Generator 接口的结构体，用于与 Gemini API 交互。
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini 创建一个新的 Gemini 客户端。
//
// 参数:
//
//	ctx: 上下文，用于控制客户端的生命周期。
//	model: 要使用的 Gemini 模型名称。
//	apiKey: Gemini API 密钥。
func NewGemini(ctx context.Context, model, apiKey string) (*Gemini, error) {
	// 使用 API 密钥创建 GenAI 客户端。
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Gemini{client: client, model: model}, nil
}

// Complete 发送一次无状态的生成请求。
// 每次调用都取一个新的 GenerativeModel，系统指令和 token 上限不会在并发调用之间串扰。
func (g *Gemini) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	model := g.client.GenerativeModel(g.model)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if maxTokens > 0 {
		model.SetMaxOutputTokens(int32(maxTokens))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", err
	}
	return textFromGenaiResponse(resp)
}

// Close 关闭底层客户端。
func (g *Gemini) Close() error {
	return g.client.Close()
}

// textFromGenaiResponse 拼接第一个候选中的所有文本部分。
func textFromGenaiResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if text, ok := p.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}
