package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAI 是一个用于 OpenAI 兼容 API 的 Generator。
type OpenAI struct {
	client *openai.Client // OpenAI 客户端实例。
	model  string         // 要使用的模型名称。
}

// NewOpenAI 创建一个新的 OpenAI 客户端。baseURL 为空时使用官方地址。
func NewOpenAI(model, apiKey, baseURL string) (*OpenAI, error) {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Complete 使用 Chat Completions 接口生成内容。
func (o *OpenAI) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.toOpenAIRequest(system, user, maxTokens))
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// toOpenAIRequest 把系统指令和用户输入转换为 OpenAI 请求格式。
func (o *OpenAI) toOpenAIRequest(system, user string, maxTokens int) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})

	return openai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
}
