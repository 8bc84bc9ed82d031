// Package transcription 提供语音转写能力。
package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"Steward/backend/go/internal/config"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// Transcript 是一次转写的结果。Confidence 为 nil 表示提供商没有给出置信度。
type Transcript struct {
	Text       string
	Confidence *float64
}

// Transcriber 是转写能力的窄接口。format 是文件扩展名，例如 "mp3"、"wav"。
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (*Transcript, error)
}

// NewClient 根据配置创建 Transcriber。
func NewClient(cfg config.TranscriptionConfig) (Transcriber, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewWhisper(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported transcription provider: %s", cfg.Provider)
	}
}

// whisperAPI 是 Whisper 用到的 OpenAI 客户端方法。
type whisperAPI interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Whisper 通过 OpenAI 兼容的 /audio/transcriptions 接口转写音频。
type Whisper struct {
	client whisperAPI
	model  string
}

// NewWhisper 创建一个 Whisper 客户端。model 为空时使用 whisper-1。
func NewWhisper(apiKey, model, baseURL string) *Whisper {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{client: openai.NewClientWithConfig(cfg), model: model}
}

// Transcribe 请求 verbose_json 格式，以便从分段的 avg_logprob 推出置信度。
func (w *Whisper) Transcribe(ctx context.Context, audio []byte, format string) (*Transcript, error) {
	if len(audio) == 0 {
		return nil, errors.New("empty audio")
	}
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: "note." + strings.TrimPrefix(format, "."),
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, errors.New("whisper returned an empty transcript")
	}

	logprobs := make([]float64, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		logprobs = append(logprobs, seg.AvgLogprob)
	}
	return &Transcript{Text: text, Confidence: confidenceFromLogprobs(logprobs)}, nil
}

// confidenceFromLogprobs 把各分段的平均对数概率换算为 0..1 的置信度。
func confidenceFromLogprobs(logprobs []float64) *float64 {
	if len(logprobs) == 0 {
		return nil
	}
	var sum float64
	for _, lp := range logprobs {
		sum += math.Exp(lp)
	}
	c := sum / float64(len(logprobs))
	c = math.Max(0, math.Min(1, c))
	return &c
}
