// Package voice 是语音笔记管道: 采集、存储音频、转写、提炼、向量化、持久化和关联提及的人。
// 除音频存储和文档持久化外，每个阶段失败只会让对应字段为空。
package voice

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"Steward/backend/go/internal/embedding"
	"Steward/backend/go/internal/llm"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/transcription"
	"Steward/backend/go/pkg/logger"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrEmptyAudio 表示采集的音频为空。
var ErrEmptyAudio = errors.New("voice: empty audio")

// Capture 是一次语音采集。
type Capture struct {
	Audio            []byte
	FileName         string // 可选, 格式无法从内容识别时用扩展名兜底
	SourceChannel    string
	RecordedBy       string
	Visibility       models.Visibility
	ProjectContext   *string
	RelatedContactID *string
	SharedWith       []string
	RecordedAt       time.Time
}

// AudioStore 保存原始音频并返回引用。
type AudioStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// NoteStore 是语音笔记的文档存储。
type NoteStore interface {
	Save(ctx context.Context, note *models.VoiceNote) error
	Get(ctx context.Context, id string) (*models.VoiceNote, error)
	GetMany(ctx context.Context, ids []string) ([]models.VoiceNote, error)
}

// Hit 是向量检索的一个结果。
type Hit struct {
	NoteID string
	Score  float32
}

// VectorIndex 是语音笔记向量的近邻索引。
type VectorIndex interface {
	Upsert(ctx context.Context, note *models.VoiceNote) error
	Search(ctx context.Context, vector []float32, topK int, filter string) ([]Hit, error)
}

// MentionGraph 记录笔记提及的人。
type MentionGraph interface {
	LinkMentions(ctx context.Context, note *models.VoiceNote) error
}

// Options 配置管道。Transcriber、Generator、Embedder、Index 和 Graph 都可以为空，对应阶段会被跳过。
type Options struct {
	Transcriber         transcription.Transcriber
	Generator           llm.Generator
	Embedder            embedding.Embedder
	Index               VectorIndex
	Graph               MentionGraph
	Dimension           int
	MaxTokens           int
	SimilarityThreshold float64
	TopK                int
	Logger              *logger.Logger
	Now                 func() time.Time
}

// Pipeline 是语音笔记管道。
type Pipeline struct {
	audio AudioStore
	notes NoteStore
	opts  Options
}

// New 创建管道。audio 和 notes 是必需的。
func New(audio AudioStore, notes NoteStore, opts Options) *Pipeline {
	if opts.Embedder != nil {
		opts.Embedder = embedding.WithDimension(opts.Embedder, opts.Dimension)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 800
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.7
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Pipeline{audio: audio, notes: notes, opts: opts}
}

// ObjectKey 返回音频对象的存储键: voice/<owner>/<yyyy>/<mm>/<id>.<ext>。
func ObjectKey(owner string, recordedAt time.Time, id, ext string) string {
	if owner == "" {
		owner = "unknown"
	}
	return path.Join("voice", owner, recordedAt.UTC().Format("2006"), recordedAt.UTC().Format("01"), id+"."+ext)
}

// DetectFormat 从音频内容识别格式，返回不带点的扩展名和 MIME 类型。
// 内容无法识别时使用文件名的扩展名。
func DetectFormat(audio []byte, fileName string) (ext, contentType string) {
	mt := mimetype.Detect(audio)
	contentType = mt.String()
	if strings.HasPrefix(contentType, "audio/") || strings.HasPrefix(contentType, "video/") {
		ext = strings.TrimPrefix(mt.Extension(), ".")
	}
	if ext == "" {
		ext = strings.TrimPrefix(strings.ToLower(path.Ext(fileName)), ".")
	}
	if ext == "" {
		ext = "bin"
	}
	return ext, contentType
}

// Process 运行完整管道并返回保存的笔记。
func (p *Pipeline) Process(ctx context.Context, c Capture) (*models.VoiceNote, error) {
	if len(c.Audio) == 0 {
		return nil, ErrEmptyAudio
	}
	if c.RecordedAt.IsZero() {
		c.RecordedAt = p.opts.Now()
	}
	if c.Visibility == "" {
		c.Visibility = models.VisibilityPrivate
	}

	ext, contentType := DetectFormat(c.Audio, c.FileName)
	note := &models.VoiceNote{
		ID:               uuid.NewString(),
		SourceChannel:    c.SourceChannel,
		RecordedBy:       c.RecordedBy,
		AudioFormat:      ext,
		Visibility:       c.Visibility,
		ProjectContext:   c.ProjectContext,
		RelatedContactID: c.RelatedContactID,
		SharedWith:       c.SharedWith,
		RecordedAt:       c.RecordedAt.UTC(),
	}
	log := p.opts.Logger.WithFields(map[string]interface{}{"note_id": note.ID, "owner": note.RecordedBy})

	ref, err := p.audio.Put(ctx, ObjectKey(c.RecordedBy, c.RecordedAt, note.ID, ext), c.Audio, contentType)
	if err != nil {
		return nil, fmt.Errorf("保存音频失败: %w", err)
	}
	note.AudioRef = ref

	p.transcribe(ctx, note, c.Audio, log)
	if note.Transcript != nil {
		p.enrich(ctx, note, log)
		p.embed(ctx, note, log)
	}

	if err := p.notes.Save(ctx, note); err != nil {
		return nil, fmt.Errorf("保存语音笔记失败: %w", err)
	}
	if note.HasEmbedding() && p.opts.Index != nil {
		if err := p.opts.Index.Upsert(ctx, note); err != nil {
			log.WithError(err).Warn("写入向量索引失败")
		}
	}
	if len(note.MentionedPeople) > 0 && p.opts.Graph != nil {
		if err := p.opts.Graph.LinkMentions(ctx, note); err != nil {
			log.WithError(err).Warn("写入提及关系失败")
		}
	}

	log.WithFields(map[string]interface{}{
		"transcribed": note.Transcript != nil,
		"enriched":    note.Summary != nil,
		"embedded":    note.HasEmbedding(),
	}).Info("语音笔记处理完成")
	return note, nil
}

func (p *Pipeline) transcribe(ctx context.Context, note *models.VoiceNote, audio []byte, log *logger.Logger) {
	if p.opts.Transcriber == nil {
		return
	}
	tr, err := p.opts.Transcriber.Transcribe(ctx, audio, note.AudioFormat)
	if err != nil {
		log.WithError(err).Warn("转写失败")
		return
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return
	}
	now := p.opts.Now()
	note.Transcript = &text
	note.TranscriptConfidence = tr.Confidence
	note.TranscribedAt = &now
}

func (p *Pipeline) embed(ctx context.Context, note *models.VoiceNote, log *logger.Logger) {
	if p.opts.Embedder == nil {
		return
	}
	vec, err := p.opts.Embedder.Embed(ctx, *note.Transcript)
	if err != nil {
		log.WithError(err).Warn("生成向量失败")
		return
	}
	note.Embedding = vec
}
