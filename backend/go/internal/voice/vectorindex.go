package voice

import (
	"context"
	"fmt"

	"Steward/backend/go/internal/models"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// 向量集合的字段名，与 database/milvus.VoiceNoteSchema 一致。
const (
	fieldNoteID     = "note_id"
	fieldOwner      = "owner"
	fieldVisibility = "visibility"
	fieldSharedWith = "shared_with"
	fieldEmbedding  = "embedding"
)

// MilvusIndex 是基于 Milvus 的语音笔记向量索引。
type MilvusIndex struct {
	client     client.Client
	collection string
	dim        int
}

// NewMilvusIndex 创建向量索引。集合应已由 database/milvus.EnsureCollection 创建并加载。
func NewMilvusIndex(c client.Client, collection string, dim int) *MilvusIndex {
	return &MilvusIndex{client: c, collection: collection, dim: dim}
}

// Upsert 写入或覆盖一条笔记的向量和过滤字段。
func (m *MilvusIndex) Upsert(ctx context.Context, note *models.VoiceNote) error {
	if len(note.Embedding) != m.dim {
		return fmt.Errorf("向量维度 %d 与集合维度 %d 不一致", len(note.Embedding), m.dim)
	}
	_, err := m.client.Upsert(ctx, m.collection, "",
		entity.NewColumnVarChar(fieldNoteID, []string{note.ID}),
		entity.NewColumnVarChar(fieldOwner, []string{note.RecordedBy}),
		entity.NewColumnVarChar(fieldVisibility, []string{string(note.Visibility)}),
		entity.NewColumnVarChar(fieldSharedWith, []string{SharedWithField(note.SharedWith)}),
		entity.NewColumnFloatVector(fieldEmbedding, m.dim, [][]float32{note.Embedding}),
	)
	if err != nil {
		return fmt.Errorf("写入 Milvus 失败: %w", err)
	}
	return nil
}

// Search 按余弦相似度检索近邻，filter 是标量过滤表达式。
func (m *MilvusIndex) Search(ctx context.Context, vector []float32, topK int, filter string) ([]Hit, error) {
	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, err
	}
	results, err := m.client.Search(ctx, m.collection, nil, filter, []string{fieldNoteID},
		[]entity.Vector{entity.FloatVector(vector)}, fieldEmbedding, entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("Milvus 检索失败: %w", err)
	}

	var hits []Hit
	for _, res := range results {
		for i := 0; i < res.ResultCount; i++ {
			id, err := res.IDs.GetAsString(i)
			if err != nil {
				continue
			}
			hits = append(hits, Hit{NoteID: id, Score: res.Scores[i]})
		}
	}
	return hits, nil
}
