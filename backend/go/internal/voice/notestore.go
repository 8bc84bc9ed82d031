package voice

import (
	"context"
	"errors"
	"fmt"

	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const notesCollection = "voice_notes"

// MongoNoteStore 在 MongoDB 中保存语音笔记文档。
type MongoNoteStore struct {
	collection *mongo.Collection
}

// NewMongoNoteStore 创建文档存储，并在 recorded_by + recorded_at 上建索引。
func NewMongoNoteStore(ctx context.Context, db *mongo.Database) (*MongoNoteStore, error) {
	coll := db.Collection(notesCollection)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "recorded_by", Value: 1}, {Key: "recorded_at", Value: -1}},
	})
	if err != nil {
		return nil, fmt.Errorf("创建 %s 索引失败: %w", notesCollection, err)
	}
	return &MongoNoteStore{collection: coll}, nil
}

// Save 按 ID 写入或覆盖一条笔记。
func (s *MongoNoteStore) Save(ctx context.Context, note *models.VoiceNote) error {
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": note.ID}, note, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("保存语音笔记 %s 失败: %w", note.ID, err)
	}
	return nil
}

// Get 读取一条笔记。
func (s *MongoNoteStore) Get(ctx context.Context, id string) (*models.VoiceNote, error) {
	var note models.VoiceNote
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&note)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("语音笔记 %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("读取语音笔记 %s 失败: %w", id, err)
	}
	return &note, nil
}

// GetMany 批量读取笔记，不存在的 ID 被忽略。
func (s *MongoNoteStore) GetMany(ctx context.Context, ids []string) ([]models.VoiceNote, error) {
	return s.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
}

// ListByOwner 返回某人最近录制的笔记。
func (s *MongoNoteStore) ListByOwner(ctx context.Context, owner string, limit int) ([]models.VoiceNote, error) {
	opts := options.Find().SetSort(bson.D{{Key: "recorded_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, bson.M{"recorded_by": owner}, opts)
}

func (s *MongoNoteStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.VoiceNote, error) {
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("查询语音笔记失败: %w", err)
	}
	defer cursor.Close(ctx)

	var notes []models.VoiceNote
	if err := cursor.All(ctx, &notes); err != nil {
		return nil, fmt.Errorf("解码语音笔记失败: %w", err)
	}
	return notes, nil
}
