package store

import (
	"context"
	"fmt"
	"time"

	"Steward/backend/go/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const inboundCollection = "inbound_messages"

// MongoMessageLog 在 MongoDB 中记录入站消息。
type MongoMessageLog struct {
	collection *mongo.Collection
}

// NewMongoMessageLog 创建入站消息日志，并确保 received_at 上有索引。
func NewMongoMessageLog(ctx context.Context, db *mongo.Database) (*MongoMessageLog, error) {
	coll := db.Collection(inboundCollection)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "received_at", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("创建 %s 索引失败: %w", inboundCollection, err)
	}
	return &MongoMessageLog{collection: coll}, nil
}

// Append 写入一条入站消息。
func (l *MongoMessageLog) Append(ctx context.Context, msg *models.InboundMessage) error {
	if _, err := l.collection.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("写入入站消息失败: %w", err)
	}
	return nil
}

// Between 返回 (after, until] 区间内收到的消息，按时间升序。
func (l *MongoMessageLog) Between(ctx context.Context, after, until time.Time, limit int) ([]models.InboundMessage, error) {
	filter := bson.M{"received_at": bson.M{"$gt": after, "$lte": until}}
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := l.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("查询入站消息失败: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.InboundMessage
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("解码入站消息失败: %w", err)
	}
	return out, nil
}
