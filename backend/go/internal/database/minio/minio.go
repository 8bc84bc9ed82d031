package minio

import (
	"context"
	"fmt"
	"log"

	"Steward/backend/go/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// NewClient 创建 MinIO 客户端，并确保音频存储桶存在。
func NewClient(ctx context.Context, cfg config.MinIOConfig) (*minio.Client, error) {
	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("无法创建 MinIO 客户端: %w", err)
	}

	exists, err := c.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶 '%s' 失败: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := c.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建存储桶 '%s' 失败: %w", cfg.Bucket, err)
		}
		log.Printf("ℹ️ 已创建存储桶 '%s'", cfg.Bucket)
	}

	log.Println("✅ 成功连接到 MinIO!")
	return c, nil
}
