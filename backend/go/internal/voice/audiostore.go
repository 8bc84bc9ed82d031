package voice

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
)

// MinioAudioStore 把音频写入 MinIO (或任何 S3 兼容存储)。
type MinioAudioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioAudioStore 创建音频存储。存储桶应已由 database/minio.NewClient 创建。
func NewMinioAudioStore(client *minio.Client, bucket string) *MinioAudioStore {
	return &MinioAudioStore{client: client, bucket: bucket}
}

// Put 上传音频并返回 s3://bucket/key 形式的引用。
func (s *MinioAudioStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("上传音频 %s 失败: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
