package redis

import (
	"context"
	"fmt"
	"log"

	"Steward/backend/go/internal/config"

	"github.com/go-redis/redis/v8"
)

// NewClient 创建 Redis 客户端并用 Ping 验证连接。
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("无法连接到 Redis: %w", err)
	}

	log.Println("✅ 成功连接到 Redis!")
	return rdb, nil
}
