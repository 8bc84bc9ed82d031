package channel

import (
	"context"
	"fmt"
	"time"

	"Steward/backend/go/pkg/util"

	"github.com/go-redis/redis/v8"
)

// Deduper 报告一个键是否第一次出现。平台会重投递事件，重复事件必须被丢弃。
// Forget 撤销一次记录，处理失败的事件在重投递时可以再次处理。
type Deduper interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// LRUDeduper 是进程内的有界去重表。
type LRUDeduper struct {
	cache *util.LRUCache[string, struct{}]
}

// NewLRUDeduper 创建容量为 capacity、条目存活 ttl 的去重表。
func NewLRUDeduper(capacity int, ttl time.Duration) (*LRUDeduper, error) {
	cache, err := util.NewWithConfig[string, struct{}](util.CacheConfig{Capacity: capacity, TTL: ttl})
	if err != nil {
		return nil, err
	}
	return &LRUDeduper{cache: cache}, nil
}

func (d *LRUDeduper) FirstSeen(_ context.Context, key string) (bool, error) {
	return d.cache.PutIfAbsent(key, struct{}{}), nil
}

func (d *LRUDeduper) Forget(_ context.Context, key string) error {
	d.cache.Remove(key)
	return nil
}

type setNX interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisDeduper 用 SETNX 在多个进程之间去重。
type RedisDeduper struct {
	rdb    setNX
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper 创建基于 Redis 的去重器。
func NewRedisDeduper(rdb setNX, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, prefix: "steward:dedup:", ttl: ttl}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, d.prefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis 去重失败: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, key string) error {
	if err := d.rdb.Del(ctx, d.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis 清除去重键失败: %w", err)
	}
	return nil
}

// ChainDeduper 依次询问每个去重器，任何一个认为重复即为重复。
// 本地 LRU 放在前面，进程内的重投递不会访问 Redis。
type ChainDeduper []Deduper

func (c ChainDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	for _, d := range c {
		first, err := d.FirstSeen(ctx, key)
		if err != nil {
			return false, err
		}
		if !first {
			return false, nil
		}
	}
	return true, nil
}

func (c ChainDeduper) Forget(ctx context.Context, key string) error {
	for _, d := range c {
		if err := d.Forget(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
