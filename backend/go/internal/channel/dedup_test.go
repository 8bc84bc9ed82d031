package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	keys map[string]bool
	err  error
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, _ time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if f.keys[key] {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = true
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if f.keys[k] {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestLRUDeduper(t *testing.T) {
	d, err := NewLRUDeduper(2, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	first, _ := d.FirstSeen(ctx, "U1|1")
	assert.True(t, first)
	first, _ = d.FirstSeen(ctx, "U1|1")
	assert.False(t, first)

	_, _ = d.FirstSeen(ctx, "U1|2")
	_, _ = d.FirstSeen(ctx, "U1|3")
	first, _ = d.FirstSeen(ctx, "U1|1")
	assert.True(t, first, "evicted keys are forgotten")

	require.NoError(t, d.Forget(ctx, "U1|1"))
	first, _ = d.FirstSeen(ctx, "U1|1")
	assert.True(t, first)

	_, err = NewLRUDeduper(0, time.Minute)
	assert.Error(t, err)
}

func TestChainDeduper_SharedAcrossProcesses(t *testing.T) {
	shared := &fakeRedis{keys: map[string]bool{}}
	ctx := context.Background()
	mk := func() Deduper {
		local, err := NewLRUDeduper(8, time.Minute)
		require.NoError(t, err)
		return ChainDeduper{local, NewRedisDeduper(shared, time.Minute)}
	}
	a, b := mk(), mk()

	first, err := a.FirstSeen(ctx, "U1|9")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = b.FirstSeen(ctx, "U1|9")
	require.NoError(t, err)
	assert.False(t, first, "the other process sees the redis key")

	require.NoError(t, a.Forget(ctx, "U1|9"))
	first, err = b.FirstSeen(ctx, "U1|9")
	require.NoError(t, err)
	assert.True(t, first, "a forgotten key is first seen again everywhere")

	shared.err = errors.New("redis down")
	_, err = b.FirstSeen(ctx, "U1|10")
	assert.Error(t, err)
}
