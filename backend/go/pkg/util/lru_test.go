package util

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithConfig_RejectsNonPositiveCapacity(t *testing.T) {
	_, err := NewWithConfig[string, int](CacheConfig{Capacity: 0})
	require.Error(t, err)
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewWithConfig[string, int](CacheConfig{Capacity: 2})
	require.NoError(t, err)

	c.Put("a", 1)
	c.Put("b", 2)
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Put("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok, "b 最久未使用，应被淘汰")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCache_TTL(t *testing.T) {
	now := time.Unix(100, 0)
	c, err := NewWithConfig[string, string](CacheConfig{
		Capacity: 4,
		TTL:      time.Minute,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)

	c.Put("k", "v")
	now = now.Add(30 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(31 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	// 过期后可以再次写入
	assert.True(t, c.PutIfAbsent("k", "v2"))
}

func TestLRUCache_PutIfAbsentIsExclusive(t *testing.T) {
	c, err := NewWithConfig[string, struct{}](CacheConfig{Capacity: 100})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.PutIfAbsent("event-1", struct{}{}) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestLRUCache_Remove(t *testing.T) {
	c, err := NewWithConfig[int, string](CacheConfig{Capacity: 3})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		c.Put(i, fmt.Sprint(i))
	}
	c.Remove(1)
	_, ok := c.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}
