package util

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// CacheConfig 用于配置LRU缓存的行为。
type CacheConfig struct {
	// Capacity 是缓存的最大元素数量，必须为正数。
	Capacity int
	// TTL 是元素的存活时间。如果为0，则元素永不过期。
	TTL time.Duration
	// Now 用于测试时注入时钟，为空时使用 time.Now。
	Now func() time.Time
}

type entry[K comparable, V any] struct {
	key        K
	value      V
	expiration time.Time
}

// LRUCache 是一个支持泛型、有界且线程安全的LRU缓存。
type LRUCache[K comparable, V any] struct {
	config CacheConfig
	ll     *list.List
	cache  map[K]*list.Element
	lock   sync.Mutex
}

// NewWithConfig 使用指定的配置创建一个LRU缓存实例。
func NewWithConfig[K comparable, V any](config CacheConfig) (*LRUCache[K, V], error) {
	if config.Capacity <= 0 {
		return nil, fmt.Errorf("LRU 缓存的 Capacity 必须为正数, 当前为 %d", config.Capacity)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &LRUCache[K, V]{
		config: config,
		ll:     list.New(),
		cache:  make(map[K]*list.Element, config.Capacity),
	}, nil
}

// Get 方法根据键获取一个值，过期的元素会被顺便移除。
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	element, ok := c.lookup(key)
	if !ok {
		var zeroV V
		return zeroV, false
	}
	c.ll.MoveToFront(element)
	return element.Value.(*entry[K, V]).value, true
}

// Put 方法向缓存中添加或更新一个键值对。
func (c *LRUCache[K, V]) Put(key K, value V) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if element, ok := c.cache[key]; ok {
		e := element.Value.(*entry[K, V])
		e.value = value
		e.expiration = c.expiry()
		c.ll.MoveToFront(element)
		return
	}
	c.insert(key, value)
}

// PutIfAbsent 只在键不存在 (或已过期) 时写入，返回是否写入成功。
// 检查和写入在同一把锁内完成，可用于去重。
func (c *LRUCache[K, V]) PutIfAbsent(key K, value V) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if _, ok := c.lookup(key); ok {
		return false
	}
	c.insert(key, value)
	return true
}

// Remove 删除一个键。
func (c *LRUCache[K, V]) Remove(key K) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if element, ok := c.cache[key]; ok {
		c.removeElement(element)
	}
}

// Len 返回当前缓存中的条目数量 (可能包含尚未被动淘汰的过期条目)。
func (c *LRUCache[K, V]) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.ll.Len()
}

// lookup 查找未过期的元素。调用方必须持有锁。
func (c *LRUCache[K, V]) lookup(key K) (*list.Element, bool) {
	element, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	e := element.Value.(*entry[K, V])
	if c.config.TTL > 0 && c.config.Now().After(e.expiration) {
		c.removeElement(element)
		return nil, false
	}
	return element, true
}

// insert 插入新元素并淘汰超出容量的部分。调用方必须持有锁。
func (c *LRUCache[K, V]) insert(key K, value V) {
	element := c.ll.PushFront(&entry[K, V]{key: key, value: value, expiration: c.expiry()})
	c.cache[key] = element
	for c.ll.Len() > c.config.Capacity {
		c.removeElement(c.ll.Back())
	}
}

func (c *LRUCache[K, V]) expiry() time.Time {
	if c.config.TTL <= 0 {
		return time.Time{}
	}
	return c.config.Now().Add(c.config.TTL)
}

func (c *LRUCache[K, V]) removeElement(e *list.Element) {
	c.ll.Remove(e)
	delete(c.cache, e.Value.(*entry[K, V]).key)
}
