package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type lruEntry struct {
	value     []byte
	expiresAt time.Time
}

// lruCache 本地 LRU 缓存。expirable 只支持统一 TTL，单项过期时间另行记录
type lruCache struct {
	mu     sync.Mutex
	lru    *expirable.LRU[string, lruEntry]
	defTTL time.Duration
}

// NewLRUCache 创建本地缓存
func NewLRUCache(config LocalConfig) Cache {
	size := config.MaxSize
	if size <= 0 {
		size = 1000
	}
	ttl := orDefault(config.DefaultExpiration, 5*time.Minute)
	return &lruCache{
		// 统一 TTL 作为上限，避免长期占用
		lru:    expirable.NewLRU[string, lruEntry](size, nil, 24*time.Hour+ttl),
		defTTL: ttl,
	}
}

func (c *lruCache) lookup(key string) (lruEntry, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return lruEntry{}, false
	}
	if time.Now().After(e.expiresAt) {
		c.lru.Remove(key)
		return lruEntry{}, false
	}
	return e, true
}

func (c *lruCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	return e.value, ok
}

func (c *lruCache) Set(_ context.Context, key string, value []byte, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, lruEntry{value: value, expiresAt: time.Now().Add(orDefault(expiration, c.defTTL))})
	return nil
}

func (c *lruCache) SetNX(_ context.Context, key string, value []byte, expiration time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.lru.Add(key, lruEntry{value: value, expiresAt: time.Now().Add(orDefault(expiration, c.defTTL))})
	return true, nil
}

func (c *lruCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
	return nil
}

func (c *lruCache) Exists(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lookup(key)
	return ok
}

func (c *lruCache) Close() error {
	c.lru.Purge()
	return nil
}
