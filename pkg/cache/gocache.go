package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// goCacheWrapper go-cache包装器
type goCacheWrapper struct {
	cache *gocache.Cache
}

// NewGoCache 创建基于go-cache的本地缓存
func NewGoCache(config LocalConfig) Cache {
	c := gocache.New(
		orDefault(config.DefaultExpiration, 5*time.Minute),
		orDefault(config.CleanupInterval, 10*time.Minute),
	)
	return &goCacheWrapper{cache: c}
}

func ttlOf(expiration time.Duration) time.Duration {
	if expiration <= 0 {
		return gocache.DefaultExpiration
	}
	return expiration
}

// Get 获取缓存值
func (gc *goCacheWrapper) Get(_ context.Context, key string) ([]byte, bool) {
	if value, found := gc.cache.Get(key); found {
		b, ok := value.([]byte)
		return b, ok
	}
	return nil, false
}

// Set 设置缓存值
func (gc *goCacheWrapper) Set(_ context.Context, key string, value []byte, expiration time.Duration) error {
	gc.cache.Set(key, value, ttlOf(expiration))
	return nil
}

// SetNX go-cache 的 Add 在键存在时返回错误
func (gc *goCacheWrapper) SetNX(_ context.Context, key string, value []byte, expiration time.Duration) (bool, error) {
	if err := gc.cache.Add(key, value, ttlOf(expiration)); err != nil {
		return false, nil
	}
	return true, nil
}

// Delete 删除缓存
func (gc *goCacheWrapper) Delete(_ context.Context, key string) error {
	gc.cache.Delete(key)
	return nil
}

// Exists 检查键是否存在
func (gc *goCacheWrapper) Exists(_ context.Context, key string) bool {
	_, found := gc.cache.Get(key)
	return found
}

// Close 清空缓存
func (gc *goCacheWrapper) Close() error {
	gc.cache.Flush()
	return nil
}
