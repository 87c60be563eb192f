package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache 缓存接口，值一律按字节存储，便于本地与 Redis 互换
type Cache interface {
	// Get 获取缓存值
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set 设置缓存值，expiration <= 0 使用默认过期时间
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// SetNX 仅当键不存在时设置，返回是否设置成功
	SetNX(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error)

	// Delete 删除缓存
	Delete(ctx context.Context, key string) error

	// Exists 检查键是否存在
	Exists(ctx context.Context, key string) bool

	// Close 关闭缓存连接
	Close() error
}

// Config 缓存配置
type Config struct {
	// 缓存类型: "lru", "gocache" 或 "redis"
	Type string `json:"type" env:"CACHE_TYPE" default:"lru"`

	Redis RedisConfig `json:"redis"`
	Local LocalConfig `json:"local"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr         string        `json:"addr" env:"REDIS_ADDR" default:"localhost:6379"`
	Password     string        `json:"password" env:"REDIS_PASSWORD"`
	DB           int           `json:"db" env:"REDIS_DB" default:"0"`
	PoolSize     int           `json:"pool_size" env:"REDIS_POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `json:"write_timeout" env:"REDIS_WRITE_TIMEOUT" default:"3s"`
	// 键前缀，与其他服务共用 Redis 时隔离
	KeyPrefix string `json:"key_prefix" env:"CACHE_KEY_PREFIX" default:"guardian:cache:"`
}

// LocalConfig 本地缓存配置
type LocalConfig struct {
	// 最大缓存项数，仅 lru 生效
	MaxSize int `json:"max_size" env:"LOCAL_CACHE_MAX_SIZE" default:"1000"`

	// 默认过期时间
	DefaultExpiration time.Duration `json:"default_expiration" env:"LOCAL_CACHE_DEFAULT_EXPIRATION" default:"5m"`

	// 清理间隔，仅 gocache 生效
	CleanupInterval time.Duration `json:"cleanup_interval" env:"LOCAL_CACHE_CLEANUP_INTERVAL" default:"10m"`
}

// NewCache 创建缓存实例
func NewCache(config Config) (Cache, error) {
	switch strings.ToLower(config.Type) {
	case "", "lru", "local":
		return NewLRUCache(config.Local), nil
	case "gocache":
		return NewGoCache(config.Local), nil
	case "redis":
		return NewRedisCache(config.Redis)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", config.Type)
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
