package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"Guardian/internal/updatelog"
	"Guardian/pkg/cache"
	"Guardian/pkg/config"
	"Guardian/pkg/metrics"
	"Guardian/pkg/pubsub"
	"Guardian/pkg/scheduler"
	"Guardian/pkg/websocket"
)

// openTransport 按配置选择 memory、redis 或 sql 传输
func openTransport(cfg *config.Config, db *gorm.DB) (pubsub.Transport, error) {
	switch strings.ToLower(cfg.Transport) {
	case "", "memory":
		return pubsub.NewMemory(), nil
	case "redis":
		return pubsub.NewRedis(pubsub.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: "guardian:",
		})
	case "sql":
		return pubsub.NewSQL(db, cfg.PollInterval)
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}

// newUpdateLog push 依赖传输层的订阅，poll 定时重读
func newUpdateLog(cfg *config.Config, t pubsub.Transport, sched *scheduler.Scheduler, log *zap.Logger, m *metrics.Metrics) (updatelog.Log, error) {
	opts := []updatelog.Option{updatelog.WithLogger(log), updatelog.WithMetrics(m)}
	switch strings.ToLower(cfg.Delivery) {
	case "", "push":
		return updatelog.NewPushLog(t, opts...), nil
	case "poll":
		return updatelog.NewPollLog(t, sched, cfg.PollInterval, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported delivery: %s", cfg.Delivery)
	}
}

func openCache(cfg *config.Config) (cache.Cache, error) {
	return cache.NewCache(cache.Config{
		Type: cfg.CacheType,
		Redis: cache.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: "guardian:cache:",
		},
		Local: cache.LocalConfig{
			MaxSize:           1000,
			DefaultExpiration: 10 * time.Minute,
			CleanupInterval:   10 * time.Minute,
		},
	})
}

// channelFeed 把频道订阅接到 websocket hub，每次变化推送完整记录
func channelFeed(log updatelog.Log) websocket.Feed {
	return func(ctx context.Context, key string, push func(v interface{})) (func(), error) {
		return log.Subscribe(ctx, key, func(recs []updatelog.Record) { push(recs) })
	}
}
