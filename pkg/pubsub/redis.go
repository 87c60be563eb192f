package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisConfig Redis 传输配置
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// Redis keeps nodes as strings and collections as lists; changes are announced on a pub/sub channel per path.
type Redis struct {
	client *redis.Client
	prefix string

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisWithClient(client, cfg.KeyPrefix), nil
}

func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "guardian:"
	}
	return &Redis{client: client, prefix: prefix, subs: make(map[*redis.PubSub]struct{})}
}

// list and seq share a hash tag so they land in the same cluster slot.
func (r *Redis) nodeKey(path string) string   { return r.prefix + "node:" + path }
func (r *Redis) listKey(path string) string   { return r.prefix + "list:{" + path + "}" }
func (r *Redis) seqKey(path string) string    { return r.prefix + "seq:{" + path + "}" }
func (r *Redis) notifyKey(path string) string { return r.prefix + "notify:" + path }

func (r *Redis) Write(ctx context.Context, path string, value []byte) error {
	return r.client.Set(ctx, r.nodeKey(path), value, 0).Err()
}

func (r *Redis) Read(ctx context.Context, path string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.nodeKey(path)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *Redis) Append(ctx context.Context, path string, value []byte) (string, error) {
	seq, err := r.client.Incr(ctx, r.seqKey(path)).Result()
	if err != nil {
		return "", err
	}
	id := strconv.FormatInt(seq, 10)
	data, err := json.Marshal(Entry{ID: id, Value: value})
	if err != nil {
		return "", err
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, r.listKey(path), data)
	pipe.Publish(ctx, r.notifyKey(path), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Redis) ReadAll(ctx context.Context, path string) ([]Entry, error) {
	raw, err := r.client.LRange(ctx, r.listKey(path), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			logrus.Warnf("pubsub: skip undecodable entry at %s: %v", path, err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Redis) Subscribe(ctx context.Context, path string, fn func([]Entry)) (func(), error) {
	ps := r.client.Subscribe(ctx, r.notifyKey(path))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	entries, err := r.ReadAll(ctx, path)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}
	fn(entries)

	r.mu.Lock()
	r.subs[ps] = struct{}{}
	r.mu.Unlock()

	go func() {
		for range ps.Channel() {
			entries, err := r.ReadAll(context.Background(), path)
			if err != nil {
				logrus.Warnf("pubsub: refresh %s failed: %v", path, err)
				continue
			}
			fn(entries)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ps)
			r.mu.Unlock()
			_ = ps.Close()
		})
	}, nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	for ps := range r.subs {
		_ = ps.Close()
	}
	r.subs = make(map[*redis.PubSub]struct{})
	r.mu.Unlock()
	return r.client.Close()
}
