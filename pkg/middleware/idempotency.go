package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"Guardian/pkg/cache"
)

const pendingMarker = "pending"

type IdempotencyConfig struct {
	HeaderName string        // Idempotency-Key 的请求头名
	TTL        time.Duration // 决定一段时间内重复请求的拒绝窗口
	Store      cache.Cache   // 为空时使用进程内 go-cache
}

// stored 首次请求的响应，重复请求时原样返回
type stored struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// bodyRecorder 复制响应体
type bodyRecorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the first response for a repeated Idempotency-Key.
// Requests without the header pass through untouched. A repeat that arrives while
// the first is still running gets 409. Failed first attempts are forgotten so the
// client can retry.
func IdempotencyMiddleware(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "Idempotency-Key"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	store := cfg.Store
	if store == nil {
		store = cache.NewGoCache(cache.LocalConfig{DefaultExpiration: cfg.TTL})
	}
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(cfg.HeaderName))
		if key == "" {
			c.Next()
			return
		}
		key = "idem:" + c.Request.Method + ":" + c.FullPath() + ":" + key
		ctx := c.Request.Context()

		ok, err := store.SetNX(ctx, key, []byte(pendingMarker), cfg.TTL)
		if err != nil {
			// 存储不可用时放行，求助请求不能被挡住
			c.Next()
			return
		}
		if !ok {
			replay(c, store, key)
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		status := rec.Status()
		if status >= http.StatusInternalServerError || len(c.Errors) > 0 {
			_ = store.Delete(ctx, key)
			return
		}
		data, err := json.Marshal(stored{Status: status, Body: json.RawMessage(rec.buf.Bytes())})
		if err != nil || !json.Valid(rec.buf.Bytes()) {
			_ = store.Delete(ctx, key)
			return
		}
		_ = store.Set(ctx, key, data, cfg.TTL)
	}
}

func replay(c *gin.Context, store cache.Cache, key string) {
	raw, found := store.Get(c.Request.Context(), key)
	var prev stored
	if !found || string(raw) == pendingMarker || json.Unmarshal(raw, &prev) != nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate request"})
		return
	}
	c.Header("Idempotent-Replayed", "true")
	c.Data(prev.Status, "application/json; charset=utf-8", prev.Body)
	c.Abort()
}
