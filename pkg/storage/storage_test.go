package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinioConfigFromEnv(t *testing.T) {
	t.Setenv("MINIO_ENDPOINT", "")
	_, ok := MinioConfigFromEnv()
	assert.False(t, ok)

	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_USE_SSL", "true")
	cfg, ok := MinioConfigFromEnv()
	require.True(t, ok)
	assert.True(t, cfg.UseSSL)
	assert.Equal(t, "guardian-backups", cfg.Bucket)
	assert.Equal(t, "backups/", cfg.Prefix)
}

// 需要可用的 MinIO，未配置时跳过
func TestMinioStoreRoundTrip(t *testing.T) {
	cfg, ok := MinioConfigFromEnv()
	if !ok {
		t.Skip("MINIO_ENDPOINT not set")
	}
	s, err := NewMinioStore(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := "test-" + uuid.NewString() + ".db"
	body := "sqlite snapshot"
	require.NoError(t, s.Put(ctx, key, strings.NewReader(body), int64(len(body))))
	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, key))
	exists, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}
