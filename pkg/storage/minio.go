package storage

import (
	"context"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"Guardian/pkg/errors"
	"Guardian/pkg/util"
)

type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Bucket    string `env:"MINIO_BUCKET"`
	UseSSL    bool   `env:"MINIO_USE_SSL"`
	Prefix    string `env:"MINIO_PREFIX"` // 对象键前缀
}

// MinioConfigFromEnv 未设置 MINIO_ENDPOINT 时返回 ok=false
func MinioConfigFromEnv() (MinioConfig, bool) {
	cfg := MinioConfig{
		Endpoint:  util.GetEnv("MINIO_ENDPOINT"),
		AccessKey: util.GetEnv("MINIO_ACCESS_KEY"),
		SecretKey: util.GetEnv("MINIO_SECRET_KEY"),
		Bucket:    util.GetEnvDefault("MINIO_BUCKET", "guardian-backups"),
		UseSSL:    util.GetBoolEnv("MINIO_USE_SSL"),
		Prefix:    util.GetEnvDefault("MINIO_PREFIX", "backups/"),
	}
	return cfg, cfg.Endpoint != ""
}

type MinioStore struct {
	cfg MinioConfig
	cli *minio.Client

	bucketOnce sync.Once
	bucketErr  error
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "minio client %s", cfg.Endpoint)
	}
	return &MinioStore{cfg: cfg, cli: cli}, nil
}

func (m *MinioStore) key(k string) string { return m.cfg.Prefix + k }

func (m *MinioStore) ensureBucket(ctx context.Context) error {
	m.bucketOnce.Do(func() {
		exists, err := m.cli.BucketExists(ctx, m.cfg.Bucket)
		if err != nil {
			m.bucketErr = err
			return
		}
		if !exists {
			m.bucketErr = m.cli.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{})
		}
	})
	return m.bucketErr
}

func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := m.ensureBucket(ctx); err != nil {
		return errors.Wrapf(err, "bucket %s", m.cfg.Bucket)
	}
	_, err := m.cli.PutObject(ctx, m.cfg.Bucket, m.key(key), r, size, minio.PutObjectOptions{ContentType: "application/vnd.sqlite3"})
	return err
}

func (m *MinioStore) Delete(ctx context.Context, key string) error {
	return m.cli.RemoveObject(ctx, m.cfg.Bucket, m.key(key), minio.RemoveObjectOptions{})
}

func (m *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.cli.StatObject(ctx, m.cfg.Bucket, m.key(key), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
