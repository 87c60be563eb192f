// Package storage keeps copies of backup files off the device.
package storage

import (
	"context"
	"io"
)

// Store 对象存储
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
