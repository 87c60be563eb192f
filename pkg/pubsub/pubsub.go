// Package pubsub is the shared transport the engine publishes through: single-value
// nodes plus append-only child collections that can be read whole or subscribed to.
package pubsub

import (
	"context"

	"Guardian/pkg/errors"
)

// Entry is one appended child, in insertion order.
type Entry struct {
	ID    string `json:"id"`
	Value []byte `json:"value"`
}

// Transport 发布/订阅能力
type Transport interface {
	// Write replaces the value stored at path.
	Write(ctx context.Context, path string, value []byte) error

	// Read returns the value at path; ok is false when nothing was written.
	Read(ctx context.Context, path string) (value []byte, ok bool, err error)

	// Append adds a child under path and returns the generated id.
	Append(ctx context.Context, path string, value []byte) (string, error)

	// ReadAll returns every child under path in insertion order.
	ReadAll(ctx context.Context, path string) ([]Entry, error)

	// Subscribe calls fn with the full child set now and after each change.
	Subscribe(ctx context.Context, path string, fn func([]Entry)) (unsubscribe func(), err error)

	Close() error
}

var ErrClosed = errors.New("pubsub: transport closed")
