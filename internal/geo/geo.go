// Package geo resolves a single best-effort location fix by racing acquisition
// strategies against a deadline, and keeps the last-known-good fix shared with
// a continuous watch.
package geo

import (
	"context"
	"math"
	"time"

	"Guardian/pkg/errors"
)

var (
	ErrPermissionDenied    = errors.Sentinel(errors.CodePermissionDenied, "location permission denied")
	ErrLocationUnavailable = errors.Sentinel(errors.CodeLocationUnavailable, "location unavailable")
)

// Coordinate is one location sample. Accuracy is a radius in meters.
type Coordinate struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Valid reports whether c is a usable sample.
func (c Coordinate) Valid() bool {
	if c.CapturedAt.IsZero() || math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180 && c.Accuracy >= 0
}

// FixOptions are hints passed to the device provider.
type FixOptions struct {
	HighAccuracy bool
	// MaxStaleness is the oldest cached sample the provider may return. Zero means a fresh fix.
	MaxStaleness time.Duration
	Timeout      time.Duration
}

type WatchID string

// Provider is the device location capability. Permission refusal must be
// reported with an error for which errors.Is(err, ErrPermissionDenied) holds.
type Provider interface {
	GetFix(ctx context.Context, opts FixOptions) (Coordinate, error)
	Watch(onFix func(Coordinate), onError func(error)) (WatchID, error)
	CancelWatch(id WatchID)
}

// Source names the path that produced a fix.
type Source string

const (
	SourceWatch     Source = "watch"
	SourceCheap     Source = "cheap"
	SourcePrecise   Source = "precise"
	SourceLastKnown Source = "last_known"
)

// Fix is the result of Resolve. Degraded is set when the last-known fix was
// returned because no strategy settled in time.
type Fix struct {
	Coordinate
	Source   Source `json:"source"`
	Degraded bool   `json:"degraded"`
}
