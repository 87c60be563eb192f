package geo

import (
	"sync"
	"time"
)

// FixCache holds the last-known-good coordinate. Stores never move CapturedAt backwards.
type FixCache struct {
	mu  sync.RWMutex
	c   Coordinate
	has bool
}

// Store keeps c if it is at least as recent as the cached fix.
func (f *FixCache) Store(c Coordinate) bool {
	if !c.Valid() {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.has && c.CapturedAt.Before(f.c.CapturedAt) {
		return false
	}
	f.c, f.has = c, true
	return true
}

func (f *FixCache) Load() (Coordinate, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.c, f.has
}

// Fresh returns the cached fix only if it is no older than maxAge at now.
func (f *FixCache) Fresh(maxAge time.Duration, now time.Time) (Coordinate, bool) {
	c, ok := f.Load()
	if !ok || now.Sub(c.CapturedAt) > maxAge {
		return Coordinate{}, false
	}
	return c, true
}
