// Package device turns data pushed by the phone (fixes, transcripts,
// permission changes) into the location and speech capabilities the engine consumes.
package device

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"Guardian/internal/geo"
	"Guardian/pkg/errors"
)

type watcher struct {
	onFix   func(geo.Coordinate)
	onError func(error)
}

// LocationFeed is a geo.Provider backed by fixes pushed from the device.
type LocationFeed struct {
	mu       sync.Mutex
	latest   geo.Coordinate
	has      bool
	denied   bool
	arrived  chan struct{}
	watchers map[geo.WatchID]watcher
	now      func() time.Time
}

func NewLocationFeed() *LocationFeed {
	return &LocationFeed{
		arrived:  make(chan struct{}),
		watchers: make(map[geo.WatchID]watcher),
		now:      time.Now,
	}
}

// Push records a fix and hands it to pending requests and watchers.
func (f *LocationFeed) Push(c geo.Coordinate) error {
	if !c.Valid() {
		return errors.WithCode(errors.CodeInvalidRecord, "invalid coordinate")
	}
	f.mu.Lock()
	if f.has && c.CapturedAt.Before(f.latest.CapturedAt) {
		f.mu.Unlock()
		return nil
	}
	f.latest, f.has, f.denied = c, true, false
	close(f.arrived)
	f.arrived = make(chan struct{})
	ws := f.snapshotWatchers()
	f.mu.Unlock()

	for _, w := range ws {
		w.onFix(c)
	}
	return nil
}

// SetPermission reports the device's location permission. Revoking it fails
// pending requests and stops watches.
func (f *LocationFeed) SetPermission(granted bool) {
	f.mu.Lock()
	was := f.denied
	f.denied = !granted
	var ws []watcher
	if !granted && !was {
		ws = f.snapshotWatchers()
		close(f.arrived)
		f.arrived = make(chan struct{})
	}
	f.mu.Unlock()

	for _, w := range ws {
		w.onError(geo.ErrPermissionDenied)
	}
}

func (f *LocationFeed) snapshotWatchers() []watcher {
	ws := make([]watcher, 0, len(f.watchers))
	for _, w := range f.watchers {
		ws = append(ws, w)
	}
	return ws
}

// GetFix returns the latest fix if it is within opts.MaxStaleness, otherwise
// waits for the next pushed fix.
func (f *LocationFeed) GetFix(ctx context.Context, opts geo.FixOptions) (geo.Coordinate, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	asked := f.now()
	for {
		f.mu.Lock()
		if f.denied {
			f.mu.Unlock()
			return geo.Coordinate{}, geo.ErrPermissionDenied
		}
		if f.has && (asked.Sub(f.latest.CapturedAt) <= opts.MaxStaleness || !f.latest.CapturedAt.Before(asked)) {
			c := f.latest
			f.mu.Unlock()
			return c, nil
		}
		arrived := f.arrived
		f.mu.Unlock()

		select {
		case <-arrived:
		case <-ctx.Done():
			return geo.Coordinate{}, ctx.Err()
		}
	}
}

func (f *LocationFeed) Watch(onFix func(geo.Coordinate), onError func(error)) (geo.WatchID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied {
		return "", geo.ErrPermissionDenied
	}
	id := geo.WatchID(uuid.NewString())
	if onFix == nil {
		onFix = func(geo.Coordinate) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	f.watchers[id] = watcher{onFix: onFix, onError: onError}
	return id, nil
}

func (f *LocationFeed) CancelWatch(id geo.WatchID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.watchers, id)
}

// Watchers is the number of active watches.
func (f *LocationFeed) Watchers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}
