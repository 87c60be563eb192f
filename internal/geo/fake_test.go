package geo

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type fakeResult struct {
	delay time.Duration
	fix   Coordinate
	err   error
	// ignoreCtx simulates a provider that does not honor cancellation
	ignoreCtx bool
}

type fakeProvider struct {
	mu       sync.Mutex
	cheap    fakeResult
	precise  fakeResult
	calls    []FixOptions
	nextID   int
	watchers map[WatchID]fakeWatcher
	canceled []WatchID
}

type fakeWatcher struct {
	onFix   func(Coordinate)
	onError func(error)
}

func newFakeProvider(cheap, precise fakeResult) *fakeProvider {
	return &fakeProvider{cheap: cheap, precise: precise, watchers: map[WatchID]fakeWatcher{}}
}

func (p *fakeProvider) GetFix(ctx context.Context, opts FixOptions) (Coordinate, error) {
	p.mu.Lock()
	p.calls = append(p.calls, opts)
	res := p.cheap
	if opts.HighAccuracy {
		res = p.precise
	}
	p.mu.Unlock()

	if res.ignoreCtx {
		time.Sleep(res.delay)
		return res.fix, res.err
	}
	select {
	case <-time.After(res.delay):
		return res.fix, res.err
	case <-ctx.Done():
		return Coordinate{}, ctx.Err()
	}
}

func (p *fakeProvider) Watch(onFix func(Coordinate), onError func(error)) (WatchID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := WatchID(fmt.Sprintf("w%d", p.nextID))
	p.watchers[id] = fakeWatcher{onFix: onFix, onError: onError}
	return id, nil
}

func (p *fakeProvider) CancelWatch(id WatchID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watchers, id)
	p.canceled = append(p.canceled, id)
}

func (p *fakeProvider) watcher(id WatchID) (fakeWatcher, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.watchers[id]
	return w, ok
}

func (p *fakeProvider) canceledIDs() []WatchID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]WatchID(nil), p.canceled...)
}

func coord(lat, lng, acc float64) Coordinate {
	return Coordinate{Lat: lat, Lng: lng, Accuracy: acc, CapturedAt: time.Now()}
}
