package geo

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"Guardian/pkg/metrics"
)

const epsilon = 150 * time.Millisecond

func newTestResolver(t *testing.T, p Provider, cfg Config, opts ...Option) *Resolver {
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithMetrics(metrics.NewMetrics(prometheus.NewRegistry()))}, opts...)
	return NewResolver(p, cfg, opts...)
}

func TestResolveFirstStrategyWins(t *testing.T) {
	cases := []struct {
		name    string
		cheap   time.Duration
		precise time.Duration
		want    Source
	}{
		{"cheap first", 10 * time.Millisecond, 300 * time.Millisecond, SourceCheap},
		{"precise first", 300 * time.Millisecond, 10 * time.Millisecond, SourcePrecise},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newFakeProvider(
				fakeResult{delay: tc.cheap, fix: coord(1, 1, 500)},
				fakeResult{delay: tc.precise, fix: coord(2, 2, 5)},
			)
			r := newTestResolver(t, p, Config{})
			fix, err := r.Resolve(context.Background(), time.Second)
			require.NoError(t, err)
			assert.Equal(t, tc.want, fix.Source)
			assert.False(t, fix.Degraded)

			cached, ok := r.LastKnown()
			require.True(t, ok)
			assert.Equal(t, fix.Coordinate, cached)
		})
	}
}

func TestResolveStartsStrategiesConcurrently(t *testing.T) {
	p := newFakeProvider(
		fakeResult{delay: 200 * time.Millisecond, err: errors.New("no cheap fix")},
		fakeResult{delay: 250 * time.Millisecond, fix: coord(3, 3, 8)},
	)
	r := newTestResolver(t, p, Config{})
	start := time.Now()
	fix, err := r.Resolve(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, SourcePrecise, fix.Source)
	// sequential calls would take at least 450ms
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Len(t, p.calls, 2)
}

func TestResolveHonorsDeadline(t *testing.T) {
	p := newFakeProvider(
		fakeResult{delay: 2 * time.Second, fix: coord(1, 1, 10), ignoreCtx: true},
		fakeResult{delay: 2 * time.Second, fix: coord(1, 1, 10), ignoreCtx: true},
	)
	r := newTestResolver(t, p, Config{})
	deadline := 100 * time.Millisecond
	start := time.Now()
	_, err := r.Resolve(context.Background(), deadline)
	assert.Less(t, time.Since(start), deadline+epsilon)
	assert.ErrorIs(t, err, ErrLocationUnavailable)
}

func TestResolveFallsBackToLastKnown(t *testing.T) {
	cache := &FixCache{}
	stale := Coordinate{Lat: 10, Lng: 20, Accuracy: 30, CapturedAt: time.Now().Add(-10 * time.Minute)}
	require.True(t, cache.Store(stale))

	p := newFakeProvider(
		fakeResult{delay: 5 * time.Millisecond, err: errors.New("gps off")},
		fakeResult{delay: 5 * time.Second},
	)
	r := newTestResolver(t, p, Config{}, WithCache(cache))
	start := time.Now()
	fix, err := r.Resolve(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond+epsilon)
	assert.Equal(t, SourceLastKnown, fix.Source)
	assert.True(t, fix.Degraded)
	assert.Equal(t, stale, fix.Coordinate)
}

func TestResolveUnavailableWithoutCache(t *testing.T) {
	p := newFakeProvider(
		fakeResult{delay: time.Millisecond, err: errors.New("no signal")},
		fakeResult{delay: time.Millisecond, err: errors.New("no signal")},
	)
	r := newTestResolver(t, p, Config{})
	_, err := r.Resolve(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrLocationUnavailable)
	assert.NotErrorIs(t, err, ErrPermissionDenied)
}

func TestResolvePermissionDeniedFailsFast(t *testing.T) {
	cache := &FixCache{}
	cache.Store(Coordinate{Lat: 1, Lng: 1, CapturedAt: time.Now().Add(-time.Hour)})
	p := newFakeProvider(
		fakeResult{delay: 3 * time.Second},
		fakeResult{delay: 10 * time.Millisecond, err: ErrPermissionDenied},
	)
	r := newTestResolver(t, p, Config{}, WithCache(cache))
	start := time.Now()
	_, err := r.Resolve(context.Background(), 2*time.Second)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestResolveUsesFreshWatchFix(t *testing.T) {
	p := newFakeProvider(fakeResult{delay: time.Second}, fakeResult{delay: time.Second})
	r := newTestResolver(t, p, Config{WatchFreshness: time.Minute})
	w := coord(7, 7, 12)
	r.cache.Store(w)

	start := time.Now()
	fix, err := r.Resolve(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, SourceWatch, fix.Source)
	assert.Equal(t, w, fix.Coordinate)
	assert.Empty(t, p.calls)
}

func TestResolveRejectsInaccurateFix(t *testing.T) {
	p := newFakeProvider(
		fakeResult{delay: 5 * time.Millisecond, fix: coord(1, 1, 900)},
		fakeResult{delay: 60 * time.Millisecond, fix: coord(2, 2, 15)},
	)
	r := newTestResolver(t, p, Config{MaxAccuracy: 100})
	fix, err := r.Resolve(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, SourcePrecise, fix.Source)
	assert.Equal(t, 15.0, fix.Accuracy)
}

func TestLateLoserDoesNotWriteCache(t *testing.T) {
	winner := coord(1, 1, 50)
	late := Coordinate{Lat: 9, Lng: 9, Accuracy: 3, CapturedAt: time.Now().Add(time.Second)}
	p := newFakeProvider(
		fakeResult{delay: 5 * time.Millisecond, fix: winner},
		fakeResult{delay: 150 * time.Millisecond, fix: late, ignoreCtx: true},
	)
	r := newTestResolver(t, p, Config{})
	fix, err := r.Resolve(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, winner, fix.Coordinate)

	r.Wait()
	cached, _ := r.LastKnown()
	assert.Equal(t, winner, cached)
}

func TestWaitReapsCancelledLosers(t *testing.T) {
	p := newFakeProvider(
		fakeResult{delay: 5 * time.Millisecond, err: ErrPermissionDenied},
		fakeResult{delay: 5 * time.Second, fix: coord(2, 2, 5)},
	)
	r := newTestResolver(t, p, Config{})
	_, err := r.Resolve(context.Background(), 10*time.Second)
	require.ErrorIs(t, err, ErrPermissionDenied)

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("precise strategy kept running after permission was refused")
	}
}

func TestResolveCallerCancel(t *testing.T) {
	p := newFakeProvider(fakeResult{delay: time.Second}, fakeResult{delay: time.Second})
	r := newTestResolver(t, p, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := r.Resolve(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentResolveAndWatch(t *testing.T) {
	p := newFakeProvider(
		fakeResult{delay: 2 * time.Millisecond, fix: coord(1, 1, 20)},
		fakeResult{delay: 4 * time.Millisecond, fix: coord(1, 1, 5)},
	)
	r := newTestResolver(t, p, Config{WatchFreshness: time.Nanosecond})
	id, err := r.StartWatch(nil, nil)
	require.NoError(t, err)
	w, _ := p.watcher(id)

	var ok atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			w.onFix(coord(5, 5, 10))
		}
	}()
	for i := 0; i < 10; i++ {
		if _, err := r.Resolve(context.Background(), time.Second); err == nil {
			ok.Add(1)
		}
	}
	<-done
	assert.EqualValues(t, 10, ok.Load())
	r.StopWatch(id)
}
