package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"Guardian/internal/channel"
	"Guardian/internal/geo"
	"Guardian/internal/trigger"
	"Guardian/internal/updatelog"
	"Guardian/pkg/metrics"
	"Guardian/pkg/pubsub"
	"Guardian/pkg/scheduler"
	"Guardian/pkg/util"
)

const (
	sender = "me@example.com"
	alice  = "alice@example.com"
	bob    = "bob@example.com"
)

// stubProvider answers every GetFix with fix or err after delay.
type stubProvider struct {
	mu       sync.Mutex
	delay    time.Duration
	fix      geo.Coordinate
	err      error
	watchers map[geo.WatchID]func(geo.Coordinate)
	errFns   map[geo.WatchID]func(error)
	next     int
	canceled int
}

func newStubProvider(delay time.Duration, fix geo.Coordinate, err error) *stubProvider {
	return &stubProvider{delay: delay, fix: fix, err: err, watchers: map[geo.WatchID]func(geo.Coordinate){}, errFns: map[geo.WatchID]func(error){}}
}

func (p *stubProvider) GetFix(ctx context.Context, _ geo.FixOptions) (geo.Coordinate, error) {
	p.mu.Lock()
	delay, fix, err := p.delay, p.fix, p.err
	p.mu.Unlock()
	select {
	case <-time.After(delay):
		if err == nil && fix.CapturedAt.IsZero() {
			fix.CapturedAt = time.Now()
		}
		return fix, err
	case <-ctx.Done():
		return geo.Coordinate{}, ctx.Err()
	}
}

func (p *stubProvider) Watch(onFix func(geo.Coordinate), onError func(error)) (geo.WatchID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	id := geo.WatchID(fmt.Sprintf("w%d", p.next))
	p.watchers[id] = onFix
	p.errFns[id] = onError
	return id, nil
}

func (p *stubProvider) CancelWatch(id geo.WatchID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watchers, id)
	delete(p.errFns, id)
	p.canceled++
}

// emit pushes a fix to every active watcher.
func (p *stubProvider) emit(c geo.Coordinate) {
	p.mu.Lock()
	fns := make([]func(geo.Coordinate), 0, len(p.watchers))
	for _, fn := range p.watchers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (p *stubProvider) activeWatches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watchers)
}

// flakyTransport fails appends to paths containing any of fail.
type flakyTransport struct {
	pubsub.Transport
	fail []string
}

func (f flakyTransport) Append(ctx context.Context, path string, value []byte) (string, error) {
	for _, s := range f.fail {
		if strings.Contains(path, s) {
			return "", fmt.Errorf("append %s: connection reset", path)
		}
	}
	return f.Transport.Append(ctx, path, value)
}

type harness struct {
	m         *Manager
	provider  *stubProvider
	transport pubsub.Transport
	updates   updatelog.Log
	guard     *trigger.Guard
	signals   *util.Signals
	metrics   *metrics.Metrics
	sched     *scheduler.Scheduler
}

type harnessOption func(*harness, *Config, *Deps)

func withTransport(tr pubsub.Transport) harnessOption {
	return func(h *harness, _ *Config, _ *Deps) { h.transport = tr }
}

func withConfig(fn func(*Config)) harnessOption {
	return func(_ *harness, c *Config, _ *Deps) { fn(c) }
}

func withDeps(fn func(*Deps)) harnessOption {
	return func(_ *harness, _ *Config, d *Deps) { fn(d) }
}

func defaultSettings(recipients ...string) StaticSettings {
	s := StaticSettings{SenderAddress: sender, SenderName: "Me", TriggerPhrase: "Help Me"}
	for i, r := range recipients {
		s.Recipients = append(s.Recipients, Contact{ID: fmt.Sprint(i), DisplayName: r, Address: r, IsRegisteredUser: true})
	}
	return s
}

func newHarness(t *testing.T, settings SettingsSource, provider *stubProvider, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		provider:  provider,
		transport: pubsub.NewMemory(),
		guard:     &trigger.Guard{},
		signals:   util.NewSignals(),
		metrics:   metrics.NewMetrics(prometheus.NewRegistry()),
		sched:     scheduler.New(),
	}
	cfg := Config{ResolveDeadline: 500 * time.Millisecond, FanoutTimeout: time.Second}
	log := zaptest.NewLogger(t)
	deps := Deps{
		Settings:  settings,
		Guard:     h.guard,
		Scheduler: h.sched,
		Signals:   h.signals,
		Metrics:   h.metrics,
		Logger:    log,
	}
	for _, o := range opts {
		o(h, &cfg, &deps)
	}
	h.updates = updatelog.NewPushLog(h.transport, updatelog.WithLogger(log))
	deps.Resolver = geo.NewResolver(provider, geo.Config{WatchFreshness: time.Nanosecond}, geo.WithLogger(log))
	deps.Updates = h.updates
	deps.Store = h.transport
	h.m = NewManager(cfg, deps)
	t.Cleanup(func() {
		h.m.Close()
		h.sched.Stop()
	})
	return h
}

func (h *harness) persisted(t *testing.T, id string) Alert {
	t.Helper()
	data, ok, err := h.transport.Read(context.Background(), channel.AlertPath(id))
	require.NoError(t, err)
	require.True(t, ok, "alert %s not persisted", id)
	var a Alert
	require.NoError(t, json.Unmarshal(data, &a))
	return a
}

func (h *harness) records(t *testing.T, key string) []updatelog.Record {
	t.Helper()
	recs, err := h.updates.Read(context.Background(), key)
	require.NoError(t, err)
	return recs
}

func here() geo.Coordinate {
	return geo.Coordinate{Lat: 48.8584, Lng: 2.2945, Accuracy: 12}
}

func newMemory() pubsub.Transport { return pubsub.NewMemory() }

// failingWrites rejects node writes, which is where alert records live.
type failingWrites struct{ pubsub.Transport }

func (failingWrites) Write(context.Context, string, []byte) error {
	return fmt.Errorf("disk full")
}

// stallingTransport holds appends to paths containing match until ctx ends.
type stallingTransport struct {
	pubsub.Transport
	match   string
	entered chan struct{}
}

func (s stallingTransport) Append(ctx context.Context, path string, value []byte) (string, error) {
	if !strings.Contains(path, s.match) {
		return s.Transport.Append(ctx, path, value)
	}
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return "", ctx.Err()
}

// signalLog records lifecycle signals in emission order.
type signalLog struct {
	mu    sync.Mutex
	order []string
}

func watchSignals(h *harness) *signalLog {
	l := &signalLog{}
	for _, sig := range []string{SignalAlertCreated, SignalAlertResolved} {
		h.signals.Connect(sig, func(_ any, _ ...any) {
			l.mu.Lock()
			l.order = append(l.order, sig)
			l.mu.Unlock()
		})
	}
	return l
}

func (l *signalLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

func (h *harness) scrape() string {
	w := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return w.Body.String()
}
