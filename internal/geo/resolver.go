package geo

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"Guardian/pkg/errors"
	"Guardian/pkg/metrics"
)

// Config tunes the strategies. Zero fields take the defaults below.
type Config struct {
	Deadline          time.Duration // default 5s
	WatchFreshness    time.Duration // default 30s
	CheapTimeout      time.Duration // default 1s
	CheapMaxStaleness time.Duration // default 1m
	PreciseTimeout    time.Duration // default 8s
	// MaxAccuracy rejects fixes with a larger radius. Zero accepts any.
	MaxAccuracy float64
}

func (c Config) withDefaults() Config {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&c.Deadline, 5*time.Second)
	def(&c.WatchFreshness, 30*time.Second)
	def(&c.CheapTimeout, time.Second)
	def(&c.CheapMaxStaleness, time.Minute)
	def(&c.PreciseTimeout, 8*time.Second)
	return c
}

type Option func(*Resolver)

func WithLogger(l *zap.Logger) Option       { return func(r *Resolver) { r.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(r *Resolver) { r.metrics = m } }
func WithCache(c *FixCache) Option          { return func(r *Resolver) { r.cache = c } }
func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

// Resolver races the cached-watch, cheap and precise strategies. It is safe
// for concurrent use, including while a watch started by StartWatch runs.
type Resolver struct {
	provider Provider
	cfg      Config
	cache    *FixCache
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.RWMutex
	watches map[WatchID]*watchHandle

	// strategies still running after their race settled
	races sync.WaitGroup
}

func NewResolver(p Provider, cfg Config, opts ...Option) *Resolver {
	r := &Resolver{
		provider: p,
		cfg:      cfg.withDefaults(),
		cache:    &FixCache{},
		log:      zap.NewNop(),
		now:      time.Now,
		watches:  make(map[WatchID]*watchHandle),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Resolver) Config() Config { return r.cfg }

// LastKnown returns the shared last-known-good fix.
func (r *Resolver) LastKnown() (Coordinate, bool) { return r.cache.Load() }

type outcome struct {
	source Source
	fix    Coordinate
	err    error
}

// Resolve returns the first acceptable fix produced before deadline. A zero
// deadline uses Config.Deadline. On failure it falls back to the last-known
// fix; without one it returns ErrLocationUnavailable. Permission refusal
// returns ErrPermissionDenied as soon as any strategy reports it.
func (r *Resolver) Resolve(ctx context.Context, deadline time.Duration) (Fix, error) {
	if deadline <= 0 {
		deadline = r.cfg.Deadline
	}
	start := r.now()

	// the freshest watch fix settles the race with zero latency
	if c, ok := r.cache.Fresh(r.cfg.WatchFreshness, start); ok && r.acceptable(c, r.cfg.WatchFreshness, start) {
		r.metrics.RecordStrategy(string(SourceWatch), "won")
		r.metrics.RecordResolve(string(SourceWatch), 0)
		return Fix{Coordinate: c, Source: SourceWatch}, nil
	}
	r.metrics.RecordStrategy(string(SourceWatch), "failed")

	raceCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// buffered so losers finishing after settlement never block
	results := make(chan outcome, 2)
	g, gctx := errgroup.WithContext(raceCtx)
	defer r.reap(g)
	for _, s := range []struct {
		source Source
		opts   FixOptions
	}{
		{SourceCheap, FixOptions{HighAccuracy: false, MaxStaleness: r.cfg.CheapMaxStaleness, Timeout: r.cfg.CheapTimeout}},
		{SourcePrecise, FixOptions{HighAccuracy: true, MaxStaleness: 0, Timeout: r.cfg.PreciseTimeout}},
	} {
		s := s
		g.Go(func() error {
			sctx, scancel := context.WithTimeout(gctx, s.opts.Timeout)
			defer scancel()
			c, err := r.provider.GetFix(sctx, s.opts)
			if err == nil && !r.acceptable(c, s.opts.MaxStaleness+s.opts.Timeout, r.now()) {
				err = errors.Errorf("%s fix rejected: accuracy %.0fm captured %s", s.source, c.Accuracy, c.CapturedAt.Format(time.RFC3339))
			}
			results <- outcome{source: s.source, fix: c, err: err}
			// a refusal cancels the sibling strategy too
			if errors.Is(err, ErrPermissionDenied) {
				return err
			}
			return nil
		})
	}
	var lastErr error
	for pending := 2; pending > 0; {
		select {
		case o := <-results:
			pending--
			if o.err == nil {
				cancel()
				r.cache.Store(o.fix)
				r.metrics.RecordStrategy(string(o.source), "won")
				r.metrics.RecordResolve(string(o.source), r.now().Sub(start))
				r.log.Debug("location resolved", zap.String("source", string(o.source)),
					zap.Float64("accuracy", o.fix.Accuracy), zap.Duration("elapsed", r.now().Sub(start)))
				return Fix{Coordinate: o.fix, Source: o.source}, nil
			}
			r.metrics.RecordStrategy(string(o.source), "failed")
			r.log.Debug("location strategy failed", zap.String("source", string(o.source)), zap.Error(o.err))
			if errors.Is(o.err, ErrPermissionDenied) {
				cancel()
				r.metrics.RecordResolve("permission_denied", r.now().Sub(start))
				return Fix{}, errors.Wrap(o.err, "resolve location")
			}
			lastErr = o.err
		case <-raceCtx.Done():
			pending = 0
			if lastErr == nil {
				lastErr = raceCtx.Err()
			}
		}
	}
	if ctx.Err() != nil {
		return Fix{}, errors.Wrap(ctx.Err(), "resolve location")
	}
	if c, ok := r.cache.Load(); ok {
		r.metrics.RecordResolve(string(SourceLastKnown), r.now().Sub(start))
		r.log.Debug("location degraded to last known fix", zap.Time("capturedAt", c.CapturedAt), zap.NamedError("cause", lastErr))
		return Fix{Coordinate: c, Source: SourceLastKnown, Degraded: true}, nil
	}
	r.metrics.RecordResolve("unavailable", r.now().Sub(start))
	return Fix{}, errors.WrapCode(lastErr, errors.CodeLocationUnavailable, ErrLocationUnavailable.Message)
}

// reap waits for the losers of a settled race in the background.
func (r *Resolver) reap(g *errgroup.Group) {
	r.races.Add(1)
	go func() {
		defer r.races.Done()
		if err := g.Wait(); err != nil {
			r.log.Debug("location race ended", zap.Error(err))
		}
	}()
}

// Wait blocks until every strategy started by a settled Resolve has returned.
func (r *Resolver) Wait() { r.races.Wait() }

func (r *Resolver) acceptable(c Coordinate, maxAge time.Duration, now time.Time) bool {
	if !c.Valid() {
		return false
	}
	if r.cfg.MaxAccuracy > 0 && c.Accuracy > r.cfg.MaxAccuracy {
		return false
	}
	return now.Sub(c.CapturedAt) <= maxAge
}
