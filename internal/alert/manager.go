package alert

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"Guardian/internal/channel"
	"Guardian/internal/geo"
	"Guardian/internal/trigger"
	"Guardian/internal/updatelog"
	"Guardian/pkg/errors"
	"Guardian/pkg/metrics"
	"Guardian/pkg/pubsub"
	"Guardian/pkg/scheduler"
	"Guardian/pkg/util"
)

// 信号
const (
	SignalAlertCreated  = "alert.created"
	SignalAlertResolved = "alert.resolved"
)

type Config struct {
	// ResolveDeadline bounds the location race at trigger time. Default 3s.
	ResolveDeadline time.Duration
	// FanoutTimeout bounds each guardian channel write. Default 10s.
	FanoutTimeout time.Duration
	// Expiry resolves live alerts older than this when Expire runs. Zero keeps alerts live until the user is safe.
	Expiry time.Duration
	// History is how many resolved alerts stay in memory. Default 64.
	History int
}

// Deps are the collaborators of a Manager. Detector, Signals and Metrics may be nil.
type Deps struct {
	Resolver  *geo.Resolver
	Updates   updatelog.Log
	Store     pubsub.Transport
	Settings  SettingsSource
	Guard     *trigger.Guard
	Detector  *trigger.Detector
	Scheduler *scheduler.Scheduler
	Signals   *util.Signals
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Manager owns the lifecycle of the device's alerts: Idle, Active, Resolved.
// At most one alert is active at a time.
type Manager struct {
	cfg     Config
	deps    Deps
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// serializes alert record writes; each write takes the newest snapshot
	persistMu sync.Mutex

	// orders the created and resolved signals; raised is the alert whose
	// created signal went out
	emitMu sync.Mutex
	raised string

	mu          sync.Mutex
	phase       Phase
	current     *Alert
	abort       context.CancelFunc
	watchID     geo.WatchID
	warning     string
	detection   Detection
	checkInDue  *time.Time
	checkInStop func()
	checkInGen  int
	watchers    map[int]func(State)
	nextWatcher int
	history     *lru.Cache[string, *Alert]
}

func NewManager(cfg Config, d Deps) *Manager {
	if cfg.ResolveDeadline <= 0 {
		cfg.ResolveDeadline = 3 * time.Second
	}
	if cfg.FanoutTimeout <= 0 {
		cfg.FanoutTimeout = 10 * time.Second
	}
	if cfg.History <= 0 {
		cfg.History = 64
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Guard == nil {
		d.Guard = &trigger.Guard{}
	}
	if d.Scheduler == nil {
		d.Scheduler = scheduler.New()
	}
	history, _ := lru.New[string, *Alert](cfg.History)
	return &Manager{
		cfg:      cfg,
		deps:     d,
		log:      d.Logger,
		metrics:  d.Metrics,
		now:      d.Clock,
		phase:    PhaseIdle,
		watchers: make(map[int]func(State)),
		history:  history,
	}
}

// Active returns the current state.
func (m *Manager) Active() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	s := State{Phase: m.phase, Alert: m.current.clone(), Detection: m.detection, Warning: m.warning}
	if m.checkInDue != nil {
		due := *m.checkInDue
		s.CheckInDue = &due
	}
	return s
}

// Watch calls fn with the current state and again after every change.
func (m *Manager) Watch(fn func(State)) (cancel func()) {
	m.mu.Lock()
	id := m.nextWatcher
	m.nextWatcher++
	m.watchers[id] = fn
	s := m.stateLocked()
	m.mu.Unlock()
	fn(s)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	s := m.stateLocked()
	fns := make([]func(State), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Get returns an alert known to this device, live or resolved.
func (m *Manager) Get(ctx context.Context, id string) (*Alert, error) {
	m.mu.Lock()
	a := m.lookupLocked(id)
	m.mu.Unlock()
	if a != nil {
		return a, nil
	}
	if a, ok := m.loadPersisted(ctx, id); ok {
		return a, nil
	}
	return nil, errors.Wrap(ErrAlertNotFound, id)
}

func (m *Manager) lookupLocked(id string) *Alert {
	if m.current != nil && m.current.ID == id {
		return m.current.clone()
	}
	if a, ok := m.history.Get(id); ok {
		return a.clone()
	}
	return nil
}

// persist writes the newest snapshot of alert id. Because the snapshot is
// taken under persistMu, the last write always carries the final IsLive.
func (m *Manager) persist(ctx context.Context, id string) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	snap := m.lookupLocked(id)
	m.mu.Unlock()
	if snap == nil {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode alert")
	}
	if err := m.deps.Store.Write(ctx, channel.AlertPath(id), data); err != nil {
		return errors.WrapCode(err, errors.CodeChannelWrite, "write alert record").WithContext("alert", id)
	}
	return nil
}

func (m *Manager) loadPersisted(ctx context.Context, id string) (*Alert, bool) {
	data, ok, err := m.deps.Store.Read(ctx, channel.AlertPath(id))
	if err != nil || !ok {
		return nil, false
	}
	var a Alert
	if err := json.Unmarshal(data, &a); err != nil {
		m.log.Warn("undecodable alert record", zap.String("alert", id), zap.Error(err))
		return nil, false
	}
	return &a, true
}

// Close stops detection, the check-in timer and the location watch.
func (m *Manager) Close() {
	if m.deps.Detector != nil {
		m.deps.Detector.Disarm()
	}
	m.mu.Lock()
	m.stopCheckInLocked()
	wid := m.watchID
	m.watchID = ""
	m.mu.Unlock()
	if wid != "" {
		m.deps.Resolver.StopWatch(wid)
	}
}
