package alert

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"Guardian/internal/channel"
	"Guardian/internal/geo"
	"Guardian/internal/updatelog"
	"Guardian/pkg/errors"
)

const (
	warnNoLocation    = "alert sent without location"
	warnStaleLocation = "alert sent with last known location"
	warnWatchStopped  = "live location stopped: permission denied"
)

// TriggerSOS raises an alert. The in-flight guard is taken before any work,
// so a concurrent trigger fails with ErrTriggerInFlight instead of creating a
// second alert. While an alert is active the existing alert is returned.
func (m *Manager) TriggerSOS(ctx context.Context, source Source, reason string) (*Alert, error) {
	if !m.deps.Guard.TryAcquire() {
		m.metrics.RecordAlert(string(source), "in_flight")
		m.log.Info("trigger suppressed while another is in flight", zap.String("source", string(source)))
		return nil, errors.Wrap(ErrTriggerInFlight, "trigger sos")
	}
	defer m.deps.Guard.Release()
	return m.trigger(ctx, source, reason)
}

// ManualTrigger is the panic button.
func (m *Manager) ManualTrigger(ctx context.Context, reason string) (*Alert, error) {
	return m.TriggerSOS(ctx, SourceManual, reason)
}

// trigger runs with the guard held by the caller.
func (m *Manager) trigger(ctx context.Context, source Source, reason string) (*Alert, error) {
	m.mu.Lock()
	if m.phase == PhaseActive && m.current != nil {
		existing := m.current.clone()
		m.mu.Unlock()
		m.metrics.RecordAlert(string(source), "existing")
		return existing, nil
	}
	m.mu.Unlock()

	settings, err := m.deps.Settings.Snapshot(ctx)
	if err != nil {
		m.metrics.RecordAlert(string(source), "failed")
		return nil, errors.Wrap(err, "load settings")
	}
	recipients := settings.recipientAddresses()
	if len(recipients) == 0 {
		m.metrics.RecordAlert(string(source), "no_recipients")
		return nil, errors.Wrap(ErrNoRecipients, "trigger sos")
	}

	createdAt := m.now().UTC()
	a := &Alert{
		ID:            ID(settings.SenderAddress, createdAt),
		SenderAddress: channel.Normalize(settings.SenderAddress),
		SenderName:    settings.SenderName,
		CreatedAt:     createdAt,
		Reason:        displayReason(source, reason),
		IsLive:        true,
		Recipients:    recipients,
		Source:        source,
	}
	a.Channel = channel.AlertChannel(a.ID)
	if prior, ok := m.loadPersisted(ctx, a.ID); ok {
		// same sender and same instant, e.g. a replayed clock
		m.metrics.RecordAlert(string(source), "existing")
		return prior, nil
	}

	// writes that make up the alert must survive the caller going away
	wctx := context.WithoutCancel(ctx)
	tctx, abort := context.WithCancel(ctx)
	defer abort()

	m.mu.Lock()
	m.phase, m.current, m.abort, m.warning = PhaseActive, a, abort, ""
	m.mu.Unlock()
	m.notify()

	fix, err := m.deps.Resolver.Resolve(tctx, m.cfg.ResolveDeadline)
	warning := ""
	switch {
	case err == nil && fix.Degraded:
		warning = warnStaleLocation
	case err == nil:
	case errors.Is(err, geo.ErrPermissionDenied):
		m.rollback(a.ID)
		m.metrics.RecordAlert(string(source), "permission_denied")
		return nil, errors.Wrap(err, "trigger sos")
	default:
		warning = warnNoLocation
		m.log.Warn("alert raised without location", zap.String("alert", a.ID), zap.Error(err))
	}

	m.mu.Lock()
	if err == nil && a.IsLive {
		loc := fix.Coordinate
		a.LastLocation = &loc
	}
	m.warning = warning
	live := a.IsLive
	m.mu.Unlock()

	if err := m.persist(wctx, a.ID); err != nil {
		m.rollback(a.ID)
		m.metrics.RecordAlert(string(source), "failed")
		return nil, err
	}

	if !live {
		return m.cancelledBeforeBroadcast(source, a.ID), nil
	}

	snap := m.snapshot(a.ID)
	m.writeInitial(tctx, snap)
	m.fanOut(tctx, snap)
	m.startWatch(a.ID)

	// a cancel may have landed during fan-out; it stays terminal
	m.emitMu.Lock()
	if !m.isLive(a.ID) {
		m.emitMu.Unlock()
		return m.cancelledBeforeBroadcast(source, a.ID), nil
	}
	m.raised = a.ID
	m.deps.Signals.Emit(SignalAlertCreated, m, m.snapshot(a.ID))
	m.metrics.SetLive(1)
	m.emitMu.Unlock()

	m.metrics.RecordAlert(string(source), "created")
	m.log.Info("alert raised",
		zap.String("alert", a.ID),
		zap.String("source", string(source)),
		zap.Int("recipients", len(recipients)),
		zap.Bool("located", snap.LastLocation != nil))
	m.notify()
	return m.snapshot(a.ID), nil
}

func (m *Manager) cancelledBeforeBroadcast(source Source, id string) *Alert {
	m.metrics.RecordAlert(string(source), "cancelled")
	m.log.Info("alert resolved before it was broadcast", zap.String("alert", id))
	m.notify()
	return m.snapshot(id)
}

func (m *Manager) snapshot(id string) *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(id)
}

// rollback returns to Idle when the alert was never recorded.
func (m *Manager) rollback(id string) {
	m.mu.Lock()
	if m.current != nil && m.current.ID == id {
		m.phase, m.current, m.abort, m.warning = PhaseIdle, nil, nil, ""
	}
	m.mu.Unlock()
	m.notify()
}

// writeInitial opens the alert channel with the reason and, when known, the first pin.
func (m *Manager) writeInitial(ctx context.Context, a *Alert) {
	key := a.Channel
	records := []updatelog.Record{updatelog.NewText(a.SenderAddress, a.SenderName, "SOS: "+a.Reason, a.CreatedAt)}
	if a.LastLocation != nil {
		records = append(records, updatelog.NewLocationPin(a.SenderAddress, a.SenderName, *a.LastLocation, a.CreatedAt.Add(time.Millisecond)))
	}
	for _, rec := range records {
		if _, err := m.deps.Updates.Append(ctx, key, rec); err != nil {
			m.log.Warn("write alert channel failed", zap.String("alert", a.ID), zap.String("channel", key), zap.Error(err))
		}
	}
}

// fanOut appends the first pin to every guardian's pairwise channel in
// parallel. A failed branch is logged and never affects the others.
func (m *Manager) fanOut(ctx context.Context, a *Alert) {
	var g errgroup.Group
	g.SetLimit(8)
	for _, r := range a.Recipients {
		g.Go(func() error {
			key := channel.DeriveChannel(a.SenderAddress, r)
			var rec updatelog.Record
			if a.LastLocation != nil {
				rec = updatelog.NewLocationPin(a.SenderAddress, a.SenderName, *a.LastLocation, a.CreatedAt)
			} else {
				rec = updatelog.NewText(a.SenderAddress, a.SenderName, "SOS: "+a.Reason+" (location unavailable)", a.CreatedAt)
			}
			fctx, cancel := context.WithTimeout(ctx, m.cfg.FanoutTimeout)
			defer cancel()
			if _, err := m.deps.Updates.Append(fctx, key, rec); err != nil {
				m.metrics.RecordFanoutFailure()
				m.log.Warn("fan-out to guardian failed",
					zap.String("alert", a.ID),
					zap.String("recipient", r),
					zap.String("channel", key),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) startWatch(id string) {
	wid, err := m.deps.Resolver.StartWatch(
		func(c geo.Coordinate) { m.onWatchFix(id, c) },
		func(err error) { m.onWatchError(id, err) },
	)
	if err != nil {
		m.log.Warn("live location unavailable", zap.String("alert", id), zap.Error(err))
		return
	}
	m.mu.Lock()
	if m.current == nil || m.current.ID != id || !m.current.IsLive {
		m.mu.Unlock()
		m.deps.Resolver.StopWatch(wid)
		return
	}
	m.watchID = wid
	m.mu.Unlock()
}

func (m *Manager) onWatchFix(id string, c geo.Coordinate) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.FanoutTimeout)
	defer cancel()
	if err := m.updateLocation(ctx, id, c); err != nil {
		m.log.Warn("live location update failed", zap.String("alert", id), zap.Error(err))
	}
}

func (m *Manager) onWatchError(id string, err error) {
	m.log.Warn("live location stopped", zap.String("alert", id), zap.Error(err))
	m.mu.Lock()
	if m.current != nil && m.current.ID == id {
		m.watchID = ""
		m.warning = warnWatchStopped
	}
	m.mu.Unlock()
	m.notify()
}

// UpdateLocation feeds a fix into the active alert. It is a no-op when no
// alert is live or when c is older than the alert's current location.
func (m *Manager) UpdateLocation(ctx context.Context, c geo.Coordinate) error {
	m.mu.Lock()
	var id string
	if m.current != nil {
		id = m.current.ID
	}
	m.mu.Unlock()
	if id == "" {
		return nil
	}
	return m.updateLocation(ctx, id, c)
}

func (m *Manager) updateLocation(ctx context.Context, id string, c geo.Coordinate) error {
	if !c.Valid() {
		return nil
	}
	m.mu.Lock()
	a := m.current
	if a == nil || a.ID != id || !a.IsLive {
		m.mu.Unlock()
		return nil
	}
	if a.LastLocation != nil && c.CapturedAt.Before(a.LastLocation.CapturedAt) {
		m.mu.Unlock()
		return nil
	}
	loc := c
	a.LastLocation = &loc
	sender, name, key := a.SenderAddress, a.SenderName, a.Channel
	m.mu.Unlock()

	if err := m.persist(ctx, id); err != nil {
		return err
	}
	if !m.isLive(id) {
		return nil
	}
	if _, err := m.deps.Updates.Append(ctx, key, updatelog.NewLocationPin(sender, name, c, c.CapturedAt)); err != nil {
		return err
	}
	m.notify()
	return nil
}

func (m *Manager) isLive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.ID == id && m.current.IsLive
}

// CancelAlert is the "I am safe" action. It wins against an in-progress
// trigger or location update, is irreversible and idempotent.
func (m *Manager) CancelAlert(ctx context.Context, id string) error {
	m.mu.Lock()
	a := m.current
	if a == nil || a.ID != id {
		_, known := m.history.Get(id)
		m.mu.Unlock()
		if known {
			return nil
		}
		return m.cancelPersisted(ctx, id)
	}
	if !a.IsLive {
		m.mu.Unlock()
		return nil
	}
	now := m.now().UTC()
	a.IsLive = false
	a.ResolvedAt = &now
	m.phase = PhaseResolved
	abort, wid := m.abort, m.watchID
	m.abort, m.watchID = nil, ""
	m.stopCheckInLocked()
	snap := a.clone()
	m.history.Add(id, snap)
	m.mu.Unlock()

	if abort != nil {
		abort()
	}
	if wid != "" {
		m.deps.Resolver.StopWatch(wid)
	}

	wctx := context.WithoutCancel(ctx)
	err := m.persist(wctx, id)
	safe := updatelog.NewText(snap.SenderAddress, snap.SenderName, "I am safe", now)
	if _, aerr := m.deps.Updates.Append(wctx, snap.Channel, safe); aerr != nil {
		m.log.Warn("write alert channel failed", zap.String("alert", id), zap.Error(aerr))
	}

	// guardians only hear of a resolution after they heard of the alert
	m.emitMu.Lock()
	if m.raised == id {
		m.raised = ""
		m.deps.Signals.Emit(SignalAlertResolved, m, snap)
		m.metrics.SetLive(0)
	}
	m.emitMu.Unlock()
	m.log.Info("alert resolved", zap.String("alert", id), zap.Duration("duration", now.Sub(snap.CreatedAt)))
	m.notify()
	return err
}

// cancelPersisted resolves an alert this process no longer holds in memory.
func (m *Manager) cancelPersisted(ctx context.Context, id string) error {
	a, ok := m.loadPersisted(ctx, id)
	if !ok {
		return errors.Wrap(ErrAlertNotFound, id)
	}
	if !a.IsLive {
		return nil
	}
	now := m.now().UTC()
	a.IsLive = false
	a.ResolvedAt = &now
	m.mu.Lock()
	m.history.Add(id, a.clone())
	m.mu.Unlock()
	if err := m.persist(context.WithoutCancel(ctx), id); err != nil {
		return err
	}
	m.deps.Signals.Emit(SignalAlertResolved, m, a)
	return nil
}

// Expire applies the optional auto-expiry policy. It reports whether an alert was resolved.
func (m *Manager) Expire(ctx context.Context) (bool, error) {
	if m.cfg.Expiry <= 0 {
		return false, nil
	}
	m.mu.Lock()
	a := m.current
	expired := a != nil && a.IsLive && m.now().Sub(a.CreatedAt) >= m.cfg.Expiry
	var id string
	if expired {
		id = a.ID
	}
	m.mu.Unlock()
	if !expired {
		return false, nil
	}
	m.log.Info("alert expired", zap.String("alert", id), zap.Duration("policy", m.cfg.Expiry))
	return true, m.CancelAlert(ctx, id)
}
