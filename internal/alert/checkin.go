package alert

import (
	"context"
	"time"

	"go.uber.org/zap"

	"Guardian/pkg/errors"
	"Guardian/pkg/scheduler"
)

// StartCheckIn raises a timer alert unless ConfirmCheckIn is called within d.
// Starting again replaces the running timer.
func (m *Manager) StartCheckIn(d time.Duration) (time.Time, error) {
	if d <= 0 {
		return time.Time{}, errors.New("check-in interval must be positive")
	}
	due := m.now().Add(d)

	m.mu.Lock()
	m.stopCheckInLocked()
	m.checkInGen++
	gen := m.checkInGen
	m.checkInDue = &due
	m.checkInStop = m.deps.Scheduler.OnceAfter(d, scheduler.FuncJob(func(ctx context.Context) {
		m.mu.Lock()
		if m.checkInGen != gen {
			m.mu.Unlock()
			return
		}
		m.checkInStop, m.checkInDue = nil, nil
		m.mu.Unlock()

		m.log.Warn("check-in missed", zap.Time("due", due))
		if _, err := m.TriggerSOS(ctx, SourceTimer, ""); err != nil {
			m.log.Error("check-in alert failed", zap.Error(err))
		}
	}))
	m.mu.Unlock()
	m.notify()
	return due, nil
}

// ConfirmCheckIn cancels the pending check-in timer.
func (m *Manager) ConfirmCheckIn() {
	m.mu.Lock()
	m.stopCheckInLocked()
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) stopCheckInLocked() {
	if m.checkInStop != nil {
		m.checkInStop()
	}
	m.checkInGen++
	m.checkInStop, m.checkInDue = nil, nil
}
