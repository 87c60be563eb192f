package listeners

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"Guardian/internal/alert"
	"Guardian/internal/models"
	"Guardian/pkg/notification"
	"Guardian/pkg/util"
)

const notifyTimeout = 15 * time.Second

// AlertListeners forwards alert lifecycle signals to guardians and the audit log.
// Work runs off the emitting goroutine; Wait blocks until it drains.
type AlertListeners struct {
	guardians *notification.Guardians
	actions   *models.ActionLog
	log       *zap.Logger
	wg        sync.WaitGroup
}

// InitAlertListeners connects to sig. guardians and actions may be nil.
func InitAlertListeners(sig *util.Signals, guardians *notification.Guardians, actions *models.ActionLog, log *zap.Logger) *AlertListeners {
	if log == nil {
		log = zap.NewNop()
	}
	l := &AlertListeners{guardians: guardians, actions: actions, log: log}
	sig.Connect(alert.SignalAlertCreated, func(_ any, params ...any) {
		if a := alertOf(params); a != nil {
			l.dispatch(a, models.ActionRaised)
		}
	})
	sig.Connect(alert.SignalAlertResolved, func(_ any, params ...any) {
		if a := alertOf(params); a != nil {
			l.dispatch(a, models.ActionResolved)
		}
	})
	return l
}

func alertOf(params []any) *alert.Alert {
	if len(params) == 0 {
		return nil
	}
	a, _ := params[0].(*alert.Alert)
	return a
}

func (l *AlertListeners) dispatch(a *alert.Alert, action string) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if l.actions != nil {
			rec := models.AlertAction{
				AlertID:    a.ID,
				Action:     action,
				Source:     string(a.Source),
				Recipients: len(a.Recipients),
				Located:    a.LastLocation != nil,
			}
			if action == models.ActionResolved && a.ResolvedAt != nil {
				rec.ActionTime = *a.ResolvedAt
			} else {
				rec.ActionTime = a.CreatedAt
			}
			if err := l.actions.Record(ctx, rec); err != nil {
				l.log.Warn("record alert action failed", zap.String("alert", a.ID), zap.Error(err))
			}
		}

		n := notification.Notice{
			AlertID:    a.ID,
			SenderName: a.SenderName,
			Reason:     a.Reason,
			Recipients: a.Recipients,
			Resolved:   action == models.ActionResolved,
		}
		if loc := a.LastLocation; loc != nil {
			n.Lat, n.Lng = &loc.Lat, &loc.Lng
		}
		// Notify logs its own failures
		_ = l.guardians.Notify(ctx, n)
	}()
}

func (l *AlertListeners) Wait() { l.wg.Wait() }
