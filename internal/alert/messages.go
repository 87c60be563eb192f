package alert

import (
	"context"

	"Guardian/internal/channel"
	"Guardian/internal/updatelog"
	"Guardian/pkg/errors"
)

// PostMessage appends a chat message from this device's user to key.
func (m *Manager) PostMessage(ctx context.Context, key, text string) (updatelog.Record, error) {
	s, err := m.deps.Settings.Snapshot(ctx)
	if err != nil {
		return updatelog.Record{}, errors.Wrap(err, "load settings")
	}
	return m.Post(ctx, key, updatelog.NewText(channel.Normalize(s.SenderAddress), s.SenderName, text, m.now()))
}

// Post appends rec to key. On an alert channel the sender must be the
// alert's sender or one of its guardians, and the alert must still be live.
func (m *Manager) Post(ctx context.Context, key string, rec updatelog.Record) (updatelog.Record, error) {
	if id, ok := channel.AlertIDOf(key); ok {
		a, err := m.Get(ctx, id)
		if err != nil {
			return updatelog.Record{}, err
		}
		if !a.IsLive {
			return updatelog.Record{}, errors.Wrap(ErrAlertResolved, id)
		}
		if !a.Involves(rec.SenderAddress) {
			return updatelog.Record{}, errors.WithCodef(errors.CodeInvalidRecord, "%s is not part of alert %s", rec.SenderAddress, id)
		}
	}
	return m.deps.Updates.Append(ctx, key, rec)
}

// Read returns the ordered records of key.
func (m *Manager) Read(ctx context.Context, key string) ([]updatelog.Record, error) {
	return m.deps.Updates.Read(ctx, key)
}

// Subscribe delivers the full ordered record set of key on every change.
func (m *Manager) Subscribe(ctx context.Context, key string, onChange func([]updatelog.Record)) (func(), error) {
	return m.deps.Updates.Subscribe(ctx, key, onChange)
}
