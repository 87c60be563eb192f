package alert

import "context"

// SettingsSource is the contacts/settings store.
type SettingsSource interface {
	Snapshot(ctx context.Context) (Settings, error)
}

// StaticSettings serves a fixed snapshot.
type StaticSettings Settings

func (s StaticSettings) Snapshot(context.Context) (Settings, error) {
	out := Settings(s)
	out.Recipients = append([]Contact(nil), s.Recipients...)
	return out, nil
}
