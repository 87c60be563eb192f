package alert

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"Guardian/pkg/errors"
)

// ArmDetection starts voice detection. An empty phrase uses the phrase from settings.
func (m *Manager) ArmDetection(ctx context.Context, phrase string) error {
	if m.deps.Detector == nil {
		return errors.WithCode(errors.CodeTriggerEngine, "voice detection is not available")
	}
	if strings.TrimSpace(phrase) == "" {
		s, err := m.deps.Settings.Snapshot(ctx)
		if err != nil {
			return errors.Wrap(err, "load settings")
		}
		phrase = s.TriggerPhrase
	}

	// set before arming so an immediate fatal error is not overwritten
	m.mu.Lock()
	m.detection = Detection{Armed: true, Phrase: strings.TrimSpace(phrase)}
	m.mu.Unlock()

	err := m.deps.Detector.Arm(phrase,
		func(ctx context.Context, transcript string) {
			// the detector holds the guard for us
			if _, err := m.trigger(ctx, SourceVoice, transcript); err != nil {
				m.log.Warn("voice trigger failed", zap.Error(err))
			}
		},
		func(err error) {
			m.log.Error("voice detection stopped", zap.Error(err))
			m.mu.Lock()
			m.detection = Detection{Error: err.Error()}
			m.mu.Unlock()
			m.notify()
		},
	)
	if err != nil {
		m.mu.Lock()
		m.detection = Detection{}
		m.mu.Unlock()
		return err
	}
	m.notify()
	return nil
}

func (m *Manager) DisarmDetection() {
	if m.deps.Detector != nil {
		m.deps.Detector.Disarm()
	}
	m.mu.Lock()
	m.detection = Detection{}
	m.mu.Unlock()
	m.notify()
}
