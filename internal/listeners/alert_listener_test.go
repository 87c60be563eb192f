package listeners

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"Guardian/internal/alert"
	"Guardian/internal/geo"
	"Guardian/internal/models"
	"Guardian/pkg/notification"
	"Guardian/pkg/util"
)

type recordingPush struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingPush) Push(_ context.Context, title, _ string, _ map[string]interface{}, _ map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func TestAlertSignalsReachGuardiansAndAudit(t *testing.T) {
	db, err := util.OpenDatabase("sqlite", filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	actions, err := models.NewActionLog(db)
	require.NoError(t, err)

	push := &recordingPush{}
	guardians := notification.NewGuardians(notification.NewJPush(notification.JPushConfig{}, push), nil, zaptest.NewLogger(t))
	sig := util.NewSignals()
	l := InitAlertListeners(sig, guardians, actions, zaptest.NewLogger(t))

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	resolved := created.Add(5 * time.Minute)
	a := &alert.Alert{
		ID: "a1", SenderName: "Alice", Reason: "SOS: help", Source: alert.SourceVoice,
		Recipients: []string{"bob@example.com"}, CreatedAt: created, IsLive: true,
		LastLocation: &geo.Coordinate{Lat: 1, Lng: 2, CapturedAt: created},
	}
	sig.Emit(alert.SignalAlertCreated, nil, a)
	l.Wait()

	done := *a
	done.IsLive, done.ResolvedAt = false, &resolved
	sig.Emit(alert.SignalAlertResolved, nil, &done)
	l.Wait()

	hist, err := actions.History(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, models.ActionRaised, hist[0].Action)
	assert.Equal(t, "voice", hist[0].Source)
	assert.True(t, hist[0].Located)
	assert.Equal(t, models.ActionResolved, hist[1].Action)
	assert.True(t, hist[1].ActionTime.Equal(resolved))

	assert.Equal(t, []string{"SOS from Alice", "Alice is safe"}, push.titles)
}

func TestListenersIgnoreForeignPayloads(t *testing.T) {
	sig := util.NewSignals()
	l := InitAlertListeners(sig, nil, nil, nil)
	sig.Emit(alert.SignalAlertCreated, nil)
	sig.Emit(alert.SignalAlertCreated, nil, "not an alert")
	sig.Emit(alert.SignalAlertResolved, nil, &alert.Alert{ID: "x"})
	l.Wait()
}
