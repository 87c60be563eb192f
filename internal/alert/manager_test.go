package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Guardian/internal/channel"
	"Guardian/internal/geo"
	"Guardian/internal/updatelog"
	"Guardian/pkg/errors"
)

func TestTriggerCreatesAlertAndFansOut(t *testing.T) {
	h := newHarness(t, defaultSettings(alice, "BOB@example.com"), newStubProvider(10*time.Millisecond, here(), nil))

	var created atomic.Value
	h.signals.Connect(SignalAlertCreated, func(_ any, params ...any) { created.Store(params[0]) })

	a, err := h.m.ManualTrigger(context.Background(), "followed home")
	require.NoError(t, err)
	assert.True(t, a.IsLive)
	assert.Equal(t, "followed home", a.Reason)
	assert.Equal(t, ID(sender, a.CreatedAt), a.ID)
	assert.Equal(t, []string{alice, bob}, a.Recipients)
	require.NotNil(t, a.LastLocation)
	assert.Equal(t, 48.8584, a.LastLocation.Lat)

	st := h.m.Active()
	assert.Equal(t, PhaseActive, st.Phase)
	assert.Empty(t, st.Warning)
	assert.Equal(t, a.ID, st.Alert.ID)

	stored := h.persisted(t, a.ID)
	assert.True(t, stored.IsLive)
	assert.Equal(t, a.Recipients, stored.Recipients)

	alertRecs := h.records(t, channel.AlertChannel(a.ID))
	require.Len(t, alertRecs, 2)
	assert.Equal(t, updatelog.KindText, alertRecs[0].Kind)
	assert.Equal(t, updatelog.KindLocationPin, alertRecs[1].Kind)

	for _, r := range a.Recipients {
		recs := h.records(t, channel.DeriveChannel(sender, r))
		require.Len(t, recs, 1, r)
		assert.Equal(t, updatelog.KindLocationPin, recs[0].Kind)
		assert.Equal(t, sender, recs[0].SenderAddress)
	}

	require.NotNil(t, created.Load())
	assert.Equal(t, a.ID, created.Load().(*Alert).ID)
	assert.Equal(t, 1, h.provider.activeWatches(), "live location watch started")
}

func TestTriggerWithoutRecipients(t *testing.T) {
	for name, s := range map[string]StaticSettings{
		"none":      defaultSettings(),
		"only self": defaultSettings("ME@example.com", " "),
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, s, newStubProvider(0, here(), nil))
			a, err := h.m.ManualTrigger(context.Background(), "")
			assert.Nil(t, a)
			assert.ErrorIs(t, err, ErrNoRecipients)
			assert.True(t, errors.IsCode(err, errors.CodeNoRecipients))
			assert.Equal(t, PhaseIdle, h.m.Active().Phase)
			assert.False(t, h.guard.Held())
		})
	}
}

func TestTriggerProceedsWithoutLocation(t *testing.T) {
	h := newHarness(t, defaultSettings(alice), newStubProvider(0, geo.Coordinate{}, errors.New("no satellites")))
	a, err := h.m.ManualTrigger(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, a.IsLive)
	assert.Nil(t, a.LastLocation)
	assert.Equal(t, "panic button", a.Reason)
	assert.Equal(t, warnNoLocation, h.m.Active().Warning)

	recs := h.records(t, channel.DeriveChannel(sender, alice))
	require.Len(t, recs, 1)
	assert.Equal(t, updatelog.KindText, recs[0].Kind)
	assert.Contains(t, recs[0].Text, "location unavailable")
}

func TestTriggerPermissionDenied(t *testing.T) {
	h := newHarness(t, defaultSettings(alice), newStubProvider(0, geo.Coordinate{}, geo.ErrPermissionDenied))
	a, err := h.m.ManualTrigger(context.Background(), "")
	assert.Nil(t, a)
	assert.ErrorIs(t, err, geo.ErrPermissionDenied)
	assert.Equal(t, PhaseIdle, h.m.Active().Phase)
	assert.Empty(t, h.records(t, channel.DeriveChannel(sender, alice)))
}

func TestConcurrentTriggersCreateOneAlert(t *testing.T) {
	h := newHarness(t, defaultSettings(alice), newStubProvider(100*time.Millisecond, here(), nil))

	var wg sync.WaitGroup
	results := make([]*Alert, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = h.m.ManualTrigger(context.Background(), "first")
		}()
	}
	wg.Wait()

	var ok, suppressed int
	for i := range 2 {
		switch {
		case errs[i] == nil:
			ok++
		case errors.Is(errs[i], ErrTriggerInFlight):
			suppressed++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, suppressed)

	// once the first finished, a retry sees the same live alert
	again, err := h.m.ManualTrigger(context.Background(), "second")
	require.NoError(t, err)
	live := h.m.Active().Alert
	assert.Equal(t, live.ID, again.ID)
	assert.Equal(t, "first", again.Reason)
	assert.Len(t, h.records(t, channel.DeriveChannel(sender, alice)), 1)

	w := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `guardian_alerts_total{outcome="in_flight",source="manual"} 1`)
}

func TestCancelWinsOverInProgressTrigger(t *testing.T) {
	h := newHarness(t, defaultSettings(alice), newStubProvider(300*time.Millisecond, here(), nil),
		withConfig(func(c *Config) { c.ResolveDeadline = 2 * time.Second }))

	type result struct {
		a   *Alert
		err error
	}
	done := make(chan result, 1)
	go func() {
		a, err := h.m.ManualTrigger(context.Background(), "")
		done <- result{a, err}
	}()

	require.Eventually(t, func() bool { return h.m.Active().Phase == PhaseActive }, time.Second, time.Millisecond)
	id := h.m.Active().Alert.ID
	start := time.Now()
	require.NoError(t, h.m.CancelAlert(context.Background(), id))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, PhaseResolved, h.m.Active().Phase)

	r := <-done
	require.NoError(t, r.err)
	assert.False(t, r.a.IsLive)
	assert.False(t, h.persisted(t, id).IsLive)
	assert.Empty(t, h.records(t, channel.DeriveChannel(sender, alice)), "no fan-out after cancel")
	assert.False(t, h.guard.Held())
	assert.Zero(t, h.provider.activeWatches())
}

func TestCancelAgainstConcurrentLocationUpdates(t *testing.T) {
	for i := range 25 {
		h := newHarness(t, defaultSettings(alice), newStubProvider(0, here(), nil))
		a, err := h.m.ManualTrigger(context.Background(), "")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for j := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c := here()
				c.Lat += float64(i*10+j) / 1000
				c.CapturedAt = time.Now()
				_ = h.m.UpdateLocation(context.Background(), c)
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.m.CancelAlert(context.Background(), a.ID))
		}()
		wg.Wait()

		assert.False(t, h.persisted(t, a.ID).IsLive)
		got, err := h.m.Get(context.Background(), a.ID)
		require.NoError(t, err)
		assert.False(t, got.IsLive)
	}
}

func TestResolvedAlertIgnoresUpdates(t *testing.T) {
	h := newHarness(t, defaultSettings(alice), newStubProvider(0, here(), nil))
	a, err := h.m.ManualTrigger(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, h.m.CancelAlert(context.Background(), a.ID))
	require.NoError(t, h.m.CancelAlert(context.Background(), a.ID), "resolution is idempotent")

	before := h.records(t, a.Channel)
	c := here()
	c.CapturedAt = time.Now().Add(time.Minute)
	require.NoError(t, h.m.UpdateLocation(context.Background(), c))

	got, _ := h.m.Get(context.Background(), a.ID)
	assert.False(t, got.IsLive)
	assert.Equal(t, a.LastLocation.CapturedAt, got.LastLocation.CapturedAt)
	assert.Equal(t, before, h.records(t, a.Channel))

	_, err = h.m.PostMessage(context.Background(), a.Channel, "hello?")
	assert.ErrorIs(t, err, ErrAlertResolved)

	// a new emergency gets a new id
	next, err := h.m.ManualTrigger(context.Background(), "again")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, next.ID)
	assert.True(t, next.IsLive)
}

func TestCapturedAtNeverDecreases(t *testing.T) {
	h := newHarness(t, defaultSettings(alice), newStubProvider(0, here(), nil))
	a, err := h.m.ManualTrigger(context.Background(), "")
	require.NoError(t, err)

	newer := here()
	newer.Lat, newer.CapturedAt = 1, time.Now().Add(time.Second)
	older := here()
	older.Lat, older.CapturedAt = 2, time.Now().Add(-time.Hour)

	require.NoError(t, h.m.UpdateLocation(context.Background(), newer))
	require.NoError(t, h.m.UpdateLocation(context.Background(), older))

	got, _ := h.m.Get(context.Background(), a.ID)
	assert.Equal(t, 1.0, got.LastLocation.Lat)
	assert.Equal(t, 1.0, h.persisted(t, a.ID).LastLocation.Lat)
}

func TestWatchFixesStreamIntoAlertChannel(t *testing.T) {
	h := newHarness(t, defaultSettings(alice), newStubProvider(0, here(), nil))
	a, err := h.m.ManualTrigger(context.Background(), "")
	require.NoError(t, err)

	c := here()
	c.Lat, c.CapturedAt = 10, time.Now().Add(time.Second)
	h.provider.emit(c)

	got, _ := h.m.Get(context.Background(), a.ID)
	assert.Equal(t, 10.0, got.LastLocation.Lat)
	recs := h.records(t, a.Channel)
	last := recs[len(recs)-1]
	assert.Equal(t, updatelog.KindLocationPin, last.Kind)
	assert.Equal(t, 10.0, last.Pin.Lat)

	require.NoError(t, h.m.CancelAlert(context.Background(), a.ID))
	assert.Zero(t, h.provider.activeWatches(), "watch released on resolution")
}

func TestFanoutFailureIsIsolated(t *testing.T) {
	carol := "carol@example.com"
	failing := channel.Path(channel.DeriveChannel(sender, bob))
	h := newHarness(t, defaultSettings(alice, bob, carol), newStubProvider(0, here(), nil),
		withTransport(flakyTransport{Transport: newMemory(), fail: []string{failing}}))

	a, err := h.m.ManualTrigger(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, a.IsLive)
	assert.Len(t, h.records(t, channel.DeriveChannel(sender, alice)), 1)
	assert.Len(t, h.records(t, channel.DeriveChannel(sender, carol)), 1)
	assert.Empty(t, h.records(t, channel.DeriveChannel(sender, bob)))
}

func TestAlertRecordFailureIsFatal(t *testing.T) {
	h := newHarness(t, defaultSettings(alice), newStubProvider(0, here(), nil),
		withTransport(failingWrites{newMemory()}))
	a, err := h.m.ManualTrigger(context.Background(), "")
	assert.Nil(t, a)
	assert.True(t, errors.IsCode(err, errors.CodeChannelWrite))
	assert.Equal(t, PhaseIdle, h.m.Active().Phase)
	assert.Empty(t, h.records(t, channel.DeriveChannel(sender, alice)))
}

func TestCancelUnknownAlert(t *testing.T) {
	h := newHarness(t, defaultSettings(alice), newStubProvider(0, here(), nil))
	err := h.m.CancelAlert(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestPostMessage(t *testing.T) {
	h := newHarness(t, defaultSettings(alice, bob), newStubProvider(0, here(), nil))
	a, err := h.m.ManualTrigger(context.Background(), "")
	require.NoError(t, err)

	rec, err := h.m.PostMessage(context.Background(), a.Channel, "I'm near the station")
	require.NoError(t, err)
	assert.Equal(t, sender, rec.SenderAddress)

	// a guardian may write into the alert channel, a stranger may not
	_, err = h.m.Post(context.Background(), a.Channel, updatelog.NewText(bob, "Bob", "coming", time.Now()))
	require.NoError(t, err)
	_, err = h.m.Post(context.Background(), a.Channel, updatelog.NewText("eve@example.com", "Eve", "hi", time.Now()))
	assert.True(t, errors.IsCode(err, errors.CodeInvalidRecord))

	pair := channel.DeriveChannel(sender, alice)
	_, err = h.m.PostMessage(context.Background(), pair, "are you there?")
	require.NoError(t, err)
	assert.Len(t, h.records(t, pair), 2)

	_, err = h.m.PostMessage(context.Background(), channel.AlertChannel("missing"), "x")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestWatchNotifiesStateChanges(t *testing.T) {
	h := newHarness(t, defaultSettings(alice), newStubProvider(0, here(), nil))
	var mu sync.Mutex
	var phases []Phase
	cancel := h.m.Watch(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		if len(phases) == 0 || phases[len(phases)-1] != s.Phase {
			phases = append(phases, s.Phase)
		}
	})
	defer cancel()

	a, err := h.m.ManualTrigger(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, h.m.CancelAlert(context.Background(), a.ID))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Phase{PhaseIdle, PhaseActive, PhaseResolved}, phases)
}

func TestExpiryPolicy(t *testing.T) {
	var now atomic.Value
	now.Store(time.Now())
	clock := func() time.Time { return now.Load().(time.Time) }

	h := newHarness(t, defaultSettings(alice), newStubProvider(0, here(), nil),
		withConfig(func(c *Config) { c.Expiry = 5 * time.Minute }),
		withDeps(func(d *Deps) { d.Clock = clock }))
	a, err := h.m.ManualTrigger(context.Background(), "")
	require.NoError(t, err)

	expired, err := h.m.Expire(context.Background())
	require.NoError(t, err)
	assert.False(t, expired)

	now.Store(clock().Add(6 * time.Minute))
	expired, err = h.m.Expire(context.Background())
	require.NoError(t, err)
	assert.True(t, expired)
	assert.False(t, h.persisted(t, a.ID).IsLive)
}

func TestExpiryDisabledByDefault(t *testing.T) {
	h := newHarness(t, defaultSettings(alice), newStubProvider(0, here(), nil))
	_, err := h.m.ManualTrigger(context.Background(), "")
	require.NoError(t, err)
	expired, err := h.m.Expire(context.Background())
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Equal(t, PhaseActive, h.m.Active().Phase)
}

func TestCheckInTimer(t *testing.T) {
	h := newHarness(t, defaultSettings(alice), newStubProvider(0, here(), nil))

	_, err := h.m.StartCheckIn(30 * time.Millisecond)
	require.NoError(t, err)
	h.m.ConfirmCheckIn()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, PhaseIdle, h.m.Active().Phase)

	due, err := h.m.StartCheckIn(30 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, due, *h.m.Active().CheckInDue)
	require.Eventually(t, func() bool { return h.m.Active().Phase == PhaseActive }, time.Second, 5*time.Millisecond)
	st := h.m.Active()
	require.Eventually(t, func() bool { return h.m.Active().Alert.LastLocation != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, SourceTimer, st.Alert.Source)
	assert.Equal(t, "check-in missed", st.Alert.Reason)
	assert.Nil(t, st.CheckInDue)

	_, err = h.m.StartCheckIn(0)
	assert.Error(t, err)
}

func TestCancelDuringFanoutStaysTerminal(t *testing.T) {
	entered := make(chan struct{}, 1)
	pair := channel.Path(channel.DeriveChannel(sender, alice))
	h := newHarness(t, defaultSettings(alice), newStubProvider(0, here(), nil),
		withTransport(stallingTransport{Transport: newMemory(), match: pair, entered: entered}))
	signals := watchSignals(h)

	done := make(chan *Alert, 1)
	go func() {
		a, err := h.m.ManualTrigger(context.Background(), "")
		assert.NoError(t, err)
		done <- a
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("fan-out never started")
	}
	id := h.m.Active().Alert.ID
	require.NoError(t, h.m.CancelAlert(context.Background(), id))

	a := <-done
	require.NotNil(t, a)
	assert.False(t, a.IsLive)
	assert.Equal(t, PhaseResolved, h.m.Active().Phase)
	assert.Empty(t, signals.get(), "guardians never hear of an alert cancelled before broadcast")
	assert.Zero(t, h.provider.activeWatches())

	body := h.scrape()
	assert.Contains(t, body, "guardian_alerts_live 0")
	assert.Contains(t, body, `guardian_alerts_total{outcome="cancelled",source="manual"} 1`)
}

func TestSignalsFollowLifecycleOrder(t *testing.T) {
	h := newHarness(t, defaultSettings(alice), newStubProvider(0, here(), nil))
	signals := watchSignals(h)

	a, err := h.m.ManualTrigger(context.Background(), "")
	require.NoError(t, err)
	assert.Contains(t, h.scrape(), "guardian_alerts_live 1")
	require.NoError(t, h.m.CancelAlert(context.Background(), a.ID))
	require.NoError(t, h.m.CancelAlert(context.Background(), a.ID))

	assert.Equal(t, []string{SignalAlertCreated, SignalAlertResolved}, signals.get())
	assert.Contains(t, h.scrape(), "guardian_alerts_live 0")
}

func TestFanoutWithSeparatorInSenderAddress(t *testing.T) {
	me := "first_last@example.com"
	zed := "zed@example.com"
	settings := StaticSettings{SenderAddress: me, SenderName: "Me", Recipients: []Contact{{ID: "1", DisplayName: "Zed", Address: zed}}}
	h := newHarness(t, settings, newStubProvider(0, here(), nil))

	_, err := h.m.ManualTrigger(context.Background(), "")
	require.NoError(t, err)

	pair := channel.DeriveChannel(me, zed)
	recs := h.records(t, pair)
	require.Len(t, recs, 1)
	assert.Equal(t, updatelog.KindLocationPin, recs[0].Kind)
	assert.Equal(t, me, recs[0].SenderAddress)

	_, err = h.m.PostMessage(context.Background(), pair, "home soon")
	require.NoError(t, err)
	assert.Len(t, h.records(t, pair), 2)
}

func TestSameInstantTriggerReusesRecordedAlert(t *testing.T) {
	at := time.Date(2024, 5, 1, 22, 15, 0, 0, time.UTC)
	clock := func() time.Time { return at }
	shared := newMemory()

	first := newHarness(t, defaultSettings(alice), newStubProvider(0, here(), nil),
		withTransport(shared), withDeps(func(d *Deps) { d.Clock = clock }))
	a, err := first.m.ManualTrigger(context.Background(), "")
	require.NoError(t, err)

	// a second process replaying the same event
	second := newHarness(t, defaultSettings(alice), newStubProvider(0, here(), nil),
		withTransport(shared), withDeps(func(d *Deps) { d.Clock = clock }))
	b, err := second.m.ManualTrigger(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Len(t, second.records(t, channel.DeriveChannel(sender, alice)), 1)
}
