// Package trigger keeps a phrase-detection loop running while armed and
// hands matched transcripts to the alert lifecycle.
package trigger

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"Guardian/pkg/errors"
)

var ErrPermissionDenied = errors.Sentinel(errors.CodePermissionDenied, "microphone permission denied")

// Partial is one incremental transcript of a listening pass. A Partial with
// Err set ends the pass with that error.
type Partial struct {
	Text  string
	Final bool
	Err   error
}

// Recognizer is the speech capability. The returned channel is closed when
// the pass ends; cancelling ctx must stop capture.
type Recognizer interface {
	ListenOnce(ctx context.Context, lang string) (<-chan Partial, error)
}

// DefaultKeywords are matched in addition to the configured phrase.
var DefaultKeywords = []string{"help", "sos", "emergency"}

type Config struct {
	Lang     string
	Keywords []string
	// RestartDelay paces restarts after a failed pass. Completed passes restart immediately.
	RestartDelay time.Duration
}

// OnTrigger runs with the guard held; the detector releases it when OnTrigger returns.
type OnTrigger func(ctx context.Context, transcript string)

type Detector struct {
	rec   Recognizer
	guard *Guard
	cfg   Config
	log   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	phrase string
}

func NewDetector(rec Recognizer, guard *Guard, cfg Config, log *zap.Logger) *Detector {
	if cfg.Lang == "" {
		cfg.Lang = "en-US"
	}
	if cfg.Keywords == nil {
		cfg.Keywords = DefaultKeywords
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 250 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{rec: rec, guard: guard, cfg: cfg, log: log}
}

// Arm starts the listening loop, replacing any previous one.
func (d *Detector) Arm(phrase string, onTrigger OnTrigger, onFatal func(error)) error {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" && len(d.cfg.Keywords) == 0 {
		return errors.WithCode(errors.CodeTriggerEngine, "no trigger phrase configured")
	}
	d.Disarm()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.mu.Lock()
	d.cancel, d.done, d.phrase = cancel, done, phrase
	d.mu.Unlock()

	m := d.matcher(phrase)
	go func() {
		defer close(done)
		d.loop(ctx, done, m, onTrigger, onFatal)
	}()
	d.log.Info("trigger detection armed", zap.String("phrase", phrase), zap.String("lang", d.cfg.Lang))
	return nil
}

// Disarm stops capture and waits for the loop to exit. In-progress triggers keep running.
func (d *Detector) Disarm() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.log.Info("trigger detection disarmed")
}

func (d *Detector) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

func (d *Detector) Phrase() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phrase
}

// detach forgets the loop identified by done without waiting on it.
func (d *Detector) detach(done chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == done {
		d.cancel()
		d.cancel, d.done = nil, nil
	}
}

func (d *Detector) loop(ctx context.Context, done chan struct{}, m func(string) bool, onTrigger OnTrigger, onFatal func(error)) {
	for {
		// never open a pass while a trigger is being processed
		if err := d.guard.Wait(ctx); err != nil {
			return
		}
		err := d.pass(ctx, m, onTrigger)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			continue
		}
		if errors.Is(err, ErrPermissionDenied) {
			d.log.Warn("trigger detection stopped", zap.Error(err))
			d.detach(done)
			if onFatal != nil {
				onFatal(errors.WrapCode(err, errors.CodeTriggerEngine, "trigger detection stopped"))
			}
			return
		}
		d.log.Warn("listening pass failed, restarting", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.RestartDelay):
		}
	}
}

func (d *Detector) pass(ctx context.Context, m func(string) bool, onTrigger OnTrigger) error {
	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	partials, err := d.rec.ListenOnce(passCtx, d.cfg.Lang)
	if err != nil {
		return err
	}
	for {
		select {
		case <-passCtx.Done():
			return nil
		case p, ok := <-partials:
			if !ok {
				return nil
			}
			if p.Err != nil {
				return p.Err
			}
			if !m(p.Text) || !d.guard.TryAcquire() {
				continue
			}
			d.log.Info("trigger phrase detected", zap.String("transcript", p.Text))
			text := p.Text
			go func() {
				defer d.guard.Release()
				onTrigger(context.WithoutCancel(ctx), text)
			}()
		}
	}
}

// Matches reports whether transcript contains phrase or one of keywords, ignoring case.
func Matches(transcript, phrase string, keywords []string) bool {
	// a Caser is stateful, one per call
	fold := cases.Fold()
	t := fold.String(transcript)
	if p := strings.TrimSpace(phrase); p != "" && strings.Contains(t, fold.String(p)) {
		return true
	}
	for _, k := range keywords {
		if k != "" && strings.Contains(t, fold.String(k)) {
			return true
		}
	}
	return false
}

func (d *Detector) matcher(phrase string) func(string) bool {
	return func(text string) bool { return Matches(text, phrase, d.cfg.Keywords) }
}
