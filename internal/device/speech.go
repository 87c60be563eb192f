package device

import (
	"context"
	"sync"

	"Guardian/internal/trigger"
)

// TranscriptFeed is a trigger.Recognizer fed with transcripts pushed by the
// device's on-board recognizer. A pass stays open until a final transcript,
// an error or cancellation.
type TranscriptFeed struct {
	mu     sync.Mutex
	pass   chan trigger.Partial
	denied bool
}

func NewTranscriptFeed() *TranscriptFeed {
	return &TranscriptFeed{}
}

func (f *TranscriptFeed) ListenOnce(ctx context.Context, _ string) (<-chan trigger.Partial, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied {
		return nil, trigger.ErrPermissionDenied
	}
	f.closeLocked()
	ch := make(chan trigger.Partial, 16)
	f.pass = ch
	context.AfterFunc(ctx, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.pass == ch {
			f.closeLocked()
		}
	})
	return ch, nil
}

// Push delivers a transcript to the open pass. It reports false when no pass is listening.
func (f *TranscriptFeed) Push(text string, final bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pass == nil {
		return false
	}
	select {
	case f.pass <- trigger.Partial{Text: text, Final: final}:
	default:
		// a full buffer means the detector is busy; newer text supersedes
		return false
	}
	if final {
		f.closeLocked()
	}
	return true
}

// SetPermission reports the microphone permission. Revoking it ends the open pass with an error.
func (f *TranscriptFeed) SetPermission(granted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied = !granted
	if !granted && f.pass != nil {
		select {
		case f.pass <- trigger.Partial{Err: trigger.ErrPermissionDenied}:
		default:
		}
		f.closeLocked()
	}
}

// Listening reports whether a pass is open.
func (f *TranscriptFeed) Listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pass != nil
}

func (f *TranscriptFeed) closeLocked() {
	if f.pass != nil {
		close(f.pass)
		f.pass = nil
	}
}
