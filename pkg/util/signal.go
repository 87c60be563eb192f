package util

import "sync"

// SigHandler receives the emitting object and any extra params.
type SigHandler func(sender any, params ...any)

// Signals is a small synchronous event bus. Handlers run in Connect order on the emitter's goroutine.
type Signals struct {
	mu       sync.RWMutex
	handlers map[string][]SigHandler
}

func NewSignals() *Signals {
	return &Signals{handlers: make(map[string][]SigHandler)}
}

func (s *Signals) Connect(sig string, fn SigHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[sig] = append(s.handlers[sig], fn)
}

func (s *Signals) Emit(sig string, sender any, params ...any) {
	if s == nil {
		return
	}
	s.mu.RLock()
	hs := append([]SigHandler(nil), s.handlers[sig]...)
	s.mu.RUnlock()
	for _, h := range hs {
		h(sender, params...)
	}
}

// Clear 移除所有监听
func (s *Signals) Clear() {
	s.mu.Lock()
	s.handlers = make(map[string][]SigHandler)
	s.mu.Unlock()
}
