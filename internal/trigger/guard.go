package trigger

import (
	"context"
	"sync"
)

// Guard is the single in-flight flag shared by the detector and the alert
// manager. The holder must Release on every exit path.
type Guard struct {
	mu   sync.Mutex
	held bool
	free chan struct{}
}

// TryAcquire sets the flag if it is clear.
func (g *Guard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return false
	}
	g.held = true
	g.free = make(chan struct{})
	return true
}

// Release clears the flag and wakes waiters. Releasing a clear guard is a no-op.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return
	}
	g.held = false
	close(g.free)
}

func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Wait blocks until the guard is clear or ctx is done.
func (g *Guard) Wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.held {
		g.mu.Unlock()
		return nil
	}
	free := g.free
	g.mu.Unlock()
	select {
	case <-free:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
