package geo

import (
	"go.uber.org/zap"

	"Guardian/pkg/errors"
)

type watchHandle struct {
	id      WatchID
	ready   bool
	stopped bool
}

// StartWatch subscribes to continuous fixes. Every fix is offered to the
// shared cache before onFix sees it. Transient provider errors are logged and
// the watch continues; permission refusal stops the watch and is passed to onError.
func (r *Resolver) StartWatch(onFix func(Coordinate), onError func(error)) (WatchID, error) {
	h := &watchHandle{}
	active := func() bool {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return !h.stopped
	}

	id, err := r.provider.Watch(
		func(c Coordinate) {
			if !active() {
				return
			}
			r.cache.Store(c)
			if onFix != nil {
				onFix(c)
			}
		},
		func(err error) {
			if !active() {
				return
			}
			if errors.Is(err, ErrPermissionDenied) {
				r.log.Warn("location watch stopped: permission denied", zap.Error(err))
				r.release(h)
				if onError != nil {
					onError(err)
				}
				return
			}
			r.log.Warn("transient location watch error", zap.Error(err))
		},
	)
	if err != nil {
		return "", errors.Wrap(err, "start location watch")
	}

	r.mu.Lock()
	h.id, h.ready = id, true
	if h.stopped {
		// refused before the provider handed back an id
		r.mu.Unlock()
		r.provider.CancelWatch(id)
		return "", errors.Wrap(ErrPermissionDenied, "start location watch")
	}
	r.watches[id] = h
	r.mu.Unlock()
	return id, nil
}

// StopWatch releases the device subscription. Unknown ids are ignored.
func (r *Resolver) StopWatch(id WatchID) {
	r.mu.RLock()
	h := r.watches[id]
	r.mu.RUnlock()
	if h != nil {
		r.release(h)
	}
}

// Watching reports whether any watch is active.
func (r *Resolver) Watching() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.watches) > 0
}

func (r *Resolver) release(h *watchHandle) {
	r.mu.Lock()
	if h.stopped {
		r.mu.Unlock()
		return
	}
	h.stopped = true
	if !h.ready {
		// StartWatch cancels once the id is known
		r.mu.Unlock()
		return
	}
	delete(r.watches, h.id)
	r.mu.Unlock()
	r.provider.CancelWatch(h.id)
}
