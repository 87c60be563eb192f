package scheduler

import (
	"context"
	"sync"
	"time"
)

type Job interface{ Run(ctx context.Context) }

type FuncJob func(ctx context.Context)

func (f FuncJob) Run(ctx context.Context) { f(ctx) }

// Scheduler runs ticker and one-shot jobs until Stop. Every job can also be stopped on its own.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New() *Scheduler {
	return NewWithContext(context.Background())
}

func NewWithContext(parent context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{ctx: ctx, cancel: cancel}
}

// Stop cancels every job and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Every runs job each d. The returned func stops only this job.
func (s *Scheduler) Every(d time.Duration, job Job) (stop func()) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loopEvery(ctx, d, job)
	}()
	return cancel
}

// OnceAfter runs job once after d unless stopped first.
func (s *Scheduler) OnceAfter(d time.Duration, job Job) (stop func()) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.onceAfter(ctx, d, job)
	}()
	return cancel
}

func (s *Scheduler) loopEvery(ctx context.Context, d time.Duration, job Job) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			job.Run(ctx)
		}
	}
}

func (s *Scheduler) onceAfter(ctx context.Context, d time.Duration, job Job) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
		job.Run(s.ctx)
	}
}
