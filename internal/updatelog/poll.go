package updatelog

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"Guardian/pkg/pubsub"
	"Guardian/pkg/scheduler"
)

// PollLog re-reads the full record set every interval and re-sorts it, so
// readers never depend on transport arrival order.
type PollLog struct {
	base
	sched    *scheduler.Scheduler
	interval time.Duration
}

func NewPollLog(t pubsub.Transport, sched *scheduler.Scheduler, interval time.Duration, opts ...Option) *PollLog {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollLog{base: newBase(t, opts), sched: sched, interval: interval}
}

// Subscribe delivers the current set synchronously, then again whenever a poll sees a different set.
func (p *PollLog) Subscribe(ctx context.Context, key string, onChange func([]Record)) (func(), error) {
	records, err := p.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	var mu sync.Mutex
	last := ids(records)
	onChange(records)

	stop := p.sched.Every(p.interval, scheduler.FuncJob(func(jctx context.Context) {
		if ctx.Err() != nil {
			return
		}
		records, err := p.Read(jctx, key)
		if err != nil {
			p.log.Warn("poll update log", zap.String("channel", key), zap.Error(err))
			return
		}
		cur := ids(records)
		mu.Lock()
		changed := !slices.Equal(cur, last)
		if changed {
			last = cur
		}
		mu.Unlock()
		if changed {
			onChange(records)
		}
	}))
	release := context.AfterFunc(ctx, stop)
	return func() {
		release()
		stop()
	}, nil
}

func ids(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
