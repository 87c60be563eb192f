package updatelog

import (
	"context"

	"Guardian/internal/channel"
	"Guardian/pkg/errors"
	"Guardian/pkg/pubsub"
)

// PushLog delivers changes as the transport notifies them.
type PushLog struct {
	base
}

func NewPushLog(t pubsub.Transport, opts ...Option) *PushLog {
	return &PushLog{base: newBase(t, opts)}
}

func (p *PushLog) Subscribe(ctx context.Context, key string, onChange func([]Record)) (func(), error) {
	unsub, err := p.transport.Subscribe(ctx, channel.Path(key), func(entries []pubsub.Entry) {
		onChange(p.decode(key, entries))
	})
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", key)
	}
	return unsub, nil
}
