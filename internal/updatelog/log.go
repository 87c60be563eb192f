package updatelog

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"Guardian/internal/channel"
	"Guardian/pkg/errors"
	"Guardian/pkg/metrics"
	"Guardian/pkg/pubsub"
)

// Log appends to and reads a channel's ordered record set. Subscribe always
// delivers the full current set, never a delta.
type Log interface {
	Append(ctx context.Context, key string, rec Record) (Record, error)
	Read(ctx context.Context, key string) ([]Record, error)
	Subscribe(ctx context.Context, key string, onChange func([]Record)) (unsubscribe func(), err error)
}

type Option func(*base)

func WithLogger(l *zap.Logger) Option       { return func(b *base) { b.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(b *base) { b.metrics = m } }

// base carries append and read, shared by both backends.
type base struct {
	transport pubsub.Transport
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func newBase(t pubsub.Transport, opts []Option) base {
	b := base{transport: t, log: zap.NewNop()}
	for _, o := range opts {
		o(&b)
	}
	return b
}

// Append validates rec, fills a content-derived id when missing and appends it.
// Senders on a pairwise channel must be one of its participants; alert channels
// are checked by the alert manager, which knows the guardian set.
func (b *base) Append(ctx context.Context, key string, rec Record) (Record, error) {
	if !channel.ValidKey(key) {
		return Record{}, errors.WithCodef(errors.CodeInvalidRecord, "invalid channel key %q", key)
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	if !channel.IsAlertChannel(key) && !channel.Involves(key, rec.SenderAddress) {
		return Record{}, errors.WithCodef(errors.CodeInvalidRecord, "%s is not a participant of %s", rec.SenderAddress, key)
	}
	if rec.ID == "" {
		rec.ID = ContentID(rec)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, errors.WrapCode(err, errors.CodeInvalidRecord, "encode record")
	}
	if _, err := b.transport.Append(ctx, channel.Path(key), data); err != nil {
		return Record{}, errors.WrapCode(err, errors.CodeChannelWrite, "append to "+key).WithContext("channel", key)
	}
	b.metrics.RecordAppend(string(rec.Kind))
	return rec, nil
}

func (b *base) Read(ctx context.Context, key string) ([]Record, error) {
	entries, err := b.transport.ReadAll(ctx, channel.Path(key))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", key)
	}
	return b.decode(key, entries), nil
}

func (b *base) decode(key string, entries []pubsub.Entry) []Record {
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		var r Record
		if err := json.Unmarshal(e.Value, &r); err != nil {
			b.log.Warn("skip undecodable record", zap.String("channel", key), zap.String("entry", e.ID), zap.Error(err))
			continue
		}
		if r.ID == "" {
			r.ID = ContentID(r)
		}
		records = append(records, r)
	}
	return Sort(records)
}
