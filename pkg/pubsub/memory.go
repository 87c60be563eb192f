package pubsub

import (
	"context"
	"strconv"
	"sync"

	"Guardian/pkg/util"
)

const memoryShards = 16

// Memory is an in-process push transport. Paths are spread over shards by cluster key slot.
type Memory struct {
	shards [memoryShards]*memShard
	mu     sync.RWMutex
	closed bool
}

type memShard struct {
	mu      sync.Mutex
	nodes   map[string][]byte
	lists   map[string][]Entry
	version map[string]uint64
	subs    map[string]map[int]*memSub
	nextSub int
}

type memSub struct {
	mu   sync.Mutex
	last uint64
	fn   func([]Entry)
}

func NewMemory() *Memory {
	m := &Memory{}
	for i := range m.shards {
		m.shards[i] = &memShard{
			nodes:   make(map[string][]byte),
			lists:   make(map[string][]Entry),
			version: make(map[string]uint64),
			subs:    make(map[string]map[int]*memSub),
		}
	}
	return m
}

func (m *Memory) shard(path string) *memShard {
	return m.shards[util.ShardOf(path, memoryShards)]
}

func (m *Memory) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Memory) Write(ctx context.Context, path string, value []byte) error {
	if m.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := m.shard(path)
	sh.mu.Lock()
	sh.nodes[path] = append([]byte(nil), value...)
	sh.mu.Unlock()
	return nil
}

func (m *Memory) Read(ctx context.Context, path string) ([]byte, bool, error) {
	if m.isClosed() {
		return nil, false, ErrClosed
	}
	sh := m.shard(path)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	v, ok := sh.nodes[path]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Append(ctx context.Context, path string, value []byte) (string, error) {
	if m.isClosed() {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sh := m.shard(path)
	sh.mu.Lock()
	sh.version[path]++
	ver := sh.version[path]
	id := strconv.FormatUint(ver, 10)
	sh.lists[path] = append(sh.lists[path], Entry{ID: id, Value: append([]byte(nil), value...)})
	snapshot := cloneEntries(sh.lists[path])
	subs := make([]*memSub, 0, len(sh.subs[path]))
	for _, s := range sh.subs[path] {
		subs = append(subs, s)
	}
	sh.mu.Unlock()

	for _, s := range subs {
		s.deliver(ver, snapshot)
	}
	return id, nil
}

func (m *Memory) ReadAll(ctx context.Context, path string) ([]Entry, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	sh := m.shard(path)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return cloneEntries(sh.lists[path]), nil
}

func (m *Memory) Subscribe(ctx context.Context, path string, fn func([]Entry)) (func(), error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	sh := m.shard(path)
	sub := &memSub{fn: fn}

	sh.mu.Lock()
	if sh.subs[path] == nil {
		sh.subs[path] = make(map[int]*memSub)
	}
	id := sh.nextSub
	sh.nextSub++
	sh.subs[path][id] = sub
	ver := sh.version[path]
	snapshot := cloneEntries(sh.lists[path])
	sh.mu.Unlock()

	sub.deliverInitial(ver, snapshot)

	var once sync.Once
	return func() {
		once.Do(func() {
			sh.mu.Lock()
			delete(sh.subs[path], id)
			if len(sh.subs[path]) == 0 {
				delete(sh.subs, path)
			}
			sh.mu.Unlock()
		})
	}, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// deliver drops snapshots older than one already handed to fn.
func (s *memSub) deliver(ver uint64, entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ver <= s.last {
		return
	}
	s.last = ver
	s.fn(entries)
}

func (s *memSub) deliverInitial(ver uint64, entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last > ver {
		return
	}
	s.last = ver
	s.fn(entries)
}

func cloneEntries(in []Entry) []Entry {
	out := make([]Entry, len(in))
	copy(out, in)
	return out
}
