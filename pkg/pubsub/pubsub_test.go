package pubsub

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"Guardian/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseTransport is shared by every backend.
func exerciseTransport(t *testing.T, tr Transport) {
	ctx := context.Background()

	t.Run("nodes", func(t *testing.T) {
		_, ok, err := tr.Read(ctx, "alerts/missing")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, tr.Write(ctx, "alerts/a1", []byte(`{"live":true}`)))
		require.NoError(t, tr.Write(ctx, "alerts/a1", []byte(`{"live":false}`)))
		v, ok, err := tr.Read(ctx, "alerts/a1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.JSONEq(t, `{"live":false}`, string(v))
	})

	t.Run("append keeps insertion order", func(t *testing.T) {
		id1, err := tr.Append(ctx, "channels/x", []byte("one"))
		require.NoError(t, err)
		id2, err := tr.Append(ctx, "channels/x", []byte("two"))
		require.NoError(t, err)
		assert.NotEqual(t, id1, id2)

		entries, err := tr.ReadAll(ctx, "channels/x")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "one", string(entries[0].Value))
		assert.Equal(t, "two", string(entries[1].Value))

		empty, err := tr.ReadAll(ctx, "channels/none")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("subscribe delivers full set", func(t *testing.T) {
		var mu sync.Mutex
		var seen [][]Entry
		unsub, err := tr.Subscribe(ctx, "channels/sub", func(entries []Entry) {
			mu.Lock()
			seen = append(seen, entries)
			mu.Unlock()
		})
		require.NoError(t, err)

		_, err = tr.Append(ctx, "channels/sub", []byte("a"))
		require.NoError(t, err)
		_, err = tr.Append(ctx, "channels/sub", []byte("b"))
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seen) > 0 && len(seen[len(seen)-1]) == 2
		}, 3*time.Second, 10*time.Millisecond)

		mu.Lock()
		assert.Empty(t, seen[0], "initial snapshot is the empty set")
		mu.Unlock()

		unsub()
		unsub()
	})
}

func TestMemoryTransport(t *testing.T) {
	m := NewMemory()
	exerciseTransport(t, m)

	require.NoError(t, m.Close())
	_, err := m.Append(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemorySubscribeNeverRegresses(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var mu sync.Mutex
	lastLen := 0
	regressed := false
	_, err := m.Subscribe(ctx, "p", func(entries []Entry) {
		mu.Lock()
		defer mu.Unlock()
		if len(entries) < lastLen {
			regressed = true
		}
		lastLen = len(entries)
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Append(ctx, "p", []byte("x"))
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, regressed)
	assert.Equal(t, 50, lastLen)
}

func TestSQLTransport(t *testing.T) {
	db, err := util.OpenDatabase("sqlite", filepath.Join(t.TempDir(), "pubsub.db"))
	require.NoError(t, err)
	s, err := NewSQL(db, 20*time.Millisecond)
	require.NoError(t, err)
	defer s.Close()

	exerciseTransport(t, s)
}

func TestRedisTransport(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	r, err := NewRedis(RedisConfig{Addr: addr, KeyPrefix: "guardian-test:" + time.Now().Format("150405.000") + ":"})
	require.NoError(t, err)
	defer r.Close()

	exerciseTransport(t, r)
}
