package backup

import (
	"context"
	"io"
	"os"
	"sync"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"Guardian/pkg/pubsub"
	"Guardian/pkg/scheduler"
	"Guardian/pkg/util"
)

func TestExecuteSnapshotsAndPrunes(t *testing.T) {
	dir := t.TempDir()
	db, err := util.OpenDatabase("sqlite", filepath.Join(dir, "live.db"))
	require.NoError(t, err)
	tr, err := pubsub.NewSQL(db, time.Second)
	require.NoError(t, err)
	defer tr.Close()
	ctx := context.Background()
	_, err = tr.Append(ctx, "channels/a_b/records", []byte(`{"id":"r1"}`))
	require.NoError(t, err)

	out := filepath.Join(dir, "backups")
	b := New(Config{Driver: "sqlite", Path: out, Keep: 2}, db, zaptest.NewLogger(t))
	base := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	var files []string
	for i := 0; i < 3; i++ {
		b.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		f, err := b.Execute(ctx)
		require.NoError(t, err)
		files = append(files, f)
	}

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.NoFileExists(t, files[0])

	// the snapshot is a working database
	snap, err := util.OpenDatabase("sqlite", files[2])
	require.NoError(t, err)
	restored, err := pubsub.NewSQL(snap, time.Second)
	require.NoError(t, err)
	defer restored.Close()
	got, err := restored.ReadAll(ctx, "channels/a_b/records")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"id":"r1"}`, string(got[0].Value))
}

func TestUnsupportedDriver(t *testing.T) {
	b := New(Config{Driver: "mysql", Path: t.TempDir()}, nil, nil)
	_, err := b.Execute(context.Background())
	assert.Error(t, err)
}

func TestSchedule(t *testing.T) {
	cr := scheduler.NewCron(time.UTC)
	b := New(Config{Schedule: "0 3 * * *"}, nil, nil)
	require.NoError(t, b.Schedule(cr))
	assert.Len(t, cr.Entries(), 1)
	assert.Error(t, New(Config{Schedule: "not a cron"}, nil, nil).Schedule(cr))
}

// memStore 记录上传的对象
type memStore struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (m *memStore) Put(_ context.Context, key string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = data
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objs, key)
	return nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objs[key]
	return ok, nil
}

func TestExecuteUploadsOffsite(t *testing.T) {
	dir := t.TempDir()
	db, err := util.OpenDatabase("sqlite", filepath.Join(dir, "live.db"))
	require.NoError(t, err)
	store := &memStore{objs: map[string][]byte{}}
	b := New(Config{Path: filepath.Join(dir, "backups"), Keep: 1}, db, zaptest.NewLogger(t)).WithStore(store)
	base := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)

	b.now = func() time.Time { return base }
	first, err := b.Execute(context.Background())
	require.NoError(t, err)
	ok, _ := store.Exists(context.Background(), filepath.Base(first))
	assert.True(t, ok)

	b.now = func() time.Time { return base.Add(time.Hour) }
	second, err := b.Execute(context.Background())
	require.NoError(t, err)

	// 本地清理的备份同时从对象存储删除
	ok, _ = store.Exists(context.Background(), filepath.Base(first))
	assert.False(t, ok)
	local, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, local, store.objs[filepath.Base(second)])
}
