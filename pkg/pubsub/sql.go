package pubsub

import (
	"context"
	"strconv"
	"sync"
	"time"

	"Guardian/pkg/scheduler"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Node 单值节点
type Node struct {
	Path      string `gorm:"primaryKey;size:512"`
	Value     []byte
	UpdatedAt time.Time
}

func (Node) TableName() string { return "pubsub_nodes" }

// Child 追加的子记录，自增主键即插入顺序
type Child struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Path      string `gorm:"index;size:512"`
	Value     []byte
	CreatedAt time.Time
}

func (Child) TableName() string { return "pubsub_children" }

// SQL stores the transport in a relational database. There is no server push,
// so Subscribe polls each path every PollInterval and fires when the newest row id moves.
type SQL struct {
	db    *gorm.DB
	sched *scheduler.Scheduler
	every time.Duration
}

func NewSQL(db *gorm.DB, pollInterval time.Duration) (*SQL, error) {
	if err := db.AutoMigrate(&Node{}, &Child{}); err != nil {
		return nil, err
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &SQL{db: db, sched: scheduler.New(), every: pollInterval}, nil
}

// DB exposes the handle for backups and migrations of neighbouring models.
func (s *SQL) DB() *gorm.DB { return s.db }

func (s *SQL) Write(ctx context.Context, path string, value []byte) error {
	node := Node{Path: path, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&node).Error
}

func (s *SQL) Read(ctx context.Context, path string) ([]byte, bool, error) {
	var nodes []Node
	if err := s.db.WithContext(ctx).Where("path = ?", path).Limit(1).Find(&nodes).Error; err != nil {
		return nil, false, err
	}
	if len(nodes) == 0 {
		return nil, false, nil
	}
	return nodes[0].Value, true, nil
}

func (s *SQL) Append(ctx context.Context, path string, value []byte) (string, error) {
	row := Child{Path: path, Value: value, CreatedAt: time.Now()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", err
	}
	return strconv.FormatUint(row.ID, 10), nil
}

func (s *SQL) ReadAll(ctx context.Context, path string) ([]Entry, error) {
	var rows []Child
	if err := s.db.WithContext(ctx).Where("path = ?", path).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{ID: strconv.FormatUint(r.ID, 10), Value: r.Value}
	}
	return out, nil
}

func (s *SQL) Subscribe(ctx context.Context, path string, fn func([]Entry)) (func(), error) {
	entries, err := s.ReadAll(ctx, path)
	if err != nil {
		return nil, err
	}
	fn(entries)

	var mu sync.Mutex
	last := lastID(entries)
	stop := s.sched.Every(s.every, scheduler.FuncJob(func(ctx context.Context) {
		entries, err := s.ReadAll(ctx, path)
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if id := lastID(entries); id != last {
			last = id
			fn(entries)
		}
	}))
	return stop, nil
}

func (s *SQL) Close() error {
	s.sched.Stop()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func lastID(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	return entries[len(entries)-1].ID
}
