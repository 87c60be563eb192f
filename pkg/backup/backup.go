package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"Guardian/pkg/errors"
	"Guardian/pkg/scheduler"
	"Guardian/pkg/storage"
)

const filePrefix = "guardian_backup_"

type Config struct {
	Driver   string // 仅支持 sqlite
	Path     string // 备份目录
	Schedule string // cron 表达式
	Keep     int    // 保留份数，默认 7
}

// Backuper snapshots the sqlite database that holds the persistent transport and settings.
type Backuper struct {
	cfg Config
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time

	offsite storage.Store // 可选，备份同时上传
}

func New(cfg Config, db *gorm.DB, log *zap.Logger) *Backuper {
	if cfg.Keep <= 0 {
		cfg.Keep = 7
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Backuper{cfg: cfg, db: db, log: log, now: time.Now}
}

// WithStore uploads every backup to s and removes pruned ones from it.
func (b *Backuper) WithStore(s storage.Store) *Backuper {
	b.offsite = s
	return b
}

// Schedule 注册定时任务
func (b *Backuper) Schedule(cr *scheduler.Cron) error {
	if _, err := cr.Add(b.cfg.Schedule, b); err != nil {
		return errors.Wrapf(err, "schedule backup %q", b.cfg.Schedule)
	}
	return nil
}

// Run implements scheduler.Job.
func (b *Backuper) Run(ctx context.Context) {
	dst, err := b.Execute(ctx)
	if err != nil {
		b.log.Warn("backup failed", zap.Error(err))
		return
	}
	b.log.Info("backup completed", zap.String("file", dst))
}

// Execute writes one backup and prunes old ones. It returns the new file.
func (b *Backuper) Execute(ctx context.Context) (string, error) {
	if d := b.cfg.Driver; d != "" && d != "sqlite" {
		return "", errors.Errorf("unsupported DB_DRIVER for backup: %s", d)
	}
	if err := os.MkdirAll(b.cfg.Path, 0o755); err != nil {
		return "", errors.Wrap(err, "create backup directory")
	}
	dst := filepath.Join(b.cfg.Path, fmt.Sprintf("%s%s.db", filePrefix, b.now().Format("20060102_150405")))
	// VACUUM INTO 在写入进行中也能得到一致的快照
	if err := b.db.WithContext(ctx).Exec("VACUUM INTO ?", dst).Error; err != nil {
		return "", errors.Wrap(err, "vacuum into backup").WithContext("file", dst)
	}
	if b.offsite != nil {
		// 上传失败不影响本地备份
		if err := b.upload(ctx, dst); err != nil {
			b.log.Warn("upload backup failed", zap.String("file", dst), zap.Error(err))
		}
	}
	if err := b.prune(ctx); err != nil {
		b.log.Warn("prune backups failed", zap.Error(err))
	}
	return dst, nil
}

func (b *Backuper) upload(ctx context.Context, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	return b.offsite.Put(ctx, filepath.Base(file), f, st.Size())
}

func (b *Backuper) prune(ctx context.Context) error {
	entries, err := os.ReadDir(b.cfg.Path)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), filePrefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) <= b.cfg.Keep {
		return nil
	}
	// 文件名带时间戳，字典序即时间序
	slices.Sort(names)
	var errs []error
	for _, name := range names[:len(names)-b.cfg.Keep] {
		if err := os.Remove(filepath.Join(b.cfg.Path, name)); err != nil {
			errs = append(errs, err)
		}
		if b.offsite != nil {
			if err := b.offsite.Delete(ctx, name); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
