package config

import (
	"os"
	"time"

	"Guardian/pkg/logger"
	"Guardian/pkg/util"
)

// config/config.go
type Config struct {
	Addr string `env:"ADDR"`
	Mode string `env:"MODE"`
	Log  logger.LogConfig

	// 传输层 memory|redis|sql
	Transport     string        `env:"TRANSPORT"`
	DBDriver      string        `env:"DB_DRIVER"`
	DSN           string        `env:"DSN"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB"`
	Delivery      string        `env:"DELIVERY"` // push|poll
	PollInterval  time.Duration `env:"POLL_INTERVAL"`
	CacheType     string        `env:"CACHE_TYPE"`

	// 定位
	ResolveDeadline   time.Duration `env:"RESOLVE_DEADLINE"`
	WatchFreshness    time.Duration `env:"WATCH_FRESHNESS"`
	CheapTimeout      time.Duration `env:"CHEAP_TIMEOUT"`
	CheapMaxStaleness time.Duration `env:"CHEAP_MAX_STALENESS"`
	PreciseTimeout    time.Duration `env:"PRECISE_TIMEOUT"`

	// 触发
	TriggerLang      string        `env:"TRIGGER_LANG"`
	DistressKeywords []string      `env:"DISTRESS_KEYWORDS"`
	AlertExpiry      time.Duration `env:"ALERT_EXPIRY"`
	ExpirySchedule   string        `env:"EXPIRY_SCHEDULE"`

	// 本机资料，数据库中为空时写入
	SenderAddress string `env:"SENDER_ADDRESS"`
	SenderName    string `env:"SENDER_NAME"`
	TriggerPhrase string `env:"TRIGGER_PHRASE"`

	MessageRate     string `env:"MESSAGE_RATE"`
	DefaultLanguage string `env:"DEFAULT_LANGUAGE"`

	BackupEnabled  bool   `env:"BACKUP_ENABLED"`
	BackupPath     string `env:"BACKUP_PATH"`
	BackupSchedule string `env:"BACKUP_SCHEDULE"`
}

// Load 读取 .env 与 .env.<APP_ENV>，再从环境变量构建配置
func Load() (*Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development" // 默认使用开发环境
	}
	err := util.LoadEnv(env)

	cfg := &Config{
		Addr: util.GetEnvDefault("ADDR", ":8080"),
		Mode: util.GetEnvDefault("MODE", "debug"),
		Log: logger.LogConfig{
			Level:      util.GetEnvDefault("LOG_LEVEL", "info"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},

		Transport:     util.GetEnvDefault("TRANSPORT", "memory"),
		DBDriver:      util.GetEnvDefault("DB_DRIVER", "sqlite"),
		DSN:           util.GetEnvDefault("DSN", "guardian.db"),
		RedisAddr:     util.GetEnvDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: util.GetEnv("REDIS_PASSWORD"),
		RedisDB:       int(util.GetIntEnv("REDIS_DB")),
		Delivery:      util.GetEnvDefault("DELIVERY", "push"),
		PollInterval:  util.GetDurationEnv("POLL_INTERVAL", 2*time.Second),
		CacheType:     util.GetEnvDefault("CACHE_TYPE", "lru"),

		ResolveDeadline:   util.GetDurationEnv("RESOLVE_DEADLINE", 3*time.Second),
		WatchFreshness:    util.GetDurationEnv("WATCH_FRESHNESS", 30*time.Second),
		CheapTimeout:      util.GetDurationEnv("CHEAP_TIMEOUT", time.Second),
		CheapMaxStaleness: util.GetDurationEnv("CHEAP_MAX_STALENESS", time.Minute),
		PreciseTimeout:    util.GetDurationEnv("PRECISE_TIMEOUT", 8*time.Second),

		TriggerLang:      util.GetEnvDefault("TRIGGER_LANG", "en-US"),
		DistressKeywords: util.GetStringsEnv("DISTRESS_KEYWORDS"),
		AlertExpiry:      util.GetDurationEnv("ALERT_EXPIRY", 0),
		ExpirySchedule:   util.GetEnvDefault("EXPIRY_SCHEDULE", "@every 1m"),

		SenderAddress: util.GetEnv("SENDER_ADDRESS"),
		SenderName:    util.GetEnv("SENDER_NAME"),
		TriggerPhrase: util.GetEnv("TRIGGER_PHRASE"),

		MessageRate:     util.GetEnvDefault("MESSAGE_RATE", "30-M"),
		DefaultLanguage: util.GetEnvDefault("DEFAULT_LANGUAGE", "en"),

		BackupEnabled:  util.GetBoolEnv("BACKUP_ENABLED"),
		BackupPath:     util.GetEnvDefault("BACKUP_PATH", "backups"),
		BackupSchedule: util.GetEnvDefault("BACKUP_SCHEDULE", "0 3 * * *"),
	}
	// .env 读取失败不致命，交给调用方记录
	return cfg, err
}
