package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "config-test-none")
	for _, k := range []string{"ADDR", "TRANSPORT", "DELIVERY", "ALERT_EXPIRY", "DISTRESS_KEYWORDS", "RESOLVE_DEADLINE"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "memory", cfg.Transport)
	assert.Equal(t, "push", cfg.Delivery)
	assert.Equal(t, 3*time.Second, cfg.ResolveDeadline)
	assert.Zero(t, cfg.AlertExpiry)
	assert.Nil(t, cfg.DistressKeywords)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "config-test-none")
	t.Setenv("TRANSPORT", "sql")
	t.Setenv("DELIVERY", "poll")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("ALERT_EXPIRY", "2h")
	t.Setenv("DISTRESS_KEYWORDS", "help, hilfe")
	t.Setenv("BACKUP_ENABLED", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sql", cfg.Transport)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2*time.Hour, cfg.AlertExpiry)
	assert.Equal(t, []string{"help", "hilfe"}, cfg.DistressKeywords)
	assert.True(t, cfg.BackupEnabled)
}
