package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "backend:\n  host: 0.0.0.0\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.TCP.Host)
	assert.Equal(t, 9200, cfg.TCP.Port)
	assert.Equal(t, 9400, cfg.HTTP.Port)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 90*time.Second, cfg.Commands.HeartbeatTimeout)
	assert.Equal(t, 15*time.Second, cfg.Commands.SweepInterval)
	assert.Equal(t, 1, cfg.Commands.MaxInflight)
	assert.Equal(t, 128, cfg.Commands.EventBuffer)
	assert.Equal(t, time.Hour, cfg.Commands.Retention)
	assert.Equal(t, "autonova:events", cfg.Redis.Channel)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 60, cfg.JWT.ExpMin)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
backend:
  port: 19200
  commands:
    heartbeat_timeout: 45s
    max_inflight: 3
  redis:
    enabled: true
    addr: 10.0.0.5:6379
  jwt:
    secret: super-secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 19200, cfg.TCP.Port)
	assert.Equal(t, 45*time.Second, cfg.Commands.HeartbeatTimeout)
	assert.Equal(t, 3, cfg.Commands.MaxInflight)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "10.0.0.5:6379", cfg.Redis.Addr)
	assert.Equal(t, "super-secret", cfg.JWT.Secret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWatchAppliesChanges(t *testing.T) {
	path := writeConfig(t, "backend:\n  commands:\n    max_inflight: 1\n")

	applied := make(chan *Config, 4)
	stop, err := Watch(path, func(cfg *Config) { applied <- cfg })
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("backend:\n  commands:\n    max_inflight: 5\n"), 0o644))

	select {
	case cfg := <-applied:
		assert.Equal(t, 5, cfg.Commands.MaxInflight)
	case <-time.After(3 * time.Second):
		t.Fatal("watch never applied the change")
	}
}
