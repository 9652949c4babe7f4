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
	path := filepath.Join(t.TempDir(), "syncd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		path := writeConfig(t, "remote:\n  base_url: http://server.test\n")

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "http://server.test", cfg.Remote.BaseURL)
		assert.Equal(t, 10*time.Second, cfg.Remote.Timeout)
		assert.Equal(t, time.Hour, cfg.Sync.Interval)
		assert.Equal(t, "sqlite", cfg.Store.Engine)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.True(t, cfg.Sync.Scheduled)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
remote:
  base_url: http://server.test
sync:
  interval: 90s
  batch_size: 25
store:
  engine: postgres
  postgres_url: postgres://localhost/replica
`)

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 90*time.Second, cfg.Sync.Interval)
		assert.Equal(t, 25, cfg.Sync.BatchSize)
		assert.Equal(t, "postgres", cfg.Store.Engine)
	})

	t.Run("missing base url rejected", func(t *testing.T) {
		path := writeConfig(t, "logging:\n  level: debug\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "remote.base_url")
	})

	t.Run("unknown engine rejected", func(t *testing.T) {
		path := writeConfig(t, "remote:\n  base_url: http://s\nstore:\n  engine: oracle\n")
		_, err := Load(path)
		require.Error(t, err)
	})
}
