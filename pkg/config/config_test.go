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
	path := filepath.Join(t.TempDir(), "hiveboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, BackendFile, cfg.Storage.Backend)
	assert.Equal(t, 15*time.Minute, cfg.Retention.Interval)
	assert.Equal(t, 30*time.Second, cfg.Stream.PingInterval)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9090"
log_level: debug
storage:
  backend: postgres
retention:
  interval: 5m
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Retention.Interval)
	// Untouched keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Stream.PingInterval)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("HIVEBOARD_TEST_DATA_DIR", "/var/lib/hiveboard")
	path := writeConfig(t, `
storage:
  data_dir: "{{.HIVEBOARD_TEST_DATA_DIR}}"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/hiveboard", cfg.Storage.DataDir)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "storage:\n  backend: s3\n"},
		{"bad log level", "log_level: verbose\n"},
		{"zero retention interval", "retention:\n  interval: 0s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}
