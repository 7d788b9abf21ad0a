package hiveboard

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Run("rejects keys without the hb_ prefix", func(t *testing.T) {
		t.Cleanup(Reset)
		_, err := Init(Config{APIKey: "sk_live_nope", Logger: slog.New(slog.DiscardHandler)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hb_")
	})

	t.Run("second call returns the existing client", func(t *testing.T) {
		t.Cleanup(Reset)
		backend := newFakeBackend(t)
		cfg := testConfig(backend)

		first, err := Init(cfg)
		require.NoError(t, err)
		second, err := Init(Config{APIKey: "hb_live_other"})
		require.NoError(t, err)
		assert.Same(t, first, second)
	})

	t.Run("reset allows re-initialisation", func(t *testing.T) {
		t.Cleanup(Reset)
		backend := newFakeBackend(t)

		first, err := Init(testConfig(backend))
		require.NoError(t, err)
		Reset()
		second, err := Init(testConfig(backend))
		require.NoError(t, err)
		assert.NotSame(t, first, second)
	})
}

func TestAgentRegistry(t *testing.T) {
	t.Cleanup(Reset)
	backend := newFakeBackend(t)
	client, err := Init(testConfig(backend))
	require.NoError(t, err)

	a1 := client.Agent("worker-1", WithAgentType("crawler"))
	a2 := client.Agent("worker-1", WithAgentType("ignored"))
	assert.Same(t, a1, a2)
	assert.Equal(t, "crawler", a1.envelope.AgentType)
	assert.Equal(t, "worker-1", a1.ID())

	other := client.Agent("worker-2")
	assert.NotSame(t, a1, other)
}

func TestResolveEndpoint(t *testing.T) {
	t.Run("working directory config wins", func(t *testing.T) {
		dir := t.TempDir()
		cfgBody := "[loophive]\nendpoint = https://hive.example.com\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(cfgBody), 0o644))
		t.Chdir(dir)

		assert.Equal(t, "https://hive.example.com", ResolveEndpoint())
	})

	t.Run("falls back to the default without a config file", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("HOME", t.TempDir())

		assert.Equal(t, DefaultEndpoint, ResolveEndpoint())
	})

	t.Run("home directory config used when cwd has none", func(t *testing.T) {
		t.Chdir(t.TempDir())
		home := t.TempDir()
		t.Setenv("HOME", home)
		require.NoError(t, os.MkdirAll(filepath.Join(home, ".loophive"), 0o755))
		cfgBody := "[loophive]\nendpoint = https://home.example.com\n"
		require.NoError(t, os.WriteFile(filepath.Join(home, ".loophive", configFileName), []byte(cfgBody), 0o644))

		assert.Equal(t, "https://home.example.com", ResolveEndpoint())
	})
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{APIKey: "hb_live_x", Endpoint: "http://somewhere"}
	cfg.applyDefaults()

	assert.Equal(t, DefaultFlushInterval, cfg.FlushInterval)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultMaxQueueSize, cfg.MaxQueueSize)
	assert.Equal(t, DefaultHTTPTimeout, cfg.HTTPTimeout)
	assert.NotNil(t, cfg.Logger)
}
