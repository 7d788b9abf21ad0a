// Package hiveboard is the instrumentation SDK: a buffered, fail-silent
// transport to the ingest endpoint plus ergonomic emitters for agents,
// tasks and actions.
package hiveboard

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	ini "gopkg.in/ini.v1"
)

// Defaults for the transport and instrumentation surface.
const (
	DefaultEndpoint          = "http://localhost:8080"
	DefaultFlushInterval     = 2 * time.Second
	DefaultBatchSize         = 100
	DefaultMaxQueueSize      = 10000
	DefaultHTTPTimeout       = 30 * time.Second
	DefaultHeartbeatInterval = 60 * time.Second
)

// configFileName is looked up in the working directory, then under
// ~/.loophive/.
const configFileName = "loophive.cfg"

// Config parameterises Init. Only APIKey is required; the endpoint is
// resolved from loophive.cfg when empty.
type Config struct {
	Endpoint      string
	APIKey        string
	FlushInterval time.Duration
	BatchSize     int
	MaxQueueSize  int
	HTTPTimeout   time.Duration
	Logger        *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = ResolveEndpoint()
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ResolveEndpoint reads the backend endpoint from ./loophive.cfg, then
// ~/.loophive/loophive.cfg, then falls back to the compiled-in default.
func ResolveEndpoint() string {
	for _, path := range configPaths() {
		if ep := endpointFromFile(path); ep != "" {
			return ep
		}
	}
	return DefaultEndpoint
}

func configPaths() []string {
	paths := []string{configFileName}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".loophive", configFileName))
	}
	return paths
}

func endpointFromFile(path string) string {
	cfg, err := ini.Load(path)
	if err != nil {
		return ""
	}
	return cfg.Section("loophive").Key("endpoint").String()
}
