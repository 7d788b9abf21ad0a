package hiveboard

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// KeyPrefix is the mandatory API key prefix; Init rejects other keys.
const KeyPrefix = "hb_"

var (
	initMu        sync.Mutex
	defaultClient *Client
)

// Client owns the transport and the agent registry. One per process;
// obtained from Init.
type Client struct {
	cfg       Config
	transport *transport
	logger    *slog.Logger

	mu     sync.Mutex
	agents map[string]*Agent
}

// Init creates the process-wide client. Idempotent: a second call
// returns the existing client and logs a warning.
func Init(cfg Config) (*Client, error) {
	initMu.Lock()
	defer initMu.Unlock()

	if defaultClient != nil {
		defaultClient.logger.Warn("hiveboard already initialised, returning existing client")
		return defaultClient, nil
	}

	if !strings.HasPrefix(cfg.APIKey, KeyPrefix) {
		return nil, fmt.Errorf("API key must start with %q", KeyPrefix)
	}
	cfg.applyDefaults()

	c := &Client{
		cfg:       cfg,
		transport: newTransport(cfg),
		logger:    cfg.Logger.With("component", "hiveboard"),
		agents:    make(map[string]*Agent),
	}
	defaultClient = c
	return c, nil
}

// Reset shuts the singleton down and clears it, for tests.
func Reset() {
	initMu.Lock()
	defer initMu.Unlock()
	if defaultClient != nil {
		defaultClient.Shutdown(5 * time.Second)
		defaultClient = nil
	}
}

// Flush requests an immediate drain of the buffered events.
func (c *Client) Flush() {
	c.transport.Flush()
}

// Shutdown stops heartbeats, drains the buffer within timeout and
// releases transport resources.
func (c *Client) Shutdown(timeout time.Duration) {
	c.mu.Lock()
	agents := make([]*Agent, 0, len(c.agents))
	for _, a := range c.agents {
		agents = append(agents, a)
	}
	c.mu.Unlock()

	for _, a := range agents {
		a.stopHeartbeat()
	}
	c.transport.Shutdown(timeout)
}

// Agent returns the registered agent with this id, creating it on
// first use. Options are applied only on creation.
func (c *Client) Agent(id string, opts ...AgentOption) *Agent {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a, ok := c.agents[id]; ok {
		return a
	}
	a := newAgent(c, id, opts...)
	c.agents[id] = a
	return a
}
