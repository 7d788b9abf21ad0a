// Package stream is the WebSocket fan-out layer: per-tenant connection
// registries, subscription filtering, agent status broadcasting with
// the per-episode stuck latch, and connection liveness.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loophive/hiveboard/pkg/model"
)

// Close codes used by the WebSocket handshake and liveness policy.
const (
	CloseInvalidToken       = 4001
	CloseTooManyConnections = 4002
)

// Liveness defaults.
const (
	DefaultPingInterval = 30 * time.Second
	MaxMissedPongs      = 3
	MaxConnsPerKey      = 5
)

// ErrTooManyConnections is returned when an API key exceeds its
// connection cap.
var ErrTooManyConnections = errors.New("too many connections for key")

// Manager owns all subscriber connections. Broadcast iterates a
// snapshot taken under the lock so registration never races a send.
type Manager struct {
	mu     sync.Mutex
	conns  map[string]map[*Conn]struct{} // tenant id -> connections
	perKey map[string]int                // api key id -> open connections
	stuck  map[string]bool               // tenant|agent -> stuck latch

	pingInterval time.Duration
	logger       *slog.Logger
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewManager creates the fan-out manager. pingInterval <= 0 uses the
// default.
func NewManager(pingInterval time.Duration, logger *slog.Logger) *Manager {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		conns:        make(map[string]map[*Conn]struct{}),
		perKey:       make(map[string]int),
		stuck:        make(map[string]bool),
		pingInterval: pingInterval,
		logger:       logger.With("component", "stream"),
		done:         make(chan struct{}),
	}
}

// Register admits a new connection for the tenant, enforcing the
// per-key cap.
func (m *Manager) Register(tenantID, keyID string) (*Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.perKey[keyID] >= MaxConnsPerKey {
		return nil, ErrTooManyConnections
	}

	c := newConn(tenantID, keyID)
	if m.conns[tenantID] == nil {
		m.conns[tenantID] = make(map[*Conn]struct{})
	}
	m.conns[tenantID][c] = struct{}{}
	m.perKey[keyID]++

	m.logger.Debug("subscriber registered", "tenant_id", tenantID, "key_id", keyID)
	return c, nil
}

// Unregister removes a connection. Safe to call more than once.
func (m *Manager) Unregister(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.conns[c.tenantID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(m.conns, c.tenantID)
	}
	if m.perKey[c.keyID] > 0 {
		m.perKey[c.keyID]--
	}
	if m.perKey[c.keyID] == 0 {
		delete(m.perKey, c.keyID)
	}
	c.close(0, "")
}

// snapshot returns the tenant's connections without holding the lock
// during sends.
func (m *Manager) snapshot(tenantID string) []*Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.conns[tenantID]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// EventIngested pushes event.new to matching subscribers on the events
// channel.
func (m *Manager) EventIngested(e *model.Event) {
	msg := Message{Type: "event.new", Data: e}
	for _, c := range m.snapshot(e.TenantID) {
		if c.wantsEvent(e) {
			c.push(msg)
		}
	}
}

// AgentStatus implements the ingestion fan-out contract: broadcast a
// status_changed on transition and an agent.stuck at most once per
// stuck episode.
func (m *Manager) AgentStatus(tenantID string, p *model.AgentProfile, prev, cur model.AgentStatus) {
	latchKey := tenantID + "|" + p.AgentID

	var emitStuck bool
	m.mu.Lock()
	if cur == model.AgentStuck {
		if !m.stuck[latchKey] {
			m.stuck[latchKey] = true
			emitStuck = true
		}
	} else {
		delete(m.stuck, latchKey)
	}
	m.mu.Unlock()

	if prev != cur {
		m.broadcastAgents(tenantID, Message{Type: "agent.status_changed", Data: map[string]any{
			"agent_id":        p.AgentID,
			"previous_status": prev,
			"status":          cur,
		}})
	}
	if emitStuck {
		var heartbeatAge *float64
		if p.LastHeartbeat != nil {
			age := time.Now().UTC().Sub(*p.LastHeartbeat).Seconds()
			heartbeatAge = &age
		}
		m.broadcastAgents(tenantID, Message{Type: "agent.stuck", Data: map[string]any{
			"agent_id":              p.AgentID,
			"stuck_threshold":       p.StuckThresholdSeconds,
			"heartbeat_age_seconds": heartbeatAge,
		}})
	}
}

func (m *Manager) broadcastAgents(tenantID string, msg Message) {
	for _, c := range m.snapshot(tenantID) {
		if c.subscribedTo(ChannelAgents) {
			c.push(msg)
		}
	}
}

// Start launches the liveness ping loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.pingAll()
			}
		}
	}()
}

// Stop terminates the ping loop and closes every connection.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done

	m.mu.Lock()
	var all []*Conn
	for _, set := range m.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	m.mu.Unlock()
	for _, c := range all {
		m.Unregister(c)
	}
}

func (m *Manager) pingAll() {
	m.mu.Lock()
	var all []*Conn
	for _, set := range m.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	m.mu.Unlock()

	for _, c := range all {
		if c.missedPongCount() >= MaxMissedPongs {
			m.logger.Debug("closing unresponsive subscriber",
				"tenant_id", c.tenantID, "key_id", c.keyID)
			m.Unregister(c)
			continue
		}
		c.recordPing()
		c.push(Message{Type: "ping"})
	}
}
