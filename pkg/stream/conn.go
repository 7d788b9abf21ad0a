package stream

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/loophive/hiveboard/pkg/model"
)

// Subscription channels.
const (
	ChannelEvents = "events"
	ChannelAgents = "agents"
)

// Filters narrows which events a subscriber receives. Every configured
// field must match; EventTypes is set membership, MinSeverity a floor.
type Filters struct {
	ProjectID   string   `json:"project_id,omitempty"`
	Environment string   `json:"environment,omitempty"`
	Group       string   `json:"group,omitempty"`
	AgentID     string   `json:"agent_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
	MinSeverity string   `json:"min_severity,omitempty"`
}

// ClientMessage is the inbound protocol shape.
type ClientMessage struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels,omitempty"`
	Filters  Filters  `json:"filters,omitempty"`
}

// Message is the outbound protocol shape.
type Message struct {
	Type       string   `json:"type"`
	Channels   []string `json:"channels,omitempty"`
	Filters    *Filters `json:"filters,omitempty"`
	ServerTime string   `json:"server_time,omitempty"`
	Data       any      `json:"data,omitempty"`
}

// outboundBuffer bounds per-connection queueing; a slow consumer drops
// messages rather than blocking broadcasts.
const outboundBuffer = 64

// Conn is one subscriber connection. The transport layer drains Out
// and feeds client frames to HandleClientMessage.
type Conn struct {
	tenantID string
	keyID    string

	mu          sync.Mutex
	channels    map[string]bool
	filters     Filters
	missedPongs int
	closed      bool
	closeCode   int
	closeReason string

	out  chan Message
	done chan struct{}
}

func newConn(tenantID, keyID string) *Conn {
	return &Conn{
		tenantID: tenantID,
		keyID:    keyID,
		channels: make(map[string]bool),
		out:      make(chan Message, outboundBuffer),
		done:     make(chan struct{}),
	}
}

// TenantID returns the owning tenant.
func (c *Conn) TenantID() string { return c.tenantID }

// Out is the outbound message queue.
func (c *Conn) Out() <-chan Message { return c.out }

// Done is closed when the connection is terminated.
func (c *Conn) Done() <-chan struct{} { return c.done }

// CloseStatus reports the close code and reason after Done.
func (c *Conn) CloseStatus() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

func (c *Conn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.done)
}

// push enqueues without blocking; a full buffer drops the message.
func (c *Conn) push(msg Message) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	select {
	case c.out <- msg:
	default:
	}
}

// HandleClientMessage applies one inbound frame and returns the reply.
func (c *Conn) HandleClientMessage(raw []byte) (Message, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("malformed message: %w", err)
	}

	switch msg.Action {
	case "subscribe":
		c.mu.Lock()
		for _, ch := range msg.Channels {
			if ch == ChannelEvents || ch == ChannelAgents {
				c.channels[ch] = true
			}
		}
		c.filters = msg.Filters
		channels := c.channelList()
		filters := c.filters
		c.mu.Unlock()
		return Message{Type: "subscribed", Channels: channels, Filters: &filters}, nil

	case "unsubscribe":
		c.mu.Lock()
		for _, ch := range msg.Channels {
			delete(c.channels, ch)
		}
		c.mu.Unlock()
		return Message{Type: "unsubscribed", Channels: msg.Channels}, nil

	case "ping":
		return Message{Type: "pong", ServerTime: time.Now().UTC().Format(time.RFC3339Nano)}, nil

	case "pong":
		c.mu.Lock()
		c.missedPongs = 0
		c.mu.Unlock()
		return Message{}, nil

	default:
		return Message{}, fmt.Errorf("unknown action %q", msg.Action)
	}
}

func (c *Conn) channelList() []string {
	out := make([]string, 0, len(c.channels))
	for _, ch := range []string{ChannelEvents, ChannelAgents} {
		if c.channels[ch] {
			out = append(out, ch)
		}
	}
	return out
}

func (c *Conn) subscribedTo(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[channel]
}

// wantsEvent applies the subscription filter to an event.
func (c *Conn) wantsEvent(e *model.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.channels[ChannelEvents] {
		return false
	}
	f := c.filters
	if f.ProjectID != "" && e.ProjectID != f.ProjectID {
		return false
	}
	if f.Environment != "" && e.Environment != f.Environment {
		return false
	}
	if f.Group != "" && e.Group != f.Group {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, et := range f.EventTypes {
			if string(e.EventType) == et {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinSeverity != "" && !model.SeverityAtLeast(e.Severity, model.Severity(f.MinSeverity)) {
		return false
	}
	return true
}

func (c *Conn) missedPongCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.missedPongs
}

func (c *Conn) recordPing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missedPongs++
}
