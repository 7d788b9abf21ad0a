package hiveboard

import (
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/version"
)

// AgentOption configures an Agent at creation.
type AgentOption func(*Agent)

// WithAgentType sets the agent type reported in the envelope.
func WithAgentType(t string) AgentOption {
	return func(a *Agent) { a.envelope.AgentType = t }
}

// WithVersion sets the agent's own version string.
func WithVersion(v string) AgentOption {
	return func(a *Agent) { a.envelope.Version = v }
}

// WithFramework names the framework driving the agent.
func WithFramework(f string) AgentOption {
	return func(a *Agent) { a.envelope.Framework = f }
}

// WithEnvironment tags every event with a deployment environment.
func WithEnvironment(env string) AgentOption {
	return func(a *Agent) { a.envelope.Environment = env }
}

// WithGroup tags every event with a fleet group.
func WithGroup(g string) AgentOption {
	return func(a *Agent) { a.envelope.Group = g }
}

// WithProject routes events without an explicit project to this one.
func WithProject(projectID string) AgentOption {
	return func(a *Agent) { a.projectID = projectID }
}

// WithStuckThreshold overrides the server-side stuck detection window.
func WithStuckThreshold(seconds int) AgentOption {
	return func(a *Agent) { a.envelope.StuckThresholdSeconds = seconds }
}

// WithHeartbeat starts a background heartbeat at the given interval.
func WithHeartbeat(interval time.Duration) AgentOption {
	return func(a *Agent) { a.heartbeatInterval = interval }
}

// WithHeartbeatPayload supplies extra data attached to each heartbeat.
func WithHeartbeatPayload(fn func() map[string]any) AgentOption {
	return func(a *Agent) { a.heartbeatPayload = fn }
}

// WithQueueProvider emits a queue_snapshot alongside each heartbeat,
// built from the callback's data.
func WithQueueProvider(fn func() map[string]any) AgentOption {
	return func(a *Agent) { a.queueProvider = fn }
}

// Agent is the per-agent emitting surface. Safe for concurrent use.
type Agent struct {
	client    *Client
	id        string
	envelope  model.Envelope
	projectID string

	heartbeatInterval time.Duration
	heartbeatPayload  func() map[string]any
	queueProvider     func() map[string]any

	hbMu   sync.Mutex
	hbStop chan struct{}
}

func newAgent(c *Client, id string, opts ...AgentOption) *Agent {
	a := &Agent{
		client: c,
		id:     id,
		envelope: model.Envelope{
			AgentID:    id,
			Runtime:    "go/" + runtime.Version(),
			SDKVersion: version.Full(),
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.heartbeatInterval > 0 {
		a.startHeartbeat()
	}
	return a
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

func (a *Agent) startHeartbeat() {
	a.hbMu.Lock()
	defer a.hbMu.Unlock()
	if a.hbStop != nil {
		return
	}
	stop := make(chan struct{})
	a.hbStop = stop

	go func() {
		ticker := time.NewTicker(a.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.Heartbeat()
			case <-stop:
				return
			}
		}
	}()
}

func (a *Agent) stopHeartbeat() {
	a.hbMu.Lock()
	defer a.hbMu.Unlock()
	if a.hbStop != nil {
		close(a.hbStop)
		a.hbStop = nil
	}
}

// Heartbeat emits one heartbeat, plus a queue snapshot when a queue
// provider is configured.
func (a *Agent) Heartbeat() {
	e := model.IncomingEvent{EventType: string(model.EventHeartbeat)}
	if a.heartbeatPayload != nil {
		if data := a.heartbeatPayload(); len(data) > 0 {
			e.Payload = &model.Payload{Data: data}
		}
	}
	a.emit(e)

	if a.queueProvider != nil {
		if data := a.queueProvider(); data != nil {
			a.QueueSnapshot(data)
		}
	}
}

// Event emits one raw event. Missing id, timestamp, severity and
// project are filled in.
func (a *Agent) Event(e model.IncomingEvent) {
	a.emit(e)
}

// emit completes and buffers an event. Instrumentation must never
// affect the host application, so there is no error to return.
func (a *Agent) emit(e model.IncomingEvent) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	if e.ProjectID == "" {
		e.ProjectID = a.projectID
	}
	if e.Severity == "" {
		var kind model.PayloadKind
		if e.Payload != nil {
			kind = e.Payload.Kind
		}
		e.Severity = string(model.DefaultSeverity(model.EventType(e.EventType), kind))
	}
	a.client.transport.Enqueue(a.envelope, e)
}
