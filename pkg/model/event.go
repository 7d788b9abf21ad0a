// Package model defines the canonical event schema and the entities the
// backend persists: tenants, API keys, projects, agent profiles, alert
// rules and pricing entries.
//
// Events are immutable once ingested. Agent status and task status are
// never part of the schema; they are derived read-time (pkg/derive).
package model

import "time"

// EventType classifies an event. Thirteen members: lifecycle, task,
// action, narrative, and the custom escape hatch.
type EventType string

const (
	EventAgentRegistered   EventType = "agent_registered"
	EventHeartbeat         EventType = "heartbeat"
	EventTaskStarted       EventType = "task_started"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskFailed        EventType = "task_failed"
	EventActionStarted     EventType = "action_started"
	EventActionCompleted   EventType = "action_completed"
	EventActionFailed      EventType = "action_failed"
	EventRetryStarted      EventType = "retry_started"
	EventEscalated         EventType = "escalated"
	EventApprovalRequested EventType = "approval_requested"
	EventApprovalReceived  EventType = "approval_received"
	EventCustom            EventType = "custom"
)

// Severity is the four-level severity ladder.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// PayloadKind tags the well-known payload shapes.
type PayloadKind string

const (
	KindLLMCall       PayloadKind = "llm_call"
	KindQueueSnapshot PayloadKind = "queue_snapshot"
	KindTodo          PayloadKind = "todo"
	KindScheduled     PayloadKind = "scheduled"
	KindPlanCreated   PayloadKind = "plan_created"
	KindPlanStep      PayloadKind = "plan_step"
	KindIssue         PayloadKind = "issue"
)

// Field-size and batch limits enforced by the ingestion pipeline.
const (
	MaxPayloadBytes   = 32 * 1024
	MaxSummaryLen     = 512
	MaxAgentIDLen     = 256
	MaxTaskIDLen      = 256
	MaxEnvironmentLen = 128
	MaxGroupLen       = 128
	MaxBatchEvents    = 500
	MaxBatchBytes     = 1 << 20

	// MaxProjectsPerTenant caps auto-created projects; overflow events
	// route to the tenant's default project.
	MaxProjectsPerTenant = 50
)

// DefaultStuckThresholdSeconds is the stuck threshold applied when an
// envelope does not supply one.
const DefaultStuckThresholdSeconds = 300

// Payload is the universal optional payload shape carried by events.
type Payload struct {
	Kind    PayloadKind    `json:"kind,omitempty"`
	Summary string         `json:"summary,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Tags    []string       `json:"tags,omitempty"`
}

// Event is the fully canonicalised, stored event record.
// Timestamp is caller-supplied; ReceivedAt is server-set at ingestion.
type Event struct {
	EventID        string    `json:"event_id"`
	TenantID       string    `json:"tenant_id"`
	AgentID        string    `json:"agent_id"`
	AgentType      string    `json:"agent_type,omitempty"`
	ProjectID      string    `json:"project_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	ReceivedAt     time.Time `json:"received_at"`
	Environment    string    `json:"environment,omitempty"`
	Group          string    `json:"group,omitempty"`
	TaskID         string    `json:"task_id,omitempty"`
	TaskType       string    `json:"task_type,omitempty"`
	TaskRunID      string    `json:"task_run_id,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	ActionID       string    `json:"action_id,omitempty"`
	ParentActionID string    `json:"parent_action_id,omitempty"`
	EventType      EventType `json:"event_type"`
	Severity       Severity  `json:"severity"`
	Status         string    `json:"status,omitempty"`
	DurationMS     *float64  `json:"duration_ms,omitempty"`
	ParentEventID  string    `json:"parent_event_id,omitempty"`
	Payload        *Payload  `json:"payload,omitempty"`
}

// Envelope carries the per-batch agent identity and runtime metadata,
// separated from events to keep individual events compact.
type Envelope struct {
	AgentID               string `json:"agent_id"`
	AgentType             string `json:"agent_type,omitempty"`
	Version               string `json:"version,omitempty"`
	Framework             string `json:"framework,omitempty"`
	Runtime               string `json:"runtime,omitempty"`
	SDKVersion            string `json:"sdk_version,omitempty"`
	Environment           string `json:"environment,omitempty"`
	Group                 string `json:"group,omitempty"`
	StuckThresholdSeconds int    `json:"stuck_threshold_seconds,omitempty"`
}

// IncomingEvent is the wire shape of an event inside an ingest batch,
// before validation and canonicalisation. Timestamp stays a string here
// so unparseable values can be rejected with a precise error.
type IncomingEvent struct {
	EventID        string   `json:"event_id"`
	Timestamp      string   `json:"timestamp"`
	EventType      string   `json:"event_type"`
	Severity       string   `json:"severity,omitempty"`
	ProjectID      string   `json:"project_id,omitempty"`
	TaskID         string   `json:"task_id,omitempty"`
	TaskType       string   `json:"task_type,omitempty"`
	TaskRunID      string   `json:"task_run_id,omitempty"`
	CorrelationID  string   `json:"correlation_id,omitempty"`
	ActionID       string   `json:"action_id,omitempty"`
	ParentActionID string   `json:"parent_action_id,omitempty"`
	Status         string   `json:"status,omitempty"`
	DurationMS     *float64 `json:"duration_ms,omitempty"`
	ParentEventID  string   `json:"parent_event_id,omitempty"`
	Payload        *Payload `json:"payload,omitempty"`
}

// ValidEventType reports whether s is one of the thirteen event types.
func ValidEventType(s string) bool {
	switch EventType(s) {
	case EventAgentRegistered, EventHeartbeat,
		EventTaskStarted, EventTaskCompleted, EventTaskFailed,
		EventActionStarted, EventActionCompleted, EventActionFailed,
		EventRetryStarted, EventEscalated,
		EventApprovalRequested, EventApprovalReceived,
		EventCustom:
		return true
	}
	return false
}

// ValidSeverity reports whether s is one of the four severities.
func ValidSeverity(s string) bool {
	switch Severity(s) {
	case SeverityDebug, SeverityInfo, SeverityWarn, SeverityError:
		return true
	}
	return false
}

// severityRank orders severities for min_severity filter comparisons.
var severityRank = map[Severity]int{
	SeverityDebug: 0,
	SeverityInfo:  1,
	SeverityWarn:  2,
	SeverityError: 3,
}

// SeverityAtLeast reports whether sev is at or above min.
// Unknown severities compare as debug.
func SeverityAtLeast(sev, min Severity) bool {
	return severityRank[sev] >= severityRank[min]
}

// defaultSeverity maps each event type to the severity applied when the
// caller leaves it unset.
var defaultSeverity = map[EventType]Severity{
	EventAgentRegistered:   SeverityInfo,
	EventHeartbeat:         SeverityDebug,
	EventTaskStarted:       SeverityInfo,
	EventTaskCompleted:     SeverityInfo,
	EventTaskFailed:        SeverityError,
	EventActionStarted:     SeverityDebug,
	EventActionCompleted:   SeverityDebug,
	EventActionFailed:      SeverityError,
	EventRetryStarted:      SeverityWarn,
	EventEscalated:         SeverityWarn,
	EventApprovalRequested: SeverityInfo,
	EventApprovalReceived:  SeverityInfo,
	EventCustom:            SeverityInfo,
}

// kindSeverity overrides the event-type default for specific payload
// kinds. Applied after the event-type table.
var kindSeverity = map[PayloadKind]Severity{
	KindIssue:         SeverityWarn,
	KindQueueSnapshot: SeverityDebug,
}

// DefaultSeverity returns the severity for an event whose caller did not
// set one: the event-type default, overridden by the payload kind when
// the kind has its own entry.
func DefaultSeverity(et EventType, kind PayloadKind) Severity {
	sev, ok := defaultSeverity[et]
	if !ok {
		sev = SeverityInfo
	}
	if ks, ok := kindSeverity[kind]; ok {
		sev = ks
	}
	return sev
}
