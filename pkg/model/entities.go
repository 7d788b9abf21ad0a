package model

import "time"

// Plan determines a tenant's retention window and quota limits.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// RetentionDays returns the event TTL for the plan. Unknown plans fall
// back to the free tier.
func (p Plan) RetentionDays() int {
	switch p {
	case PlanPro:
		return 30
	case PlanEnterprise:
		return 90
	default:
		return 7
	}
}

// Tenant is the isolation boundary. Everything else is owned by exactly
// one tenant. Tenants are created explicitly and never implicitly deleted.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Plan      Plan      `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KeyType restricts what an API key may do. Read keys are forbidden from
// write operations.
type KeyType string

const (
	KeyTypeLive KeyType = "live"
	KeyTypeTest KeyType = "test"
	KeyTypeRead KeyType = "read"
)

// APIKey is an authentication credential. Only the SHA-256 hash of the
// raw key is stored; KeyPrefix keeps the first characters for display.
// Key string format: hb_{type}_{32 hex chars}.
type APIKey struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	KeyHash    string     `json:"key_hash"`
	KeyPrefix  string     `json:"key_prefix"`
	Type       KeyType    `json:"type"`
	Label      string     `json:"label,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// DefaultProjectSlug is the slug of the project every tenant receives at
// creation. The default project cannot be deleted.
const DefaultProjectSlug = "default"

// Project groups events within a tenant. Slug is unique per tenant.
// AutoCreated marks projects materialised by the ingestion pipeline.
type Project struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	Archived    bool      `json:"archived"`
	AutoCreated bool      `json:"auto_created"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AgentStatus is the derived agent state. Never persisted, computed
// from the profile and the clock by pkg/derive. PreviousStatus on the
// profile is the sole exception, recorded to detect transitions.
type AgentStatus string

const (
	AgentStuck           AgentStatus = "stuck"
	AgentError           AgentStatus = "error"
	AgentWaitingApproval AgentStatus = "waiting_approval"
	AgentProcessing      AgentStatus = "processing"
	AgentIdle            AgentStatus = "idle"
)

// TaskStatus is the derived task state, computed from the set of event
// types seen for a task id.
type TaskStatus string

const (
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskEscalated  TaskStatus = "escalated"
	TaskWaiting    TaskStatus = "waiting"
	TaskProcessing TaskStatus = "processing"
)

// AgentProfile caches the last-known state of an agent, keyed by
// (tenant, agent id). Upserted on every ingested batch, never deleted.
type AgentProfile struct {
	TenantID              string      `json:"tenant_id"`
	AgentID               string      `json:"agent_id"`
	AgentType             string      `json:"agent_type,omitempty"`
	Version               string      `json:"version,omitempty"`
	Framework             string      `json:"framework,omitempty"`
	Runtime               string      `json:"runtime,omitempty"`
	SDKVersion            string      `json:"sdk_version,omitempty"`
	Environment           string      `json:"environment,omitempty"`
	Group                 string      `json:"group,omitempty"`
	FirstSeen             time.Time   `json:"first_seen"`
	LastSeen              time.Time   `json:"last_seen"`
	LastHeartbeat         *time.Time  `json:"last_heartbeat,omitempty"`
	LastEventType         EventType   `json:"last_event_type,omitempty"`
	LastTaskID            string      `json:"last_task_id,omitempty"`
	LastProjectID         string      `json:"last_project_id,omitempty"`
	StuckThresholdSeconds int         `json:"stuck_threshold_seconds"`
	PreviousStatus        AgentStatus `json:"previous_status,omitempty"`
}

// ProjectAgent is a materialised (tenant, project, agent) junction row,
// created whenever an ingested event names both a project and an agent.
type ProjectAgent struct {
	TenantID  string    `json:"tenant_id"`
	ProjectID string    `json:"project_id"`
	AgentID   string    `json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AlertCondition enumerates the six rule condition kinds.
type AlertCondition string

const (
	CondAgentStuck       AlertCondition = "agent_stuck"
	CondTaskFailed       AlertCondition = "task_failed"
	CondErrorRate        AlertCondition = "error_rate"
	CondDurationExceeded AlertCondition = "duration_exceeded"
	CondHeartbeatLost    AlertCondition = "heartbeat_lost"
	CondCostThreshold    AlertCondition = "cost_threshold"
)

// ValidAlertCondition reports whether s names one of the six condition kinds.
func ValidAlertCondition(s string) bool {
	switch AlertCondition(s) {
	case CondAgentStuck, CondTaskFailed, CondErrorRate,
		CondDurationExceeded, CondHeartbeatLost, CondCostThreshold:
		return true
	}
	return false
}

// AlertAction describes an action recorded on firing. Dispatch is
// stubbed: webhook and email actions are logged, not sent.
type AlertAction struct {
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
}

// AlertRule is a tenant-scoped alert definition. ProjectID nil means
// tenant-wide scope.
type AlertRule struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	ProjectID       *string           `json:"project_id,omitempty"`
	Name            string            `json:"name"`
	Condition       AlertCondition    `json:"condition"`
	Config          map[string]any    `json:"config,omitempty"`
	Filters         map[string]string `json:"filters,omitempty"`
	Actions         []AlertAction     `json:"actions,omitempty"`
	CooldownSeconds int               `json:"cooldown_seconds"`
	Enabled         bool              `json:"enabled"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ActionResult records the outcome of one dispatched action.
type ActionResult struct {
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
	Status string `json:"status"`
}

// AlertHistoryRecord is an immutable firing record with a snapshot of
// the condition values at firing time.
type AlertHistoryRecord struct {
	ID           string         `json:"id"`
	RuleID       string         `json:"rule_id"`
	TenantID     string         `json:"tenant_id"`
	FiredAt      time.Time      `json:"fired_at"`
	Snapshot     map[string]any `json:"snapshot,omitempty"`
	ActionsTaken []ActionResult `json:"actions_taken,omitempty"`
	AgentID      string         `json:"agent_id,omitempty"`
	TaskID       string         `json:"task_id,omitempty"`
}

// PricingEntry is a global (not tenant-scoped) pricing table row.
// ModelPattern is matched case-insensitively: exact match first, then
// the longest pattern that is a prefix of the model name.
type PricingEntry struct {
	ModelPattern     string  `json:"model_pattern"`
	Provider         string  `json:"provider,omitempty"`
	InputPerMTokens  float64 `json:"input_per_m"`
	OutputPerMTokens float64 `json:"output_per_m"`
}

// Cost provenance values recorded on llm_call payload data.
const (
	CostSourceReported  = "reported"
	CostSourceEstimated = "estimated"
)
