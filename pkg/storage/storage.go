// Package storage defines the persistence contract for the backend.
// Implementations: filestore (file-per-table reference implementation)
// and postgres (SQL translation of the same contract).
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loophive/hiveboard/pkg/model"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when creating a duplicate entity.
	ErrAlreadyExists = errors.New("entity already exists")
)

// ValidationError wraps field-specific validation errors raised by the
// write paths (duplicate slugs, rule violations and the like carry
// dedicated sentinels instead).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// EventFilter selects events. Zero values mean "no constraint".
// Since is inclusive, Until exclusive. Cursor is the event id of the
// last row returned by the previous page.
type EventFilter struct {
	TenantID          string
	ProjectID         string
	AgentID           string
	TaskID            string
	EventType         model.EventType
	Severity          model.Severity
	Environment       string
	Group             string
	PayloadKind       model.PayloadKind
	Since             *time.Time
	Until             *time.Time
	ExcludeHeartbeats bool
	Ascending         bool
	Cursor            string
	Limit             int
}

// ColdRule marks an event class whose retention horizon is shorter than
// the tenant TTL.
type ColdRule struct {
	EventType model.EventType
	MaxAge    time.Duration
}

// PruneResult reports one retention pass.
type PruneResult struct {
	TTLPruned   int `json:"ttl_pruned"`
	ColdPruned  int `json:"cold_pruned"`
	TotalPruned int `json:"total_pruned"`
}

// AgentUpdateFn mutates an agent profile under the agents table lock.
// found is false when no profile exists yet; the returned profile is
// persisted. Returning nil leaves the table unchanged.
type AgentUpdateFn func(p *model.AgentProfile, found bool) *model.AgentProfile

// Store is the abstract persistence contract. All mutation of any row
// happens under the owning table's lock; reads may observe lock-free
// snapshots. Method signatures are kept primitive enough to admit
// single-query SQL translations.
type Store interface {
	// Tenants
	CreateTenant(ctx context.Context, t *model.Tenant) error
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*model.Tenant, error)
	ListTenants(ctx context.Context) ([]*model.Tenant, error)

	// API keys. Keys are soft-revoked, never hard-deleted.
	CreateAPIKey(ctx context.Context, k *model.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context, tenantID string) ([]*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, tenantID, id string, at time.Time) error
	TouchAPIKey(ctx context.Context, id string, at time.Time) error

	// Projects. Slug is unique per tenant; deletion is archival.
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, tenantID, id string) (*model.Project, error)
	GetProjectBySlug(ctx context.Context, tenantID, slug string) (*model.Project, error)
	ListProjects(ctx context.Context, tenantID string, includeArchived bool) ([]*model.Project, error)
	UpdateProject(ctx context.Context, p *model.Project) error
	CountProjects(ctx context.Context, tenantID string) (int, error)
	// ReassignProjectEvents moves all events from one project to another
	// (merge / delete-with-reassignment) and returns the count moved.
	ReassignProjectEvents(ctx context.Context, tenantID, fromProjectID, toProjectID string) (int, error)

	// Agent profiles. UpdateAgent runs fn atomically under the agents
	// table lock so previous_status reflects the most recently committed
	// state even across concurrent batches.
	GetAgent(ctx context.Context, tenantID, agentID string) (*model.AgentProfile, error)
	ListAgents(ctx context.Context, tenantID string) ([]*model.AgentProfile, error)
	UpdateAgent(ctx context.Context, tenantID, agentID string, fn AgentUpdateFn) (*model.AgentProfile, error)

	// Project-agent junction.
	EnsureProjectAgent(ctx context.Context, tenantID, projectID, agentID string) error
	DeleteProjectAgent(ctx context.Context, tenantID, projectID, agentID string) error
	ListProjectAgents(ctx context.Context, tenantID, projectID string) ([]string, error)

	// Events. InsertEvents deduplicates silently on (tenant, event_id)
	// and returns the number actually inserted. ListEvents returns the
	// page plus whether more rows matched beyond the limit.
	InsertEvents(ctx context.Context, events []*model.Event) (int, error)
	ListEvents(ctx context.Context, f EventFilter) ([]*model.Event, bool, error)
	// PruneEvents applies TTL cutoffs (tenant id -> oldest allowed
	// timestamp) and then cold rules to the survivors, in one pass under
	// the events table lock. Events of unknown tenants are kept.
	PruneEvents(ctx context.Context, ttlCutoffs map[string]time.Time, cold []ColdRule) (PruneResult, error)

	// Alert rules and history.
	CreateAlertRule(ctx context.Context, r *model.AlertRule) error
	GetAlertRule(ctx context.Context, tenantID, id string) (*model.AlertRule, error)
	ListAlertRules(ctx context.Context, tenantID string, enabledOnly bool) ([]*model.AlertRule, error)
	UpdateAlertRule(ctx context.Context, r *model.AlertRule) error
	DeleteAlertRule(ctx context.Context, tenantID, id string) error
	InsertAlertHistory(ctx context.Context, rec *model.AlertHistoryRecord) error
	ListAlertHistory(ctx context.Context, tenantID, ruleID string, limit int) ([]*model.AlertHistoryRecord, error)
	// LastFiring returns the most recent history record for a rule, or
	// ErrNotFound when the rule has never fired.
	LastFiring(ctx context.Context, ruleID string) (*model.AlertHistoryRecord, error)

	// Ping reports backend health. Close releases resources.
	Ping(ctx context.Context) error
	Close() error
}
