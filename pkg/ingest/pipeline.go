// Package ingest implements the server-side write path: batch
// validation, enrichment, canonicalisation, persistence, agent cache
// upsert, junction maintenance, fan-out, and alert evaluation, in that
// order per request.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/loophive/hiveboard/pkg/derive"
	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/pricing"
	"github.com/loophive/hiveboard/pkg/storage"
)

// Notifier receives ingestion fan-out. The stream manager implements
// it; a nil-safe no-op implementation backs tests.
type Notifier interface {
	// EventIngested is called once per accepted event.
	EventIngested(e *model.Event)
	// AgentStatus is called after the agent cache upsert with the
	// status derived before and after the batch. The implementation
	// decides whether a status_changed or stuck message goes out.
	AgentStatus(tenantID string, p *model.AgentProfile, prev, cur model.AgentStatus)
}

// AlertEvaluator runs enabled alert rules after ingestion.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, tenantID string, events []*model.Event)
}

// EventError describes one rejected event.
type EventError struct {
	EventID string `json:"event_id"`
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

// Result is the ingest response body. Status is 200 when Rejected is
// zero, 207 otherwise.
type Result struct {
	Accepted int          `json:"accepted"`
	Rejected int          `json:"rejected"`
	Errors   []EventError `json:"errors"`
	Warnings []string     `json:"warnings"`
}

// Rejection reasons.
const (
	reasonMissingField     = "missing_field"
	reasonInvalidEventType = "invalid_event_type"
	reasonInvalidTimestamp = "invalid_timestamp"
	reasonOversizeAgentID  = "oversize_agent_id"
	reasonOversizeTaskID   = "oversize_task_id"
	reasonOversizePayload  = "oversize_payload"
)

// recommendedDataFields lists the data keys each well-known payload
// kind is expected to carry. Absence is a warning, never a rejection.
var recommendedDataFields = map[model.PayloadKind][]string{
	model.KindLLMCall:       {"model"},
	model.KindQueueSnapshot: {"pending"},
	model.KindTodo:          {"todo_id"},
	model.KindScheduled:     {"items"},
	model.KindPlanCreated:   {"steps"},
	model.KindPlanStep:      {"step"},
	model.KindIssue:         {"issue_id"},
}

// Pipeline is the ingestion service. One instance serves all tenants.
type Pipeline struct {
	store    storage.Store
	pricing  *pricing.Engine
	notifier Notifier
	alerts   AlertEvaluator
	logger   *slog.Logger
	now      func() time.Time
}

// New creates the pipeline. notifier and alerts may be nil.
func New(store storage.Store, eng *pricing.Engine, notifier Notifier, alerts AlertEvaluator, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    store,
		pricing:  eng,
		notifier: notifier,
		alerts:   alerts,
		logger:   logger.With("component", "ingest"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process runs the ordered pipeline steps for one batch. Auth and rate
// limiting are consumed upstream; tenantID is the resolved tenant.
func (p *Pipeline) Process(ctx context.Context, tenantID string, env model.Envelope, incoming []model.IncomingEvent) (*Result, error) {
	if len(incoming) > model.MaxBatchEvents {
		return nil, storage.NewValidationError("events",
			fmt.Sprintf("batch exceeds %d events", model.MaxBatchEvents))
	}
	if env.AgentID == "" {
		return nil, storage.NewValidationError("envelope.agent_id", "agent_id is required")
	}

	res := &Result{Errors: []EventError{}, Warnings: []string{}}
	if len(incoming) == 0 {
		return res, nil
	}

	agentIDOversize := len(env.AgentID) > model.MaxAgentIDLen

	// Validate and enrich each event, building the canonical batch.
	receivedAt := p.now()
	accepted := make([]*model.Event, 0, len(incoming))
	for i := range incoming {
		ev := &incoming[i]
		if agentIDOversize {
			res.reject(ev.EventID, reasonOversizeAgentID, "agent_id exceeds limit")
			continue
		}
		canonical, eventErr := p.validateEvent(ev, res)
		if eventErr != nil {
			res.Errors = append(res.Errors, *eventErr)
			res.Rejected++
			continue
		}
		p.enrich(ctx, tenantID, env, canonical, res)
		canonical.TenantID = tenantID
		canonical.AgentID = env.AgentID
		canonical.AgentType = env.AgentType
		canonical.ReceivedAt = receivedAt
		accepted = append(accepted, canonical)
	}
	res.Accepted = len(accepted)

	if len(accepted) == 0 {
		return res, nil
	}

	// Single batched insert; duplicates vanish silently.
	inserted, err := p.store.InsertEvents(ctx, accepted)
	if err != nil {
		return nil, fmt.Errorf("insert events: %w", err)
	}
	if inserted < len(accepted) {
		p.logger.Debug("deduplicated events on insert",
			"tenant_id", tenantID, "accepted", len(accepted), "inserted", inserted)
	}

	prev, cur, profile, err := p.upsertAgent(ctx, tenantID, env, accepted, receivedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert agent: %w", err)
	}

	// Junction rows for every distinct project observed in the batch.
	seenProjects := map[string]bool{}
	for _, e := range accepted {
		if e.ProjectID == "" || seenProjects[e.ProjectID] {
			continue
		}
		seenProjects[e.ProjectID] = true
		if err := p.store.EnsureProjectAgent(ctx, tenantID, e.ProjectID, env.AgentID); err != nil {
			p.logger.Error("failed to ensure project-agent junction",
				"tenant_id", tenantID, "project_id", e.ProjectID, "error", err)
		}
	}

	if p.notifier != nil {
		for _, e := range accepted {
			p.notifier.EventIngested(e)
		}
		p.notifier.AgentStatus(tenantID, profile, prev, cur)
	}

	if p.alerts != nil {
		p.alerts.Evaluate(ctx, tenantID, accepted)
	}

	return res, nil
}

func (r *Result) reject(eventID, reason, detail string) {
	r.Errors = append(r.Errors, EventError{EventID: eventID, Error: reason, Detail: detail})
	r.Rejected++
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// validateEvent checks one incoming event and returns its canonical
// form, or the rejection to record.
func (p *Pipeline) validateEvent(ev *model.IncomingEvent, res *Result) (*model.Event, *EventError) {
	if ev.EventID == "" {
		return nil, &EventError{EventID: "", Error: reasonMissingField, Detail: "event_id is required"}
	}
	if ev.Timestamp == "" {
		return nil, &EventError{EventID: ev.EventID, Error: reasonMissingField, Detail: "timestamp is required"}
	}
	if ev.EventType == "" {
		return nil, &EventError{EventID: ev.EventID, Error: reasonMissingField, Detail: "event_type is required"}
	}
	if !model.ValidEventType(ev.EventType) {
		return nil, &EventError{EventID: ev.EventID, Error: reasonInvalidEventType,
			Detail: fmt.Sprintf("unknown event_type %q", ev.EventType)}
	}
	ts, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
	if err != nil {
		return nil, &EventError{EventID: ev.EventID, Error: reasonInvalidTimestamp,
			Detail: fmt.Sprintf("cannot parse timestamp %q", ev.Timestamp)}
	}
	if len(ev.TaskID) > model.MaxTaskIDLen {
		return nil, &EventError{EventID: ev.EventID, Error: reasonOversizeTaskID, Detail: "task_id exceeds limit"}
	}
	if ev.Payload != nil {
		size, err := payloadSize(ev.Payload)
		if err != nil {
			return nil, &EventError{EventID: ev.EventID, Error: reasonOversizePayload, Detail: "payload is not serialisable"}
		}
		if size > model.MaxPayloadBytes {
			return nil, &EventError{EventID: ev.EventID, Error: reasonOversizePayload,
				Detail: fmt.Sprintf("payload exceeds %d bytes", model.MaxPayloadBytes)}
		}
	}

	e := &model.Event{
		EventID:        ev.EventID,
		Timestamp:      ts.UTC(),
		EventType:      model.EventType(ev.EventType),
		ProjectID:      ev.ProjectID,
		TaskID:         ev.TaskID,
		TaskType:       ev.TaskType,
		TaskRunID:      ev.TaskRunID,
		CorrelationID:  ev.CorrelationID,
		ActionID:       ev.ActionID,
		ParentActionID: ev.ParentActionID,
		Status:         ev.Status,
		DurationMS:     ev.DurationMS,
		ParentEventID:  ev.ParentEventID,
		Payload:        ev.Payload,
	}

	// Severity: unknown values warn and fall through to the default.
	switch {
	case ev.Severity == "":
		// filled during enrichment
	case model.ValidSeverity(ev.Severity):
		e.Severity = model.Severity(ev.Severity)
	default:
		res.warn("event %s: unknown severity %q, using default", ev.EventID, ev.Severity)
	}

	if e.Payload != nil {
		for _, field := range recommendedDataFields[e.Payload.Kind] {
			if _, ok := e.Payload.Data[field]; !ok {
				res.warn("event %s: payload kind %q missing recommended field %q",
					ev.EventID, e.Payload.Kind, field)
			}
		}
	}
	return e, nil
}

func payloadSize(pl *model.Payload) (int, error) {
	data, err := json.Marshal(pl)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// enrich applies truncation, severity defaulting, project resolution
// and cost enrichment to an accepted event.
func (p *Pipeline) enrich(ctx context.Context, tenantID string, env model.Envelope, e *model.Event, res *Result) {
	e.Environment = env.Environment
	if len(e.Environment) > model.MaxEnvironmentLen {
		e.Environment = e.Environment[:model.MaxEnvironmentLen]
		res.warn("event %s: environment truncated to %d chars", e.EventID, model.MaxEnvironmentLen)
	}
	e.Group = env.Group
	if len(e.Group) > model.MaxGroupLen {
		e.Group = e.Group[:model.MaxGroupLen]
		res.warn("event %s: group truncated to %d chars", e.EventID, model.MaxGroupLen)
	}

	var kind model.PayloadKind
	if e.Payload != nil {
		kind = e.Payload.Kind
		if len(e.Payload.Summary) > model.MaxSummaryLen {
			e.Payload.Summary = e.Payload.Summary[:model.MaxSummaryLen]
			res.warn("event %s: summary truncated to %d chars", e.EventID, model.MaxSummaryLen)
		}
	}
	if e.Severity == "" {
		e.Severity = model.DefaultSeverity(e.EventType, kind)
	}

	if e.ProjectID != "" {
		e.ProjectID = p.resolveProject(ctx, tenantID, e.ProjectID, res)
	}

	if e.Payload != nil && e.Payload.Kind == model.KindLLMCall && p.pricing != nil {
		p.pricing.Enrich(e.Payload.Data)
	}
}

// resolveProject maps a caller-supplied project reference (id or slug)
// to a project id, auto-creating under quota and falling back to the
// default project over quota.
func (p *Pipeline) resolveProject(ctx context.Context, tenantID, ref string, res *Result) string {
	if _, err := p.store.GetProject(ctx, tenantID, ref); err == nil {
		return ref
	}
	if proj, err := p.store.GetProjectBySlug(ctx, tenantID, ref); err == nil {
		return proj.ID
	}

	count, err := p.store.CountProjects(ctx, tenantID)
	if err != nil {
		p.logger.Error("failed to count projects", "tenant_id", tenantID, "error", err)
		return p.defaultProjectID(ctx, tenantID, ref)
	}
	if count >= model.MaxProjectsPerTenant {
		res.warn("project quota reached, event routed to default project")
		return p.defaultProjectID(ctx, tenantID, ref)
	}

	now := p.now()
	proj := &model.Project{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        ref,
		Slug:        ref,
		AutoCreated: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.store.CreateProject(ctx, proj); err != nil {
		// A concurrent batch may have created the same slug.
		if existing, gerr := p.store.GetProjectBySlug(ctx, tenantID, ref); gerr == nil {
			return existing.ID
		}
		p.logger.Error("failed to auto-create project",
			"tenant_id", tenantID, "slug", ref, "error", err)
		return p.defaultProjectID(ctx, tenantID, ref)
	}
	res.warn("Auto-created project '%s'", ref)
	p.logger.Info("auto-created project", "tenant_id", tenantID, "slug", ref, "project_id", proj.ID)
	return proj.ID
}

func (p *Pipeline) defaultProjectID(ctx context.Context, tenantID, ref string) string {
	proj, err := p.store.GetProjectBySlug(ctx, tenantID, model.DefaultProjectSlug)
	if err != nil {
		p.logger.Error("default project missing", "tenant_id", tenantID, "error", err)
		return ref
	}
	return proj.ID
}

// upsertAgent applies the batch to the agent profile atomically and
// returns the status derived before and after.
func (p *Pipeline) upsertAgent(ctx context.Context, tenantID string, env model.Envelope, batch []*model.Event, now time.Time) (prev, cur model.AgentStatus, profile *model.AgentProfile, err error) {
	// Chronological order within the batch: last_event_type must come
	// from the latest event even when the batch arrived out of order.
	sorted := make([]*model.Event, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	latest := sorted[len(sorted)-1]

	profile, err = p.store.UpdateAgent(ctx, tenantID, env.AgentID, func(a *model.AgentProfile, found bool) *model.AgentProfile {
		if !found {
			a.FirstSeen = now
			a.StuckThresholdSeconds = model.DefaultStuckThresholdSeconds
		}
		prev = derive.AgentStatus(a, now)

		if env.AgentType != "" {
			a.AgentType = env.AgentType
		}
		if env.Version != "" {
			a.Version = env.Version
		}
		if env.Framework != "" {
			a.Framework = env.Framework
		}
		if env.Runtime != "" {
			a.Runtime = env.Runtime
		}
		if env.SDKVersion != "" {
			a.SDKVersion = env.SDKVersion
		}
		if env.Environment != "" {
			a.Environment = env.Environment
		}
		if env.Group != "" {
			a.Group = env.Group
		}
		if env.StuckThresholdSeconds > 0 {
			a.StuckThresholdSeconds = env.StuckThresholdSeconds
		}

		for _, e := range sorted {
			if e.Timestamp.After(a.LastSeen) {
				a.LastSeen = e.Timestamp
			}
			if e.EventType == model.EventHeartbeat {
				if a.LastHeartbeat == nil || e.Timestamp.After(*a.LastHeartbeat) {
					ts := e.Timestamp
					a.LastHeartbeat = &ts
				}
			}
			if e.TaskID != "" {
				a.LastTaskID = e.TaskID
			}
			if e.ProjectID != "" {
				a.LastProjectID = e.ProjectID
			}
		}
		a.LastEventType = latest.EventType

		cur = derive.AgentStatus(a, now)
		a.PreviousStatus = prev
		return a
	})
	return prev, cur, profile, err
}
