// Package alerting evaluates tenant alert rules after ingestion. Six
// condition kinds, cooldown enforcement via alert history, and stubbed
// action dispatch (webhook and email are logged, not sent).
package alerting

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loophive/hiveboard/pkg/derive"
	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/storage"
)

// Engine runs rule evaluation. One instance serves all tenants.
type Engine struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates the alerting engine.
func New(store storage.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		logger: logger.With("component", "alerting"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// firing is one matched condition with its snapshot.
type firing struct {
	snapshot map[string]any
	agentID  string
	taskID   string
}

// Evaluate runs every enabled rule of the tenant against the freshly
// ingested events. Errors are logged; evaluation never fails ingestion.
func (e *Engine) Evaluate(ctx context.Context, tenantID string, events []*model.Event) {
	rules, err := e.store.ListAlertRules(ctx, tenantID, true)
	if err != nil {
		e.logger.Error("failed to list alert rules", "tenant_id", tenantID, "error", err)
		return
	}

	for _, rule := range rules {
		if e.inCooldown(ctx, rule) {
			continue
		}
		f, err := e.evaluateRule(ctx, rule, events)
		if err != nil {
			e.logger.Error("rule evaluation failed",
				"tenant_id", tenantID, "rule_id", rule.ID, "condition", rule.Condition, "error", err)
			continue
		}
		if f == nil {
			continue
		}
		e.fire(ctx, rule, f)
	}
}

func (e *Engine) inCooldown(ctx context.Context, rule *model.AlertRule) bool {
	if rule.CooldownSeconds <= 0 {
		return false
	}
	last, err := e.store.LastFiring(ctx, rule.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	if err != nil {
		e.logger.Error("failed to read alert history", "rule_id", rule.ID, "error", err)
		return false
	}
	return e.now().Sub(last.FiredAt) < time.Duration(rule.CooldownSeconds)*time.Second
}

func (e *Engine) evaluateRule(ctx context.Context, rule *model.AlertRule, events []*model.Event) (*firing, error) {
	batch := filterEvents(events, rule)
	switch rule.Condition {
	case model.CondAgentStuck:
		return e.evalAgentStuck(ctx, rule)
	case model.CondTaskFailed:
		return evalTaskFailed(batch), nil
	case model.CondErrorRate:
		return e.evalErrorRate(ctx, rule)
	case model.CondDurationExceeded:
		return evalDurationExceeded(rule, batch), nil
	case model.CondHeartbeatLost:
		return e.evalHeartbeatLost(ctx, rule)
	case model.CondCostThreshold:
		return e.evalCostThreshold(ctx, rule)
	default:
		return nil, nil
	}
}

// filterEvents applies the rule's filter map to the new batch.
func filterEvents(events []*model.Event, rule *model.AlertRule) []*model.Event {
	if len(rule.Filters) == 0 && rule.ProjectID == nil {
		return events
	}
	out := make([]*model.Event, 0, len(events))
	for _, ev := range events {
		if rule.ProjectID != nil && ev.ProjectID != *rule.ProjectID {
			continue
		}
		if v := rule.Filters["agent_id"]; v != "" && ev.AgentID != v {
			continue
		}
		if v := rule.Filters["environment"]; v != "" && ev.Environment != v {
			continue
		}
		if v := rule.Filters["group"]; v != "" && ev.Group != v {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (e *Engine) evalAgentStuck(ctx context.Context, rule *model.AlertRule) (*firing, error) {
	profiles, err := e.store.ListAgents(ctx, rule.TenantID)
	if err != nil {
		return nil, err
	}
	wanted := rule.Filters["agent_id"]
	now := e.now()
	for _, p := range profiles {
		if wanted != "" && p.AgentID != wanted {
			continue
		}
		if derive.AgentStatus(p, now) != model.AgentStuck {
			continue
		}
		snapshot := map[string]any{
			"agent_id":        p.AgentID,
			"stuck_threshold": p.StuckThresholdSeconds,
		}
		if p.LastHeartbeat != nil {
			snapshot["heartbeat_age_seconds"] = now.Sub(*p.LastHeartbeat).Seconds()
		}
		return &firing{snapshot: snapshot, agentID: p.AgentID}, nil
	}
	return nil, nil
}

func evalTaskFailed(batch []*model.Event) *firing {
	for _, ev := range batch {
		if ev.EventType == model.EventTaskFailed {
			return &firing{
				snapshot: map[string]any{"event_id": ev.EventID, "task_id": ev.TaskID},
				agentID:  ev.AgentID,
				taskID:   ev.TaskID,
			}
		}
	}
	return nil
}

func (e *Engine) evalErrorRate(ctx context.Context, rule *model.AlertRule) (*firing, error) {
	windowMinutes := configFloat(rule.Config, "window_minutes", 60)
	threshold := configFloat(rule.Config, "threshold_percent", 50)

	since := e.now().Add(-time.Duration(windowMinutes) * time.Minute)
	events, _, err := e.store.ListEvents(ctx, storage.EventFilter{
		TenantID:    rule.TenantID,
		AgentID:     rule.Filters["agent_id"],
		Environment: rule.Filters["environment"],
		Since:       &since,
	})
	if err != nil {
		return nil, err
	}

	var failed, total int
	for _, ev := range events {
		switch ev.EventType {
		case model.EventActionStarted, model.EventActionCompleted:
			total++
		case model.EventActionFailed:
			total++
			failed++
		}
	}
	if total == 0 {
		return nil, nil
	}
	rate := float64(failed) / float64(total) * 100
	if rate < threshold {
		return nil, nil
	}
	return &firing{snapshot: map[string]any{
		"error_rate_percent": rate,
		"threshold_percent":  threshold,
		"window_minutes":     windowMinutes,
		"failed":             failed,
		"total":              total,
	}}, nil
}

func evalDurationExceeded(rule *model.AlertRule, batch []*model.Event) *firing {
	threshold := configFloat(rule.Config, "threshold_ms", 0)
	if threshold <= 0 {
		return nil
	}
	for _, ev := range batch {
		if ev.EventType != model.EventTaskCompleted || ev.DurationMS == nil {
			continue
		}
		if *ev.DurationMS > threshold {
			return &firing{
				snapshot: map[string]any{
					"task_id":      ev.TaskID,
					"duration_ms":  *ev.DurationMS,
					"threshold_ms": threshold,
				},
				agentID: ev.AgentID,
				taskID:  ev.TaskID,
			}
		}
	}
	return nil
}

func (e *Engine) evalHeartbeatLost(ctx context.Context, rule *model.AlertRule) (*firing, error) {
	agentID := rule.Filters["agent_id"]
	if agentID == "" {
		agentID = configString(rule.Config, "agent_id")
	}
	if agentID == "" {
		return nil, nil
	}
	windowSeconds := configFloat(rule.Config, "window_seconds", 600)

	p, err := e.store.GetAgent(ctx, rule.TenantID, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := e.now()
	snapshot := map[string]any{"agent_id": agentID, "window_seconds": windowSeconds}
	if p.LastHeartbeat == nil {
		snapshot["heartbeat_age_seconds"] = nil
		return &firing{snapshot: snapshot, agentID: agentID}, nil
	}
	age := now.Sub(*p.LastHeartbeat).Seconds()
	if age <= windowSeconds {
		return nil, nil
	}
	snapshot["heartbeat_age_seconds"] = age
	return &firing{snapshot: snapshot, agentID: agentID}, nil
}

func (e *Engine) evalCostThreshold(ctx context.Context, rule *model.AlertRule) (*firing, error) {
	threshold := configFloat(rule.Config, "threshold_usd", 0)
	if threshold <= 0 {
		return nil, nil
	}
	windowMinutes := configFloat(rule.Config, "window_minutes", 60)

	since := e.now().Add(-time.Duration(windowMinutes) * time.Minute)
	f := storage.EventFilter{
		TenantID:    rule.TenantID,
		AgentID:     rule.Filters["agent_id"],
		PayloadKind: model.KindLLMCall,
		Since:       &since,
	}
	if rule.ProjectID != nil {
		f.ProjectID = *rule.ProjectID
	}
	events, _, err := e.store.ListEvents(ctx, f)
	if err != nil {
		return nil, err
	}

	var total float64
	for _, ev := range events {
		if ev.Payload == nil {
			continue
		}
		if cost, ok := ev.Payload.Data["cost"].(float64); ok {
			total += cost
		}
	}
	if total < threshold {
		return nil, nil
	}
	return &firing{snapshot: map[string]any{
		"total_cost_usd": total,
		"threshold_usd":  threshold,
		"window_minutes": windowMinutes,
	}}, nil
}

// fire records the history entry with the stubbed dispatch results.
func (e *Engine) fire(ctx context.Context, rule *model.AlertRule, f *firing) {
	results := make([]model.ActionResult, 0, len(rule.Actions))
	for _, a := range rule.Actions {
		// Dispatch is stubbed: actions are recorded, not executed.
		e.logger.Info("alert action",
			"rule_id", rule.ID, "rule_name", rule.Name,
			"action_type", a.Type, "target", a.Target)
		results = append(results, model.ActionResult{Type: a.Type, Target: a.Target, Status: "logged"})
	}

	rec := &model.AlertHistoryRecord{
		ID:           uuid.NewString(),
		RuleID:       rule.ID,
		TenantID:     rule.TenantID,
		FiredAt:      e.now(),
		Snapshot:     f.snapshot,
		ActionsTaken: results,
		AgentID:      f.agentID,
		TaskID:       f.taskID,
	}
	if err := e.store.InsertAlertHistory(ctx, rec); err != nil {
		e.logger.Error("failed to record alert firing", "rule_id", rule.ID, "error", err)
		return
	}
	e.logger.Info("alert fired", "rule_id", rule.ID, "rule_name", rule.Name, "condition", rule.Condition)
}

func configFloat(config map[string]any, key string, fallback float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

func configString(config map[string]any, key string) string {
	s, _ := config[key].(string)
	return s
}
