package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/storage"
)

// QueueState is the latest queue snapshot reported by an agent.
type QueueState struct {
	Data       map[string]any `json:"data"`
	SnapshotAt time.Time      `json:"snapshot_at"`
}

// PipelineItem is one active TODO or issue, keeping the latest event
// seen for its identity.
type PipelineItem struct {
	ID        string         `json:"id"`
	Summary   string         `json:"summary,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// AgentPipelineView is the derived work view of one agent.
type AgentPipelineView struct {
	AgentID   string           `json:"agent_id"`
	Queue     *QueueState      `json:"queue,omitempty"`
	Todos     []PipelineItem   `json:"todos"`
	Scheduled []map[string]any `json:"scheduled"`
	Issues    []PipelineItem   `json:"issues"`
}

// FleetPipelineView aggregates agent pipelines plus totals.
type FleetPipelineView struct {
	Agents       []*AgentPipelineView `json:"agents"`
	QueueDepth   int                  `json:"queue_depth"`
	ActiveTodos  int                  `json:"active_todos"`
	Scheduled    int                  `json:"scheduled"`
	ActiveIssues int                  `json:"active_issues"`
}

// Terminal action values that retire a TODO or an issue.
var (
	todoTerminal  = map[string]bool{"completed": true, "dismissed": true}
	issueTerminal = map[string]bool{"resolved": true}
)

// AgentPipeline derives the pipeline view of one agent from its
// payload-kind events.
func (s *Service) AgentPipeline(ctx context.Context, tenantID, agentID string) (*AgentPipelineView, error) {
	view := &AgentPipelineView{
		AgentID:   agentID,
		Todos:     []PipelineItem{},
		Scheduled: []map[string]any{},
		Issues:    []PipelineItem{},
	}

	for _, kind := range []model.PayloadKind{
		model.KindQueueSnapshot, model.KindTodo, model.KindScheduled, model.KindIssue,
	} {
		events, _, err := s.store.ListEvents(ctx, storage.EventFilter{
			TenantID:    tenantID,
			AgentID:     agentID,
			PayloadKind: kind,
			Ascending:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s events: %w", kind, err)
		}
		if len(events) == 0 {
			continue
		}
		switch kind {
		case model.KindQueueSnapshot:
			latest := events[len(events)-1]
			view.Queue = &QueueState{Data: latest.Payload.Data, SnapshotAt: latest.Timestamp}
		case model.KindTodo:
			view.Todos = activeItems(events, "todo_id", todoTerminal)
		case model.KindScheduled:
			latest := events[len(events)-1]
			if items, ok := latest.Payload.Data["items"].([]any); ok {
				for _, it := range items {
					if m, ok := it.(map[string]any); ok {
						view.Scheduled = append(view.Scheduled, m)
					}
				}
			}
		case model.KindIssue:
			view.Issues = activeItems(events, "issue_id", issueTerminal)
		}
	}
	return view, nil
}

// activeItems groups events by their identity field (falling back to
// summary), keeps the latest per identity, and drops terminal ones.
func activeItems(events []*model.Event, idField string, terminal map[string]bool) []PipelineItem {
	latest := map[string]*model.Event{}
	var order []string
	for _, e := range events {
		id := stringField(e.Payload.Data, idField)
		if id == "" {
			id = e.Payload.Summary
		}
		if id == "" {
			id = e.EventID
		}
		if _, seen := latest[id]; !seen {
			order = append(order, id)
		}
		latest[id] = e
	}

	out := []PipelineItem{}
	for _, id := range order {
		e := latest[id]
		if terminal[stringField(e.Payload.Data, "action")] {
			continue
		}
		out = append(out, PipelineItem{
			ID:        id,
			Summary:   e.Payload.Summary,
			Data:      e.Payload.Data,
			UpdatedAt: e.Timestamp,
		})
	}
	return out
}

// FleetPipeline aggregates pipelines across all agents of the tenant.
func (s *Service) FleetPipeline(ctx context.Context, tenantID string) (*FleetPipelineView, error) {
	profiles, err := s.store.ListAgents(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].AgentID < profiles[j].AgentID })

	fleet := &FleetPipelineView{Agents: []*AgentPipelineView{}}
	for _, p := range profiles {
		view, err := s.AgentPipeline(ctx, tenantID, p.AgentID)
		if err != nil {
			return nil, err
		}
		fleet.Agents = append(fleet.Agents, view)
		if view.Queue != nil {
			if depth, ok := floatField(view.Queue.Data, "pending"); ok {
				fleet.QueueDepth += int(depth)
			}
		}
		fleet.ActiveTodos += len(view.Todos)
		fleet.Scheduled += len(view.Scheduled)
		fleet.ActiveIssues += len(view.Issues)
	}
	return fleet, nil
}
