package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/loophive/hiveboard/pkg/derive"
	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/storage"
)

// TaskSummary is one row of the task list, derived by grouping events
// on task_id.
type TaskSummary struct {
	TaskID      string           `json:"task_id"`
	AgentID     string           `json:"agent_id"`
	ProjectID   string           `json:"project_id,omitempty"`
	TaskType    string           `json:"task_type,omitempty"`
	Status      model.TaskStatus `json:"status"`
	EventCount  int              `json:"event_count"`
	TokensIn    int              `json:"tokens_in"`
	TokensOut   int              `json:"tokens_out"`
	CostUSD     float64          `json:"cost_usd"`
	StartedAt   time.Time        `json:"started_at"`
	LastEventAt time.Time        `json:"last_event_at"`
	DurationMS  *float64         `json:"duration_ms,omitempty"`
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	ProjectID   string
	AgentID     string
	Environment string
	Status      model.TaskStatus
	Since       *time.Time
	Until       *time.Time
	Sort        string // newest, oldest, duration, cost
	Limit       int
	Cursor      string // task id of the last returned row
}

// ListTasks groups the tenant's events by task id and derives per-task
// state. Cursor pagination follows the sorted order.
func (s *Service) ListTasks(ctx context.Context, tenantID string, f TaskFilter) ([]*TaskSummary, bool, error) {
	events, _, err := s.store.ListEvents(ctx, storage.EventFilter{
		TenantID:    tenantID,
		ProjectID:   f.ProjectID,
		AgentID:     f.AgentID,
		Environment: f.Environment,
		Since:       f.Since,
		Until:       f.Until,
		Ascending:   true,
	})
	if err != nil {
		return nil, false, fmt.Errorf("list events: %w", err)
	}

	groups := map[string][]*model.Event{}
	var order []string
	for _, e := range events {
		if e.TaskID == "" {
			continue
		}
		if _, seen := groups[e.TaskID]; !seen {
			order = append(order, e.TaskID)
		}
		groups[e.TaskID] = append(groups[e.TaskID], e)
	}

	tasks := make([]*TaskSummary, 0, len(order))
	for _, id := range order {
		t := summariseTask(id, groups[id])
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		tasks = append(tasks, t)
	}

	switch f.Sort {
	case "", "newest":
		sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].LastEventAt.After(tasks[j].LastEventAt) })
	case "oldest":
		sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].LastEventAt.Before(tasks[j].LastEventAt) })
	case "duration":
		sort.SliceStable(tasks, func(i, j int) bool {
			return derefFloat(tasks[i].DurationMS) > derefFloat(tasks[j].DurationMS)
		})
	case "cost":
		sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CostUSD > tasks[j].CostUSD })
	default:
		return nil, false, storage.NewValidationError("sort", fmt.Sprintf("unknown sort %q", f.Sort))
	}

	if f.Cursor != "" {
		for i, t := range tasks {
			if t.TaskID == f.Cursor {
				tasks = tasks[i+1:]
				break
			}
		}
	}
	if f.Limit > 0 && len(tasks) > f.Limit {
		return tasks[:f.Limit], true, nil
	}
	return tasks, false, nil
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func summariseTask(id string, events []*model.Event) *TaskSummary {
	t := &TaskSummary{TaskID: id}
	seen := map[model.EventType]bool{}
	for i, e := range events {
		seen[e.EventType] = true
		if i == 0 {
			t.StartedAt = e.Timestamp
			t.AgentID = e.AgentID
		}
		t.LastEventAt = e.Timestamp
		t.EventCount++
		if e.ProjectID != "" {
			t.ProjectID = e.ProjectID
		}
		if e.TaskType != "" {
			t.TaskType = e.TaskType
		}
		if e.EventType == model.EventTaskCompleted || e.EventType == model.EventTaskFailed {
			if e.DurationMS != nil {
				t.DurationMS = e.DurationMS
			}
		}
		if e.Payload != nil && e.Payload.Kind == model.KindLLMCall {
			if v, ok := floatField(e.Payload.Data, "tokens_in"); ok {
				t.TokensIn += int(v)
			}
			if v, ok := floatField(e.Payload.Data, "tokens_out"); ok {
				t.TokensOut += int(v)
			}
		}
		if cost, _, ok := eventCost(e); ok {
			t.CostUSD += cost
		}
	}
	t.Status = derive.TaskStatus(seen)
	return t
}

// ActionNode is one node of the action tree.
type ActionNode struct {
	ActionID   string        `json:"action_id"`
	Name       string        `json:"name,omitempty"`
	Status     string        `json:"status"`
	DurationMS *float64      `json:"duration_ms,omitempty"`
	Children   []*ActionNode `json:"children,omitempty"`
}

// ErrorLink exposes a parent_event_id relation within a task.
type ErrorLink struct {
	EventID       string `json:"event_id"`
	ParentEventID string `json:"parent_event_id"`
}

// PlanStep is one step of the plan overlay with its last seen action.
type PlanStep struct {
	Name   string `json:"name"`
	Action string `json:"action,omitempty"`
}

// PlanProgress counts completed plan steps.
type PlanProgress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// PlanOverlay accumulates plan_created and plan_step events of a task.
type PlanOverlay struct {
	Summary  string       `json:"summary,omitempty"`
	Steps    []PlanStep   `json:"steps"`
	Progress PlanProgress `json:"progress"`
}

// TaskTimeline is the chronological event list of a task plus its
// derived structures.
type TaskTimeline struct {
	TaskID      string           `json:"task_id"`
	Status      model.TaskStatus `json:"status"`
	Events      []*model.Event   `json:"events"`
	Actions     []*ActionNode    `json:"actions"`
	ErrorChains []ErrorLink      `json:"error_chains"`
	Plan        *PlanOverlay     `json:"plan,omitempty"`
}

// GetTaskTimeline returns the ordered events of a task with action
// tree, error chains and plan overlay.
func (s *Service) GetTaskTimeline(ctx context.Context, tenantID, taskID string) (*TaskTimeline, error) {
	events, _, err := s.store.ListEvents(ctx, storage.EventFilter{
		TenantID:  tenantID,
		TaskID:    taskID,
		Ascending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	if len(events) == 0 {
		return nil, storage.ErrNotFound
	}

	tl := &TaskTimeline{
		TaskID:      taskID,
		Status:      derive.TaskStatusFromEvents(events),
		Events:      events,
		Actions:     buildActionTree(events),
		ErrorChains: []ErrorLink{},
		Plan:        buildPlanOverlay(events),
	}

	ids := map[string]bool{}
	for _, e := range events {
		ids[e.EventID] = true
	}
	for _, e := range events {
		if e.ParentEventID != "" && ids[e.ParentEventID] {
			tl.ErrorChains = append(tl.ErrorChains, ErrorLink{EventID: e.EventID, ParentEventID: e.ParentEventID})
		}
	}
	return tl, nil
}

// buildActionTree folds action lifecycle events into a forest linked by
// parent_action_id. Roots keep event order.
func buildActionTree(events []*model.Event) []*ActionNode {
	nodes := map[string]*ActionNode{}
	parents := map[string]string{}
	var order []string

	for _, e := range events {
		if e.ActionID == "" {
			continue
		}
		n, ok := nodes[e.ActionID]
		if !ok {
			n = &ActionNode{ActionID: e.ActionID, Status: "running"}
			nodes[e.ActionID] = n
			order = append(order, e.ActionID)
		}
		switch e.EventType {
		case model.EventActionStarted:
			if e.Payload != nil {
				if name := stringField(e.Payload.Data, "name"); name != "" {
					n.Name = name
				} else if e.Payload.Summary != "" {
					n.Name = e.Payload.Summary
				}
			}
			if e.ParentActionID != "" {
				parents[e.ActionID] = e.ParentActionID
			}
		case model.EventActionCompleted:
			n.Status = "success"
			if e.DurationMS != nil {
				n.DurationMS = e.DurationMS
			}
		case model.EventActionFailed:
			n.Status = "failure"
			if e.DurationMS != nil {
				n.DurationMS = e.DurationMS
			}
		}
	}

	roots := []*ActionNode{}
	for _, id := range order {
		n := nodes[id]
		if pid, ok := parents[id]; ok {
			if parent, ok := nodes[pid]; ok {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}
	return roots
}

// buildPlanOverlay accumulates the task's plan. plan_created carries
// the step list; each plan_step updates its step's last action.
func buildPlanOverlay(events []*model.Event) *PlanOverlay {
	var plan *PlanOverlay
	index := map[string]int{}

	for _, e := range events {
		if e.Payload == nil {
			continue
		}
		switch e.Payload.Kind {
		case model.KindPlanCreated:
			plan = &PlanOverlay{Summary: e.Payload.Summary, Steps: []PlanStep{}}
			index = map[string]int{}
			if steps, ok := e.Payload.Data["steps"].([]any); ok {
				for _, st := range steps {
					if name, ok := st.(string); ok {
						index[name] = len(plan.Steps)
						plan.Steps = append(plan.Steps, PlanStep{Name: name})
					}
				}
			}
		case model.KindPlanStep:
			if plan == nil {
				continue
			}
			name := stringField(e.Payload.Data, "step")
			action := stringField(e.Payload.Data, "action")
			i, ok := index[name]
			if !ok {
				index[name] = len(plan.Steps)
				i = len(plan.Steps)
				plan.Steps = append(plan.Steps, PlanStep{Name: name})
			}
			plan.Steps[i].Action = action
		}
	}
	if plan == nil {
		return nil
	}

	plan.Progress.Total = len(plan.Steps)
	for _, st := range plan.Steps {
		if st.Action == "completed" {
			plan.Progress.Completed++
		}
	}
	return plan
}
