package api

import (
	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/query"
)

// HealthCheck is one component's health verdict.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// AgentsResponse wraps the agent list.
type AgentsResponse struct {
	Agents []*query.AgentView `json:"agents"`
	Count  int                `json:"count"`
}

// TasksResponse is a cursor-paginated task list.
type TasksResponse struct {
	Tasks      []*query.TaskSummary `json:"tasks"`
	HasMore    bool                 `json:"has_more"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// EventsResponse is a cursor-paginated event list.
type EventsResponse struct {
	Events     []*model.Event `json:"events"`
	HasMore    bool           `json:"has_more"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// CostCallsResponse is a cursor-paginated list of priced LLM calls.
type CostCallsResponse struct {
	Calls      []query.CostCall `json:"calls"`
	HasMore    bool             `json:"has_more"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// ProjectsResponse wraps the project list.
type ProjectsResponse struct {
	Projects []*model.Project `json:"projects"`
	Count    int              `json:"count"`
}

// ProjectAgentsResponse lists agent ids attached to a project.
type ProjectAgentsResponse struct {
	ProjectID string   `json:"project_id"`
	AgentIDs  []string `json:"agent_ids"`
}

// MergeResponse reports the outcome of a project merge.
type MergeResponse struct {
	SourceProjectID string `json:"source_project_id"`
	TargetProjectID string `json:"target_project_id"`
	MovedEvents     int    `json:"moved_events"`
}

// AlertRulesResponse wraps the rule list.
type AlertRulesResponse struct {
	Rules []*model.AlertRule `json:"rules"`
	Count int                `json:"count"`
}

// AlertHistoryResponse wraps firing records.
type AlertHistoryResponse struct {
	History []*model.AlertHistoryRecord `json:"history"`
	Count   int                         `json:"count"`
}

// PricingResponse wraps the pricing table.
type PricingResponse struct {
	Entries []model.PricingEntry `json:"entries"`
	Count   int                  `json:"count"`
}
