package api

import "github.com/loophive/hiveboard/pkg/model"

// IngestRequest is the body of POST /v1/ingest.
type IngestRequest struct {
	Envelope model.Envelope        `json:"envelope"`
	Events   []model.IncomingEvent `json:"events"`
}

// ProjectRequest is the body of POST and PUT /v1/projects.
type ProjectRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug,omitempty"`
	Description string `json:"description,omitempty"`
}

// MergeRequest names the project receiving the merged events.
type MergeRequest struct {
	TargetProjectID string `json:"target_project_id"`
}

// ProjectAgentRequest adds an agent to a project.
type ProjectAgentRequest struct {
	AgentID string `json:"agent_id"`
}

// AlertRuleRequest is the body of POST and PUT /v1/alerts/rules.
type AlertRuleRequest struct {
	Name            string              `json:"name"`
	ProjectID       *string             `json:"project_id,omitempty"`
	Condition       string              `json:"condition"`
	Config          map[string]any      `json:"config,omitempty"`
	Filters         map[string]string   `json:"filters,omitempty"`
	Actions         []model.AlertAction `json:"actions,omitempty"`
	CooldownSeconds int                 `json:"cooldown_seconds,omitempty"`
	Enabled         *bool               `json:"enabled,omitempty"`
}
