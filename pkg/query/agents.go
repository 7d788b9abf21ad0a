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

// AgentStats is the rolling one-hour rollup attached to agent reads.
type AgentStats struct {
	TasksCompleted  int     `json:"tasks_completed"`
	TasksFailed     int     `json:"tasks_failed"`
	SuccessRate     float64 `json:"success_rate"`
	AvgDurationMS   float64 `json:"avg_duration_ms"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
	EventsPerMinute float64 `json:"events_per_minute"`
}

// AgentView is an agent profile enriched with derived state.
type AgentView struct {
	model.AgentProfile
	DerivedStatus       model.AgentStatus `json:"derived_status"`
	HeartbeatAgeSeconds *float64          `json:"heartbeat_age_seconds,omitempty"`
	Stats1H             AgentStats        `json:"stats_1h"`
	QueueDepth          *int              `json:"queue_depth,omitempty"`
	ActiveIssues        int               `json:"active_issues"`
}

// AgentFilter narrows ListAgentViews.
type AgentFilter struct {
	ProjectID   string
	Environment string
	Group       string
	Status      model.AgentStatus
}

// ListAgentViews returns all agents of the tenant with derived status
// and one-hour statistics.
func (s *Service) ListAgentViews(ctx context.Context, tenantID string, f AgentFilter) ([]*AgentView, error) {
	profiles, err := s.store.ListAgents(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	var projectAgents map[string]bool
	if f.ProjectID != "" {
		ids, err := s.store.ListProjectAgents(ctx, tenantID, f.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("list project agents: %w", err)
		}
		projectAgents = make(map[string]bool, len(ids))
		for _, id := range ids {
			projectAgents[id] = true
		}
	}

	now := s.now()
	out := make([]*AgentView, 0, len(profiles))
	for _, p := range profiles {
		if projectAgents != nil && !projectAgents[p.AgentID] {
			continue
		}
		if f.Environment != "" && p.Environment != f.Environment {
			continue
		}
		if f.Group != "" && p.Group != f.Group {
			continue
		}
		v, err := s.agentView(ctx, p, now)
		if err != nil {
			return nil, err
		}
		if f.Status != "" && v.DerivedStatus != f.Status {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

// GetAgentView returns one enriched agent.
func (s *Service) GetAgentView(ctx context.Context, tenantID, agentID string) (*AgentView, error) {
	p, err := s.store.GetAgent(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	return s.agentView(ctx, p, s.now())
}

func (s *Service) agentView(ctx context.Context, p *model.AgentProfile, now time.Time) (*AgentView, error) {
	v := &AgentView{
		AgentProfile:  *p,
		DerivedStatus: derive.AgentStatus(p, now),
	}
	if p.LastHeartbeat != nil {
		age := now.Sub(*p.LastHeartbeat).Seconds()
		v.HeartbeatAgeSeconds = &age
	}

	since := now.Add(-time.Hour)
	events, _, err := s.store.ListEvents(ctx, storage.EventFilter{
		TenantID: p.TenantID,
		AgentID:  p.AgentID,
		Since:    &since,
	})
	if err != nil {
		return nil, fmt.Errorf("list agent events: %w", err)
	}
	v.Stats1H = rollupStats(events)

	pipe, err := s.AgentPipeline(ctx, p.TenantID, p.AgentID)
	if err != nil {
		return nil, err
	}
	if pipe.Queue != nil {
		if depth, ok := floatField(pipe.Queue.Data, "pending"); ok {
			d := int(depth)
			v.QueueDepth = &d
		}
	}
	v.ActiveIssues = len(pipe.Issues)
	return v, nil
}

func rollupStats(events []*model.Event) AgentStats {
	var st AgentStats
	var durationSum float64
	var durationCount int
	for _, e := range events {
		switch e.EventType {
		case model.EventTaskCompleted:
			st.TasksCompleted++
			if e.DurationMS != nil {
				durationSum += *e.DurationMS
				durationCount++
			}
		case model.EventTaskFailed:
			st.TasksFailed++
		}
		if cost, _, ok := eventCost(e); ok {
			st.TotalCostUSD += cost
		}
	}
	if total := st.TasksCompleted + st.TasksFailed; total > 0 {
		st.SuccessRate = float64(st.TasksCompleted) / float64(total)
	}
	if durationCount > 0 {
		st.AvgDurationMS = durationSum / float64(durationCount)
	}
	st.EventsPerMinute = float64(len(events)) / 60
	return st
}
