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

// MetricsSummary is the headline rollup of a metrics window.
type MetricsSummary struct {
	TotalEvents    int     `json:"total_events"`
	TasksCompleted int     `json:"tasks_completed"`
	TasksFailed    int     `json:"tasks_failed"`
	SuccessRate    float64 `json:"success_rate"`
	AvgDurationMS  float64 `json:"avg_duration_ms"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	StuckAgents    int     `json:"stuck_agents"`
}

// MetricsBucket is one timeseries interval.
type MetricsBucket struct {
	BucketStart    time.Time `json:"bucket_start"`
	Events         int       `json:"events"`
	TasksCompleted int       `json:"tasks_completed"`
	TasksFailed    int       `json:"tasks_failed"`
	CostUSD        float64   `json:"cost_usd"`
}

// MetricsGroup is one group_by slice of the window.
type MetricsGroup struct {
	Key     string         `json:"key"`
	Summary MetricsSummary `json:"summary"`
}

// MetricsResponse is the full /metrics payload.
type MetricsResponse struct {
	Summary    MetricsSummary  `json:"summary"`
	Timeseries []MetricsBucket `json:"timeseries"`
	Groups     []MetricsGroup  `json:"groups,omitempty"`
}

// MetricsFilter narrows the metrics window.
type MetricsFilter struct {
	Range       string
	Interval    string
	GroupBy     string // "", "agent", "model"
	AgentID     string
	ProjectID   string
	Environment string
}

// Metrics computes summary and timeseries over the requested window.
func (s *Service) Metrics(ctx context.Context, tenantID string, f MetricsFilter) (*MetricsResponse, error) {
	rng, err := ParseRange(f.Range)
	if err != nil {
		return nil, err
	}
	interval, err := ParseInterval(f.Interval, rng)
	if err != nil {
		return nil, err
	}
	if f.GroupBy != "" && f.GroupBy != "agent" && f.GroupBy != "model" {
		return nil, storage.NewValidationError("group_by", fmt.Sprintf("unknown group_by %q", f.GroupBy))
	}

	now := s.now()
	since := now.Add(-rng)
	events, _, err := s.store.ListEvents(ctx, storage.EventFilter{
		TenantID:    tenantID,
		AgentID:     f.AgentID,
		ProjectID:   f.ProjectID,
		Environment: f.Environment,
		Since:       &since,
		Ascending:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	resp := &MetricsResponse{
		Summary:    summarise(events),
		Timeseries: bucketise(events, since, now, interval),
	}

	stuck, err := s.countStuckAgents(ctx, tenantID, now)
	if err != nil {
		return nil, err
	}
	resp.Summary.StuckAgents = stuck

	if f.GroupBy != "" {
		resp.Groups = groupSummaries(events, f.GroupBy)
	}
	return resp, nil
}

func (s *Service) countStuckAgents(ctx context.Context, tenantID string, now time.Time) (int, error) {
	profiles, err := s.store.ListAgents(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("list agents: %w", err)
	}
	stuck := 0
	for _, p := range profiles {
		if derive.AgentStatus(p, now) == model.AgentStuck {
			stuck++
		}
	}
	return stuck, nil
}

func summarise(events []*model.Event) MetricsSummary {
	var sum MetricsSummary
	var durationSum float64
	var durationCount int
	for _, e := range events {
		sum.TotalEvents++
		switch e.EventType {
		case model.EventTaskCompleted:
			sum.TasksCompleted++
			if e.DurationMS != nil {
				durationSum += *e.DurationMS
				durationCount++
			}
		case model.EventTaskFailed:
			sum.TasksFailed++
		}
		if cost, _, ok := eventCost(e); ok {
			sum.TotalCostUSD += cost
		}
	}
	if total := sum.TasksCompleted + sum.TasksFailed; total > 0 {
		sum.SuccessRate = float64(sum.TasksCompleted) / float64(total)
	}
	if durationCount > 0 {
		sum.AvgDurationMS = durationSum / float64(durationCount)
	}
	return sum
}

// bucketise emits a bucket for every interval in [since, until), empty
// ones included so charts render contiguous axes.
func bucketise(events []*model.Event, since, until time.Time, interval time.Duration) []MetricsBucket {
	start := since.Truncate(interval)
	var buckets []MetricsBucket
	for t := start; t.Before(until); t = t.Add(interval) {
		buckets = append(buckets, MetricsBucket{BucketStart: t})
	}
	for _, e := range events {
		i := int(e.Timestamp.Sub(start) / interval)
		if i < 0 || i >= len(buckets) {
			continue
		}
		b := &buckets[i]
		b.Events++
		switch e.EventType {
		case model.EventTaskCompleted:
			b.TasksCompleted++
		case model.EventTaskFailed:
			b.TasksFailed++
		}
		if cost, _, ok := eventCost(e); ok {
			b.CostUSD += cost
		}
	}
	return buckets
}

func groupSummaries(events []*model.Event, groupBy string) []MetricsGroup {
	grouped := map[string][]*model.Event{}
	for _, e := range events {
		var key string
		switch groupBy {
		case "agent":
			key = e.AgentID
		case "model":
			if e.Payload == nil || e.Payload.Kind != model.KindLLMCall {
				continue
			}
			key = stringField(e.Payload.Data, "model")
		}
		if key == "" {
			continue
		}
		grouped[key] = append(grouped[key], e)
	}

	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]MetricsGroup, 0, len(keys))
	for _, k := range keys {
		out = append(out, MetricsGroup{Key: k, Summary: summarise(grouped[k])})
	}
	return out
}
