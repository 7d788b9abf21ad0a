package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/storage"
)

// CostBreakdown is one by-agent or by-model slice of the cost summary.
type CostBreakdown struct {
	Key          string  `json:"key"`
	CostUSD      float64 `json:"cost_usd"`
	ReportedUSD  float64 `json:"reported_usd"`
	EstimatedUSD float64 `json:"estimated_usd"`
	Calls        int     `json:"calls"`
	TokensIn     int     `json:"tokens_in"`
	TokensOut    int     `json:"tokens_out"`
}

// CostSummary is the /cost response.
type CostSummary struct {
	TotalCostUSD     float64         `json:"total_cost_usd"`
	ReportedCostUSD  float64         `json:"reported_cost_usd"`
	EstimatedCostUSD float64         `json:"estimated_cost_usd"`
	TotalCalls       int             `json:"total_calls"`
	TotalTokensIn    int             `json:"total_tokens_in"`
	TotalTokensOut   int             `json:"total_tokens_out"`
	ByAgent          []CostBreakdown `json:"by_agent"`
	ByModel          []CostBreakdown `json:"by_model"`
}

// CostCall is one row of the paginated call list.
type CostCall struct {
	EventID    string    `json:"event_id"`
	AgentID    string    `json:"agent_id"`
	TaskID     string    `json:"task_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Model      string    `json:"model,omitempty"`
	TokensIn   int       `json:"tokens_in"`
	TokensOut  int       `json:"tokens_out"`
	CostUSD    float64   `json:"cost_usd"`
	CostSource string    `json:"cost_source,omitempty"`
}

// CostBucket is one cost timeseries interval.
type CostBucket struct {
	BucketStart time.Time `json:"bucket_start"`
	CostUSD     float64   `json:"cost_usd"`
	Calls       int       `json:"calls"`
	TokensIn    int       `json:"tokens_in"`
	TokensOut   int       `json:"tokens_out"`
}

// CostFilter narrows cost reads to a window and scope.
type CostFilter struct {
	Range       string
	Interval    string
	AgentID     string
	ProjectID   string
	Environment string
	Limit       int
	Cursor      string
}

func (s *Service) llmCallEvents(ctx context.Context, tenantID string, f CostFilter) ([]*model.Event, time.Time, time.Time, error) {
	rng, err := ParseRange(f.Range)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	now := s.now()
	since := now.Add(-rng)
	events, _, err := s.store.ListEvents(ctx, storage.EventFilter{
		TenantID:    tenantID,
		AgentID:     f.AgentID,
		ProjectID:   f.ProjectID,
		Environment: f.Environment,
		PayloadKind: model.KindLLMCall,
		Since:       &since,
		Ascending:   true,
	})
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("list llm_call events: %w", err)
	}
	return events, since, now, nil
}

// Cost computes the window's cost summary broken down by agent and by
// model with reported and estimated subtotals.
func (s *Service) Cost(ctx context.Context, tenantID string, f CostFilter) (*CostSummary, error) {
	events, _, _, err := s.llmCallEvents(ctx, tenantID, f)
	if err != nil {
		return nil, err
	}

	sum := &CostSummary{ByAgent: []CostBreakdown{}, ByModel: []CostBreakdown{}}
	byAgent := map[string]*CostBreakdown{}
	byModel := map[string]*CostBreakdown{}

	for _, e := range events {
		cost, source, _ := eventCost(e)
		tokensIn, _ := floatField(e.Payload.Data, "tokens_in")
		tokensOut, _ := floatField(e.Payload.Data, "tokens_out")

		sum.TotalCalls++
		sum.TotalCostUSD += cost
		sum.TotalTokensIn += int(tokensIn)
		sum.TotalTokensOut += int(tokensOut)
		switch source {
		case model.CostSourceReported:
			sum.ReportedCostUSD += cost
		case model.CostSourceEstimated:
			sum.EstimatedCostUSD += cost
		}

		accumulate(byAgent, e.AgentID, cost, source, int(tokensIn), int(tokensOut))
		if m := stringField(e.Payload.Data, "model"); m != "" {
			accumulate(byModel, m, cost, source, int(tokensIn), int(tokensOut))
		}
	}

	sum.ByAgent = sortedBreakdowns(byAgent)
	sum.ByModel = sortedBreakdowns(byModel)
	return sum, nil
}

func accumulate(m map[string]*CostBreakdown, key string, cost float64, source string, tokensIn, tokensOut int) {
	b, ok := m[key]
	if !ok {
		b = &CostBreakdown{Key: key}
		m[key] = b
	}
	b.Calls++
	b.CostUSD += cost
	b.TokensIn += tokensIn
	b.TokensOut += tokensOut
	switch source {
	case model.CostSourceReported:
		b.ReportedUSD += cost
	case model.CostSourceEstimated:
		b.EstimatedUSD += cost
	}
}

func sortedBreakdowns(m map[string]*CostBreakdown) []CostBreakdown {
	out := make([]CostBreakdown, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CostUSD != out[j].CostUSD {
			return out[i].CostUSD > out[j].CostUSD
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// CostCalls returns the window's llm_call rows, newest first, with
// cursor pagination.
func (s *Service) CostCalls(ctx context.Context, tenantID string, f CostFilter) ([]CostCall, bool, error) {
	events, _, _, err := s.llmCallEvents(ctx, tenantID, f)
	if err != nil {
		return nil, false, err
	}

	calls := make([]CostCall, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		cost, source, _ := eventCost(e)
		tokensIn, _ := floatField(e.Payload.Data, "tokens_in")
		tokensOut, _ := floatField(e.Payload.Data, "tokens_out")
		calls = append(calls, CostCall{
			EventID:    e.EventID,
			AgentID:    e.AgentID,
			TaskID:     e.TaskID,
			Timestamp:  e.Timestamp,
			Model:      stringField(e.Payload.Data, "model"),
			TokensIn:   int(tokensIn),
			TokensOut:  int(tokensOut),
			CostUSD:    cost,
			CostSource: source,
		})
	}

	if f.Cursor != "" {
		for i, c := range calls {
			if c.EventID == f.Cursor {
				calls = calls[i+1:]
				break
			}
		}
	}
	if f.Limit > 0 && len(calls) > f.Limit {
		return calls[:f.Limit], true, nil
	}
	return calls, false, nil
}

// CostTimeseries buckets cost, call count and tokens per interval.
func (s *Service) CostTimeseries(ctx context.Context, tenantID string, f CostFilter) ([]CostBucket, error) {
	events, since, now, err := s.llmCallEvents(ctx, tenantID, f)
	if err != nil {
		return nil, err
	}
	rng := now.Sub(since)
	interval, err := ParseInterval(f.Interval, rng)
	if err != nil {
		return nil, err
	}

	start := since.Truncate(interval)
	var buckets []CostBucket
	for t := start; t.Before(now); t = t.Add(interval) {
		buckets = append(buckets, CostBucket{BucketStart: t})
	}
	for _, e := range events {
		i := int(e.Timestamp.Sub(start) / interval)
		if i < 0 || i >= len(buckets) {
			continue
		}
		b := &buckets[i]
		cost, _, _ := eventCost(e)
		tokensIn, _ := floatField(e.Payload.Data, "tokens_in")
		tokensOut, _ := floatField(e.Payload.Data, "tokens_out")
		b.Calls++
		b.CostUSD += cost
		b.TokensIn += int(tokensIn)
		b.TokensOut += int(tokensOut)
	}
	return buckets, nil
}
