package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/pricing"
	"github.com/loophive/hiveboard/pkg/storage"
	"github.com/loophive/hiveboard/pkg/storage/filestore"
)

type captureNotifier struct {
	mu       sync.Mutex
	events   []*model.Event
	statuses []statusChange
}

type statusChange struct {
	agentID string
	prev    model.AgentStatus
	cur     model.AgentStatus
}

func (n *captureNotifier) EventIngested(e *model.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *captureNotifier) AgentStatus(_ string, p *model.AgentProfile, prev, cur model.AgentStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, statusChange{agentID: p.AgentID, prev: prev, cur: cur})
}

func newTestPipeline(t *testing.T) (*Pipeline, storage.Store, *captureNotifier) {
	t.Helper()
	store, err := filestore.Open(t.TempDir())
	require.NoError(t, err)

	eng, err := pricing.New(t.TempDir() + "/pricing.json")
	require.NoError(t, err)

	notifier := &captureNotifier{}
	p := New(store, eng, notifier, nil, slog.New(slog.DiscardHandler))

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.CreateTenant(ctx, &model.Tenant{
		ID: "t1", Name: "Acme", Slug: "acme", Plan: model.PlanFree, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.CreateProject(ctx, &model.Project{
		ID: "proj-default", TenantID: "t1", Name: "default", Slug: model.DefaultProjectSlug,
		CreatedAt: now, UpdatedAt: now,
	}))
	return p, store, notifier
}

func TestProcessMixedBatch(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	res, err := p.Process(ctx, "t1", model.Envelope{AgentID: "a1"}, []model.IncomingEvent{
		{EventID: "e1", Timestamp: "2026-02-10T14:00:00Z", EventType: "heartbeat"},
		{EventID: "e2", Timestamp: "2026-02-10T14:00:01Z", EventType: "bogus"},
		{EventID: "e3", Timestamp: "2026-02-10T14:00:02Z", EventType: "task_started", TaskID: "task-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 1, res.Rejected)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "e2", res.Errors[0].EventID)
	assert.Equal(t, "invalid_event_type", res.Errors[0].Error)

	events, _, err := store.ListEvents(ctx, storage.EventFilter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// Severity defaulted from the event-type table.
	for _, e := range events {
		switch e.EventID {
		case "e1":
			assert.Equal(t, model.SeverityDebug, e.Severity)
		case "e3":
			assert.Equal(t, model.SeverityInfo, e.Severity)
		}
	}
}

func TestProcessValidationReasons(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		event  model.IncomingEvent
		reason string
	}{
		{"missing event_id", model.IncomingEvent{Timestamp: "2026-02-10T14:00:00Z", EventType: "heartbeat"}, "missing_field"},
		{"missing timestamp", model.IncomingEvent{EventID: "x", EventType: "heartbeat"}, "missing_field"},
		{"missing event_type", model.IncomingEvent{EventID: "x", Timestamp: "2026-02-10T14:00:00Z"}, "missing_field"},
		{"bad timestamp", model.IncomingEvent{EventID: "x", Timestamp: "yesterday", EventType: "heartbeat"}, "invalid_timestamp"},
		{"oversize task_id", model.IncomingEvent{EventID: "x", Timestamp: "2026-02-10T14:00:00Z", EventType: "task_started", TaskID: strings.Repeat("t", model.MaxTaskIDLen+1)}, "oversize_task_id"},
		{"oversize payload", model.IncomingEvent{EventID: "x", Timestamp: "2026-02-10T14:00:00Z", EventType: "custom", Payload: &model.Payload{Data: map[string]any{"blob": strings.Repeat("z", model.MaxPayloadBytes)}}}, "oversize_payload"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := p.Process(ctx, "t1", model.Envelope{AgentID: "a1"}, []model.IncomingEvent{tc.event})
			require.NoError(t, err)
			assert.Equal(t, 1, res.Rejected)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, tc.reason, res.Errors[0].Error)
		})
	}
}

func TestProcessBatchLimits(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	t.Run("empty batch accepted", func(t *testing.T) {
		res, err := p.Process(ctx, "t1", model.Envelope{AgentID: "a1"}, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Accepted)
		assert.Equal(t, 0, res.Rejected)
	})

	t.Run("oversized batch rejected outright", func(t *testing.T) {
		batch := make([]model.IncomingEvent, model.MaxBatchEvents+1)
		_, err := p.Process(ctx, "t1", model.Envelope{AgentID: "a1"}, batch)
		var verr *storage.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("missing envelope agent id", func(t *testing.T) {
		_, err := p.Process(ctx, "t1", model.Envelope{}, nil)
		var verr *storage.ValidationError
		require.ErrorAs(t, err, &verr)
	})
}

func TestProcessUnknownSeverityWarns(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	res, err := p.Process(ctx, "t1", model.Envelope{AgentID: "a1"}, []model.IncomingEvent{
		{EventID: "e1", Timestamp: "2026-02-10T14:00:00Z", EventType: "task_failed", Severity: "catastrophic"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 0, res.Rejected)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "unknown severity")

	events, _, err := store.ListEvents(ctx, storage.EventFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.SeverityError, events[0].Severity)
}

func TestProcessCostEnrichment(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	res, err := p.Process(ctx, "t1", model.Envelope{AgentID: "a1"}, []model.IncomingEvent{
		{
			EventID: "e1", Timestamp: "2026-02-10T14:00:00Z", EventType: "custom",
			Payload: &model.Payload{
				Kind: model.KindLLMCall,
				Data: map[string]any{
					"name": "reason", "model": "claude-haiku-4-5",
					"tokens_in": float64(1000), "tokens_out": float64(500),
				},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)

	events, _, err := store.ListEvents(ctx, storage.EventFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	data := events[0].Payload.Data
	assert.InDelta(t, 0.003, data["cost"], 1e-9)
	assert.Equal(t, model.CostSourceEstimated, data["cost_source"])
	assert.Equal(t, "claude-haiku-4-5", data["cost_model_matched"])
}

func TestProcessAutoCreatesProject(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	res, err := p.Process(ctx, "t1", model.Envelope{AgentID: "a1"}, []model.IncomingEvent{
		{EventID: "e1", Timestamp: "2026-02-10T14:00:00Z", EventType: "task_started", ProjectID: "new-slug"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Contains(t, res.Warnings, "Auto-created project 'new-slug'")

	proj, err := store.GetProjectBySlug(ctx, "t1", "new-slug")
	require.NoError(t, err)
	assert.True(t, proj.AutoCreated)
	assert.Equal(t, "new-slug", proj.Name)

	// Events carry the generated project id, not the slug.
	events, _, err := store.ListEvents(ctx, storage.EventFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, proj.ID, events[0].ProjectID)

	// Junction row materialised.
	agents, err := store.ListProjectAgents(ctx, "t1", proj.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, agents)
}

func TestProcessProjectQuotaRoutesToDefault(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Fill the quota (the default project counts as one).
	for i := 1; i < model.MaxProjectsPerTenant; i++ {
		require.NoError(t, store.CreateProject(ctx, &model.Project{
			ID: fmt.Sprintf("p%d", i), TenantID: "t1",
			Name: fmt.Sprintf("p%d", i), Slug: fmt.Sprintf("p%d", i),
			CreatedAt: now, UpdatedAt: now,
		}))
	}

	res, err := p.Process(ctx, "t1", model.Envelope{AgentID: "a1"}, []model.IncomingEvent{
		{EventID: "e1", Timestamp: "2026-02-10T14:00:00Z", EventType: "task_started", ProjectID: "overflow"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "quota")

	_, err = store.GetProjectBySlug(ctx, "t1", "overflow")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	events, _, err := store.ListEvents(ctx, storage.EventFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "proj-default", events[0].ProjectID)
}

func TestProcessAgentCacheUpsert(t *testing.T) {
	p, store, notifier := newTestPipeline(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Out-of-order batch: last_event_type must come from the latest
	// timestamp, not the last array element.
	res, err := p.Process(ctx, "t1", model.Envelope{
		AgentID: "a1", AgentType: "worker", Version: "1.2.0", SDKVersion: "0.3.0",
	}, []model.IncomingEvent{
		{EventID: "e2", Timestamp: now.Format(time.RFC3339Nano), EventType: "task_started", TaskID: "task-1"},
		{EventID: "e1", Timestamp: now.Add(-time.Minute).Format(time.RFC3339Nano), EventType: "heartbeat"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted)

	a, err := store.GetAgent(ctx, "t1", "a1")
	require.NoError(t, err)
	assert.Equal(t, model.EventTaskStarted, a.LastEventType)
	assert.Equal(t, "worker", a.AgentType)
	assert.Equal(t, "task-1", a.LastTaskID)
	require.NotNil(t, a.LastHeartbeat)
	assert.True(t, a.LastSeen.Equal(now))
	assert.True(t, a.LastHeartbeat.Before(a.LastSeen))
	assert.Equal(t, model.DefaultStuckThresholdSeconds, a.StuckThresholdSeconds)

	require.Len(t, notifier.statuses, 1)
	assert.Equal(t, model.AgentProcessing, notifier.statuses[0].cur)
	assert.Len(t, notifier.events, 2)
}

func TestProcessDedupOnRepost(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	batch := []model.IncomingEvent{
		{EventID: "e1", Timestamp: "2026-02-10T14:00:00Z", EventType: "heartbeat"},
	}
	_, err := p.Process(ctx, "t1", model.Envelope{AgentID: "a1"}, batch)
	require.NoError(t, err)

	// Re-POST reports accepted but inserts nothing new.
	res, err := p.Process(ctx, "t1", model.Envelope{AgentID: "a1"}, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)

	events, _, err := store.ListEvents(ctx, storage.EventFilter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
