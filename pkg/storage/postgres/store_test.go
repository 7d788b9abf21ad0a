package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/storage"
)

// Integration tests run only against a real database:
//
//	HIVEBOARD_TEST_DATABASE_URL=postgres://... go test ./pkg/storage/postgres/
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("HIVEBOARD_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("HIVEBOARD_TEST_DATABASE_URL not set")
	}
	s, err := OpenDSN(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newTenantID keeps parallel test runs from colliding on shared tables.
func newTenantID() string {
	return "test-" + uuid.NewString()
}

func TestPostgresEventRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tenant := newTenantID()
	now := time.Now().UTC().Truncate(time.Millisecond)

	duration := 1234.5
	e := &model.Event{
		EventID:    uuid.NewString(),
		TenantID:   tenant,
		AgentID:    "agent-1",
		ProjectID:  "p1",
		Timestamp:  now,
		ReceivedAt: now,
		TaskID:     "task-1",
		EventType:  model.EventActionCompleted,
		Severity:   model.SeverityDebug,
		DurationMS: &duration,
		Payload: &model.Payload{
			Kind:    model.KindLLMCall,
			Summary: "call",
			Data:    map[string]any{"model": "gpt-4o", "cost_usd": 0.01},
			Tags:    []string{"llm"},
		},
	}

	n, err := s.InsertEvents(ctx, []*model.Event{e})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Re-POST of the same event id inserts nothing.
	n, err = s.InsertEvents(ctx, []*model.Event{e})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	events, hasMore, err := s.ListEvents(ctx, storage.EventFilter{TenantID: tenant})
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, e.EventID, got.EventID)
	assert.Equal(t, model.EventActionCompleted, got.EventType)
	assert.True(t, got.Timestamp.Equal(now))
	require.NotNil(t, got.DurationMS)
	assert.Equal(t, duration, *got.DurationMS)
	require.NotNil(t, got.Payload)
	assert.Equal(t, model.KindLLMCall, got.Payload.Kind)
	assert.Equal(t, "gpt-4o", got.Payload.Data["model"])
}

func TestPostgresCursorPagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tenant := newTenantID()
	base := time.Now().UTC().Truncate(time.Second)

	var batch []*model.Event
	for i := 0; i < 5; i++ {
		batch = append(batch, &model.Event{
			EventID:    fmt.Sprintf("%s-%d", tenant, i),
			TenantID:   tenant,
			AgentID:    "a1",
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			ReceivedAt: base,
			EventType:  model.EventTaskStarted,
			Severity:   model.SeverityInfo,
		})
	}
	_, err := s.InsertEvents(ctx, batch)
	require.NoError(t, err)

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		events, hasMore, err := s.ListEvents(ctx, storage.EventFilter{
			TenantID: tenant, Limit: 2, Cursor: cursor,
		})
		require.NoError(t, err)
		for _, e := range events {
			assert.False(t, seen[e.EventID], "event repeated across pages")
			seen[e.EventID] = true
		}
		pages++
		if !hasMore {
			break
		}
		cursor = events[len(events)-1].EventID
	}
	assert.Equal(t, 3, pages)
	assert.Len(t, seen, 5)
}

func TestPostgresUpdateAgentUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tenant := newTenantID()
	now := time.Now().UTC().Truncate(time.Millisecond)

	p, err := s.UpdateAgent(ctx, tenant, "a1", func(p *model.AgentProfile, found bool) *model.AgentProfile {
		assert.False(t, found)
		p.FirstSeen = now
		p.LastSeen = now
		p.LastEventType = model.EventHeartbeat
		p.StuckThresholdSeconds = model.DefaultStuckThresholdSeconds
		return p
	})
	require.NoError(t, err)
	assert.Equal(t, "a1", p.AgentID)

	p, err = s.UpdateAgent(ctx, tenant, "a1", func(p *model.AgentProfile, found bool) *model.AgentProfile {
		assert.True(t, found)
		assert.Equal(t, model.EventHeartbeat, p.LastEventType)
		p.LastEventType = model.EventTaskStarted
		p.PreviousStatus = model.AgentProcessing
		return p
	})
	require.NoError(t, err)
	assert.Equal(t, model.EventTaskStarted, p.LastEventType)

	got, err := s.GetAgent(ctx, tenant, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.AgentProcessing, got.PreviousStatus)
	assert.True(t, got.FirstSeen.Equal(now))
}

func TestPostgresProjectsAndKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tenant := newTenantID()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.CreateTenant(ctx, &model.Tenant{
		ID: tenant, Name: "Test", Slug: tenant, Plan: model.PlanFree,
		CreatedAt: now, UpdatedAt: now,
	}))
	assert.ErrorIs(t, s.CreateTenant(ctx, &model.Tenant{
		ID: tenant, Name: "Dup", Slug: tenant + "-2", CreatedAt: now, UpdatedAt: now,
	}), storage.ErrAlreadyExists)

	p := &model.Project{ID: uuid.NewString(), TenantID: tenant, Name: "api", Slug: "api", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateProject(ctx, p))
	assert.ErrorIs(t, s.CreateProject(ctx, &model.Project{
		ID: uuid.NewString(), TenantID: tenant, Name: "api2", Slug: "api", CreatedAt: now, UpdatedAt: now,
	}), storage.ErrAlreadyExists)

	p.Archived = true
	p.UpdatedAt = now.Add(time.Second)
	require.NoError(t, s.UpdateProject(ctx, p))
	listed, err := s.ListProjects(ctx, tenant, false)
	require.NoError(t, err)
	assert.Empty(t, listed)

	k := &model.APIKey{
		ID: uuid.NewString(), TenantID: tenant, KeyHash: uuid.NewString(),
		KeyPrefix: "hb_live_abcd", Type: model.KeyTypeLive, Active: true, CreatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, k))
	got, err := s.GetAPIKeyByHash(ctx, k.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, k.ID, got.ID)

	require.NoError(t, s.RevokeAPIKey(ctx, tenant, k.ID, now))
	got, err = s.GetAPIKeyByHash(ctx, k.KeyHash)
	require.NoError(t, err)
	assert.False(t, got.Active)
	require.NotNil(t, got.RevokedAt)
}

func TestPostgresAlertRulesAndHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tenant := newTenantID()
	now := time.Now().UTC().Truncate(time.Millisecond)

	r := &model.AlertRule{
		ID: uuid.NewString(), TenantID: tenant, Name: "stuck agents",
		Condition: model.CondAgentStuck,
		Config:    map[string]any{"threshold_seconds": float64(300)},
		Filters:   map[string]string{"environment": "prod"},
		Actions:   []model.AlertAction{{Type: "webhook", Target: "https://example.com/hook"}},
		Enabled:   true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAlertRule(ctx, r))

	got, err := s.GetAlertRule(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CondAgentStuck, got.Condition)
	assert.Equal(t, "prod", got.Filters["environment"])
	require.Len(t, got.Actions, 1)
	assert.Nil(t, got.ProjectID)

	_, err = s.LastFiring(ctx, r.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	rec := &model.AlertHistoryRecord{
		ID: uuid.NewString(), RuleID: r.ID, TenantID: tenant, FiredAt: now,
		Snapshot:     map[string]any{"agent_id": "a1"},
		ActionsTaken: []model.ActionResult{{Type: "webhook", Status: "logged"}},
		AgentID:      "a1",
	}
	require.NoError(t, s.InsertAlertHistory(ctx, rec))

	last, err := s.LastFiring(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, last.ID)

	hist, err := s.ListAlertHistory(ctx, tenant, r.ID, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "a1", hist[0].AgentID)

	require.NoError(t, s.DeleteAlertRule(ctx, tenant, r.ID))
	_, err = s.GetAlertRule(ctx, tenant, r.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
