package filestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func evt(tenant, id, agent string, et model.EventType, ts time.Time) *model.Event {
	return &model.Event{
		EventID:    id,
		TenantID:   tenant,
		AgentID:    agent,
		EventType:  et,
		Severity:   model.SeverityInfo,
		Timestamp:  ts,
		ReceivedAt: ts,
	}
}

func TestInsertEventsDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []*model.Event{
		evt("t1", "e1", "a1", model.EventHeartbeat, now),
		evt("t1", "e2", "a1", model.EventTaskStarted, now),
	}

	n, err := s.InsertEvents(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Identical re-POST inserts nothing.
	n, err = s.InsertEvents(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Same event id under another tenant is a distinct event.
	n, err = s.InsertEvents(ctx, []*model.Event{evt("t2", "e1", "a1", model.EventHeartbeat, now)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListEventsFilterAndPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)

	var batch []*model.Event
	for i := 0; i < 5; i++ {
		e := evt("t1", string(rune('a'+i)), "a1", model.EventTaskStarted, base.Add(time.Duration(i)*time.Second))
		e.TaskID = "task-1"
		batch = append(batch, e)
	}
	batch = append(batch, evt("t1", "hb", "a1", model.EventHeartbeat, base))
	batch = append(batch, evt("t2", "other", "a9", model.EventTaskStarted, base))
	_, err := s.InsertEvents(ctx, batch)
	require.NoError(t, err)

	t.Run("reverse chronological by default", func(t *testing.T) {
		events, hasMore, err := s.ListEvents(ctx, storage.EventFilter{TenantID: "t1", TaskID: "task-1"})
		require.NoError(t, err)
		assert.False(t, hasMore)
		require.Len(t, events, 5)
		assert.Equal(t, "e", events[0].EventID)
		assert.Equal(t, "a", events[4].EventID)
	})

	t.Run("cursor pagination", func(t *testing.T) {
		page1, hasMore, err := s.ListEvents(ctx, storage.EventFilter{TenantID: "t1", TaskID: "task-1", Limit: 2})
		require.NoError(t, err)
		assert.True(t, hasMore)
		require.Len(t, page1, 2)

		page2, hasMore, err := s.ListEvents(ctx, storage.EventFilter{
			TenantID: "t1", TaskID: "task-1", Limit: 2, Cursor: page1[1].EventID,
		})
		require.NoError(t, err)
		assert.True(t, hasMore)
		require.Len(t, page2, 2)
		assert.NotEqual(t, page1[1].EventID, page2[0].EventID)

		page3, hasMore, err := s.ListEvents(ctx, storage.EventFilter{
			TenantID: "t1", TaskID: "task-1", Limit: 2, Cursor: page2[1].EventID,
		})
		require.NoError(t, err)
		assert.False(t, hasMore)
		assert.Len(t, page3, 1)
	})

	t.Run("exclude heartbeats", func(t *testing.T) {
		events, _, err := s.ListEvents(ctx, storage.EventFilter{TenantID: "t1", ExcludeHeartbeats: true})
		require.NoError(t, err)
		for _, e := range events {
			assert.NotEqual(t, model.EventHeartbeat, e.EventType)
		}
	})

	t.Run("time range inclusive lower exclusive upper", func(t *testing.T) {
		since := base.Add(1 * time.Second)
		until := base.Add(3 * time.Second)
		events, _, err := s.ListEvents(ctx, storage.EventFilter{
			TenantID: "t1", TaskID: "task-1", Since: &since, Until: &until, Ascending: true,
		})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "b", events[0].EventID)
		assert.Equal(t, "c", events[1].EventID)
	})
}

func TestPruneEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.InsertEvents(ctx, []*model.Event{
		evt("t1", "old", "a1", model.EventTaskCompleted, now.Add(-8*24*time.Hour)),
		evt("t1", "recent", "a1", model.EventTaskCompleted, now.Add(-time.Hour)),
		evt("t1", "stale-hb", "a1", model.EventHeartbeat, now.Add(-20*time.Minute)),
		evt("unknown-tenant", "kept", "a1", model.EventHeartbeat, now.Add(-30*24*time.Hour)),
	})
	require.NoError(t, err)

	cutoffs := map[string]time.Time{"t1": now.Add(-7 * 24 * time.Hour)}
	cold := []storage.ColdRule{
		{EventType: model.EventHeartbeat, MaxAge: 600 * time.Second},
		{EventType: model.EventActionStarted, MaxAge: 86400 * time.Second},
	}

	res, err := s.PruneEvents(ctx, cutoffs, cold)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TTLPruned)
	assert.Equal(t, 1, res.ColdPruned)
	assert.Equal(t, 2, res.TotalPruned)

	events, _, err := s.ListEvents(ctx, storage.EventFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "recent", events[0].EventID)

	// Unknown tenants are kept defensively.
	events, _, err = s.ListEvents(ctx, storage.EventFilter{TenantID: "unknown-tenant"})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	// Second pass prunes nothing.
	res, err = s.PruneEvents(ctx, cutoffs, cold)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalPruned)
}

func TestTTLDominatesCold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// A heartbeat that is both past TTL and past the cold horizon must
	// count as ttl_pruned, never double-counted.
	_, err := s.InsertEvents(ctx, []*model.Event{
		evt("t1", "hb", "a1", model.EventHeartbeat, now.Add(-10*24*time.Hour)),
	})
	require.NoError(t, err)

	res, err := s.PruneEvents(ctx,
		map[string]time.Time{"t1": now.Add(-7 * 24 * time.Hour)},
		[]storage.ColdRule{{EventType: model.EventHeartbeat, MaxAge: 600 * time.Second}})
	require.NoError(t, err)
	assert.Equal(t, storage.PruneResult{TTLPruned: 1, ColdPruned: 0, TotalPruned: 1}, res)
}

func TestProjectUniquenessAndUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p := &model.Project{ID: "p1", TenantID: "t1", Name: "api", Slug: "api", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateProject(ctx, p))
	assert.ErrorIs(t, s.CreateProject(ctx, &model.Project{ID: "p2", TenantID: "t1", Slug: "api"}), storage.ErrAlreadyExists)

	// Same slug under another tenant is fine.
	require.NoError(t, s.CreateProject(ctx, &model.Project{ID: "p3", TenantID: "t2", Slug: "api"}))

	p.Archived = true
	require.NoError(t, s.UpdateProject(ctx, p))
	got, err := s.GetProject(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.True(t, got.Archived)

	listed, err := s.ListProjects(ctx, "t1", false)
	require.NoError(t, err)
	assert.Empty(t, listed)
	listed, err = s.ListProjects(ctx, "t1", true)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestUpdateAgentUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p, err := s.UpdateAgent(ctx, "t1", "a1", func(p *model.AgentProfile, found bool) *model.AgentProfile {
		assert.False(t, found)
		p.FirstSeen = now
		p.LastSeen = now
		p.LastEventType = model.EventHeartbeat
		return p
	})
	require.NoError(t, err)
	assert.Equal(t, "a1", p.AgentID)

	p, err = s.UpdateAgent(ctx, "t1", "a1", func(p *model.AgentProfile, found bool) *model.AgentProfile {
		assert.True(t, found)
		assert.Equal(t, model.EventHeartbeat, p.LastEventType)
		p.LastEventType = model.EventTaskStarted
		return p
	})
	require.NoError(t, err)
	assert.Equal(t, model.EventTaskStarted, p.LastEventType)

	agents, err := s.ListAgents(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}

func TestReopenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.CreateTenant(ctx, &model.Tenant{ID: "t1", Name: "Acme", Slug: "acme", Plan: model.PlanFree, CreatedAt: now}))
	e := evt("t1", "e1", "a1", model.EventCustom, now)
	e.Payload = &model.Payload{Kind: model.KindLLMCall, Summary: "call", Data: map[string]any{"model": "gpt-4o"}}
	_, err = s.InsertEvents(ctx, []*model.Event{e})
	require.NoError(t, err)

	s2, err := Open(dir)
	require.NoError(t, err)
	tn, err := s2.GetTenantBySlug(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "t1", tn.ID)

	events, _, err := s2.ListEvents(ctx, storage.EventFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].EventID)
	assert.Equal(t, model.EventCustom, events[0].EventType)
	assert.True(t, events[0].Timestamp.Equal(now))
	require.NotNil(t, events[0].Payload)
	assert.Equal(t, model.KindLLMCall, events[0].Payload.Kind)
}
