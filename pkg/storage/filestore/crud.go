package filestore

import (
	"context"
	"time"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/storage"
)

// --- Tenants ---

func (s *Store) CreateTenant(_ context.Context, t *model.Tenant) error {
	s.tenants.mu.Lock()
	defer s.tenants.mu.Unlock()
	for _, ex := range s.tenants.rows {
		if ex.ID == t.ID || ex.Slug == t.Slug {
			return storage.ErrAlreadyExists
		}
	}
	cp := *t
	s.tenants.rows = append(s.tenants.rows, &cp)
	return s.tenants.save()
}

func (s *Store) GetTenant(_ context.Context, id string) (*model.Tenant, error) {
	s.tenants.mu.Lock()
	defer s.tenants.mu.Unlock()
	for _, t := range s.tenants.rows {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) GetTenantBySlug(_ context.Context, slug string) (*model.Tenant, error) {
	s.tenants.mu.Lock()
	defer s.tenants.mu.Unlock()
	for _, t := range s.tenants.rows {
		if t.Slug == slug {
			cp := *t
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListTenants(_ context.Context) ([]*model.Tenant, error) {
	s.tenants.mu.Lock()
	defer s.tenants.mu.Unlock()
	out := make([]*model.Tenant, 0, len(s.tenants.rows))
	for _, t := range s.tenants.rows {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// --- API keys ---

func (s *Store) CreateAPIKey(_ context.Context, k *model.APIKey) error {
	s.apiKeys.mu.Lock()
	defer s.apiKeys.mu.Unlock()
	for _, ex := range s.apiKeys.rows {
		if ex.ID == k.ID || ex.KeyHash == k.KeyHash {
			return storage.ErrAlreadyExists
		}
	}
	cp := *k
	s.apiKeys.rows = append(s.apiKeys.rows, &cp)
	return s.apiKeys.save()
}

func (s *Store) GetAPIKeyByHash(_ context.Context, hash string) (*model.APIKey, error) {
	s.apiKeys.mu.Lock()
	defer s.apiKeys.mu.Unlock()
	for _, k := range s.apiKeys.rows {
		if k.KeyHash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListAPIKeys(_ context.Context, tenantID string) ([]*model.APIKey, error) {
	s.apiKeys.mu.Lock()
	defer s.apiKeys.mu.Unlock()
	var out []*model.APIKey
	for _, k := range s.apiKeys.rows {
		if k.TenantID == tenantID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) RevokeAPIKey(_ context.Context, tenantID, id string, at time.Time) error {
	s.apiKeys.mu.Lock()
	defer s.apiKeys.mu.Unlock()
	for _, k := range s.apiKeys.rows {
		if k.TenantID == tenantID && k.ID == id {
			k.Active = false
			k.RevokedAt = &at
			return s.apiKeys.save()
		}
	}
	return storage.ErrNotFound
}

func (s *Store) TouchAPIKey(_ context.Context, id string, at time.Time) error {
	s.apiKeys.mu.Lock()
	defer s.apiKeys.mu.Unlock()
	for _, k := range s.apiKeys.rows {
		if k.ID == id {
			k.LastUsedAt = &at
			return s.apiKeys.save()
		}
	}
	return storage.ErrNotFound
}

// --- Projects ---

func (s *Store) CreateProject(_ context.Context, p *model.Project) error {
	s.projects.mu.Lock()
	defer s.projects.mu.Unlock()
	for _, ex := range s.projects.rows {
		if ex.TenantID != p.TenantID {
			continue
		}
		if ex.ID == p.ID || ex.Slug == p.Slug {
			return storage.ErrAlreadyExists
		}
	}
	cp := *p
	s.projects.rows = append(s.projects.rows, &cp)
	return s.projects.save()
}

func (s *Store) GetProject(_ context.Context, tenantID, id string) (*model.Project, error) {
	s.projects.mu.Lock()
	defer s.projects.mu.Unlock()
	for _, p := range s.projects.rows {
		if p.TenantID == tenantID && p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) GetProjectBySlug(_ context.Context, tenantID, slug string) (*model.Project, error) {
	s.projects.mu.Lock()
	defer s.projects.mu.Unlock()
	for _, p := range s.projects.rows {
		if p.TenantID == tenantID && p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListProjects(_ context.Context, tenantID string, includeArchived bool) ([]*model.Project, error) {
	s.projects.mu.Lock()
	defer s.projects.mu.Unlock()
	var out []*model.Project
	for _, p := range s.projects.rows {
		if p.TenantID != tenantID {
			continue
		}
		if p.Archived && !includeArchived {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// UpdateProject is the canonical project mutation path: the whole row is
// replaced under the projects table lock.
func (s *Store) UpdateProject(_ context.Context, p *model.Project) error {
	s.projects.mu.Lock()
	defer s.projects.mu.Unlock()
	for i, ex := range s.projects.rows {
		if ex.TenantID == p.TenantID && ex.ID == p.ID {
			cp := *p
			s.projects.rows[i] = &cp
			return s.projects.save()
		}
	}
	return storage.ErrNotFound
}

func (s *Store) CountProjects(_ context.Context, tenantID string) (int, error) {
	s.projects.mu.Lock()
	defer s.projects.mu.Unlock()
	n := 0
	for _, p := range s.projects.rows {
		if p.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (s *Store) ReassignProjectEvents(_ context.Context, tenantID, fromProjectID, toProjectID string) (int, error) {
	s.events.mu.Lock()
	defer s.events.mu.Unlock()
	moved := 0
	for _, e := range s.events.rows {
		if e.TenantID == tenantID && e.ProjectID == fromProjectID {
			e.ProjectID = toProjectID
			moved++
		}
	}
	if moved == 0 {
		return 0, nil
	}
	return moved, s.events.save()
}

// --- Agent profiles ---

func (s *Store) GetAgent(_ context.Context, tenantID, agentID string) (*model.AgentProfile, error) {
	s.agents.mu.Lock()
	defer s.agents.mu.Unlock()
	for _, a := range s.agents.rows {
		if a.TenantID == tenantID && a.AgentID == agentID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListAgents(_ context.Context, tenantID string) ([]*model.AgentProfile, error) {
	s.agents.mu.Lock()
	defer s.agents.mu.Unlock()
	var out []*model.AgentProfile
	for _, a := range s.agents.rows {
		if a.TenantID == tenantID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// UpdateAgent runs fn under the agents table lock. fn receives a copy of
// the current profile (or a zero-keyed profile when absent) and returns
// the row to persist; returning nil leaves the table untouched.
func (s *Store) UpdateAgent(_ context.Context, tenantID, agentID string, fn storage.AgentUpdateFn) (*model.AgentProfile, error) {
	s.agents.mu.Lock()
	defer s.agents.mu.Unlock()

	idx := -1
	var cur model.AgentProfile
	for i, a := range s.agents.rows {
		if a.TenantID == tenantID && a.AgentID == agentID {
			idx = i
			cur = *a
			break
		}
	}

	found := idx >= 0
	if !found {
		cur = model.AgentProfile{TenantID: tenantID, AgentID: agentID}
	}

	updated := fn(&cur, found)
	if updated == nil {
		if !found {
			return nil, storage.ErrNotFound
		}
		cp := cur
		return &cp, nil
	}

	cp := *updated
	if found {
		s.agents.rows[idx] = &cp
	} else {
		s.agents.rows = append(s.agents.rows, &cp)
	}
	if err := s.agents.save(); err != nil {
		return nil, err
	}
	out := cp
	return &out, nil
}

// --- Project-agent junction ---

func (s *Store) EnsureProjectAgent(_ context.Context, tenantID, projectID, agentID string) error {
	s.projectAgents.mu.Lock()
	defer s.projectAgents.mu.Unlock()
	for _, j := range s.projectAgents.rows {
		if j.TenantID == tenantID && j.ProjectID == projectID && j.AgentID == agentID {
			return nil
		}
	}
	s.projectAgents.rows = append(s.projectAgents.rows, &model.ProjectAgent{
		TenantID:  tenantID,
		ProjectID: projectID,
		AgentID:   agentID,
		CreatedAt: time.Now().UTC(),
	})
	return s.projectAgents.save()
}

func (s *Store) DeleteProjectAgent(_ context.Context, tenantID, projectID, agentID string) error {
	s.projectAgents.mu.Lock()
	defer s.projectAgents.mu.Unlock()
	for i, j := range s.projectAgents.rows {
		if j.TenantID == tenantID && j.ProjectID == projectID && j.AgentID == agentID {
			s.projectAgents.rows = append(s.projectAgents.rows[:i], s.projectAgents.rows[i+1:]...)
			return s.projectAgents.save()
		}
	}
	return storage.ErrNotFound
}

func (s *Store) ListProjectAgents(_ context.Context, tenantID, projectID string) ([]string, error) {
	s.projectAgents.mu.Lock()
	defer s.projectAgents.mu.Unlock()
	var out []string
	for _, j := range s.projectAgents.rows {
		if j.TenantID == tenantID && j.ProjectID == projectID {
			out = append(out, j.AgentID)
		}
	}
	return out, nil
}

// --- Alert rules ---

func (s *Store) CreateAlertRule(_ context.Context, r *model.AlertRule) error {
	s.alertRules.mu.Lock()
	defer s.alertRules.mu.Unlock()
	for _, ex := range s.alertRules.rows {
		if ex.ID == r.ID {
			return storage.ErrAlreadyExists
		}
	}
	cp := *r
	s.alertRules.rows = append(s.alertRules.rows, &cp)
	return s.alertRules.save()
}

func (s *Store) GetAlertRule(_ context.Context, tenantID, id string) (*model.AlertRule, error) {
	s.alertRules.mu.Lock()
	defer s.alertRules.mu.Unlock()
	for _, r := range s.alertRules.rows {
		if r.TenantID == tenantID && r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListAlertRules(_ context.Context, tenantID string, enabledOnly bool) ([]*model.AlertRule, error) {
	s.alertRules.mu.Lock()
	defer s.alertRules.mu.Unlock()
	var out []*model.AlertRule
	for _, r := range s.alertRules.rows {
		if r.TenantID != tenantID {
			continue
		}
		if enabledOnly && !r.Enabled {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) UpdateAlertRule(_ context.Context, r *model.AlertRule) error {
	s.alertRules.mu.Lock()
	defer s.alertRules.mu.Unlock()
	for i, ex := range s.alertRules.rows {
		if ex.TenantID == r.TenantID && ex.ID == r.ID {
			cp := *r
			s.alertRules.rows[i] = &cp
			return s.alertRules.save()
		}
	}
	return storage.ErrNotFound
}

func (s *Store) DeleteAlertRule(_ context.Context, tenantID, id string) error {
	s.alertRules.mu.Lock()
	defer s.alertRules.mu.Unlock()
	for i, ex := range s.alertRules.rows {
		if ex.TenantID == tenantID && ex.ID == id {
			s.alertRules.rows = append(s.alertRules.rows[:i], s.alertRules.rows[i+1:]...)
			return s.alertRules.save()
		}
	}
	return storage.ErrNotFound
}

// --- Alert history ---

func (s *Store) InsertAlertHistory(_ context.Context, rec *model.AlertHistoryRecord) error {
	s.alertHistory.mu.Lock()
	defer s.alertHistory.mu.Unlock()
	cp := *rec
	s.alertHistory.rows = append(s.alertHistory.rows, &cp)
	return s.alertHistory.save()
}

func (s *Store) ListAlertHistory(_ context.Context, tenantID, ruleID string, limit int) ([]*model.AlertHistoryRecord, error) {
	s.alertHistory.mu.Lock()
	defer s.alertHistory.mu.Unlock()
	var out []*model.AlertHistoryRecord
	// Newest first.
	for i := len(s.alertHistory.rows) - 1; i >= 0; i-- {
		rec := s.alertHistory.rows[i]
		if rec.TenantID != tenantID {
			continue
		}
		if ruleID != "" && rec.RuleID != ruleID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) LastFiring(_ context.Context, ruleID string) (*model.AlertHistoryRecord, error) {
	s.alertHistory.mu.Lock()
	defer s.alertHistory.mu.Unlock()
	for i := len(s.alertHistory.rows) - 1; i >= 0; i-- {
		if s.alertHistory.rows[i].RuleID == ruleID {
			cp := *s.alertHistory.rows[i]
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}
