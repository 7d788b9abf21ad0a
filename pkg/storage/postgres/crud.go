package postgres

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/storage"
)

// isUniqueViolation reports whether err is a PostgreSQL unique
// constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}

// Tenants

func (s *Store) CreateTenant(ctx context.Context, t *model.Tenant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, slug, plan, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Name, t.Slug, string(t.Plan), t.CreatedAt, t.UpdatedAt)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *Store) scanTenant(row interface{ Scan(...any) error }) (*model.Tenant, error) {
	var t model.Tenant
	var plan string
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &plan, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	t.Plan = model.Plan(plan)
	return &t, nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	return s.scanTenant(s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, plan, created_at, updated_at
		FROM tenants WHERE id = $1`, id))
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	return s.scanTenant(s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, plan, created_at, updated_at
		FROM tenants WHERE slug = $1`, slug))
}

func (s *Store) ListTenants(ctx context.Context) ([]*model.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, plan, created_at, updated_at
		FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []*model.Tenant
	for rows.Next() {
		t, err := s.scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// API keys

func (s *Store) CreateAPIKey(ctx context.Context, k *model.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, tenant_id, key_hash, key_prefix, key_type, label, active, created_at, last_used_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		k.ID, k.TenantID, k.KeyHash, k.KeyPrefix, string(k.Type), k.Label, k.Active,
		k.CreatedAt, toNullTime(k.LastUsedAt), toNullTime(k.RevokedAt))
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func scanAPIKey(row interface{ Scan(...any) error }) (*model.APIKey, error) {
	var k model.APIKey
	var keyType string
	var lastUsed, revoked stdsql.NullTime
	if err := row.Scan(&k.ID, &k.TenantID, &k.KeyHash, &k.KeyPrefix, &keyType,
		&k.Label, &k.Active, &k.CreatedAt, &lastUsed, &revoked); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	k.Type = model.KeyType(keyType)
	k.LastUsedAt = nullTime(lastUsed)
	k.RevokedAt = nullTime(revoked)
	return &k, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	return scanAPIKey(s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, key_hash, key_prefix, key_type, label, active, created_at, last_used_at, revoked_at
		FROM api_keys WHERE key_hash = $1`, hash))
}

func (s *Store) ListAPIKeys(ctx context.Context, tenantID string) ([]*model.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, key_hash, key_prefix, key_type, label, active, created_at, last_used_at, revoked_at
		FROM api_keys WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []*model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) RevokeAPIKey(ctx context.Context, tenantID, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET active = FALSE, revoked_at = $3
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, at)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

// Projects

func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, tenant_id, name, slug, description, archived, auto_created, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.TenantID, p.Name, p.Slug, p.Description, p.Archived, p.AutoCreated, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func scanProject(row interface{ Scan(...any) error }) (*model.Project, error) {
	var p model.Project
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Slug, &p.Description,
		&p.Archived, &p.AutoCreated, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return &p, nil
}

func (s *Store) GetProject(ctx context.Context, tenantID, id string) (*model.Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, slug, description, archived, auto_created, created_at, updated_at
		FROM projects WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (s *Store) GetProjectBySlug(ctx context.Context, tenantID, slug string) (*model.Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, slug, description, archived, auto_created, created_at, updated_at
		FROM projects WHERE tenant_id = $1 AND slug = $2`, tenantID, slug))
}

func (s *Store) ListProjects(ctx context.Context, tenantID string, includeArchived bool) ([]*model.Project, error) {
	q := `
		SELECT id, tenant_id, name, slug, description, archived, auto_created, created_at, updated_at
		FROM projects WHERE tenant_id = $1`
	if !includeArchived {
		q += ` AND archived = FALSE`
	}
	q += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProject(ctx context.Context, p *model.Project) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name = $3, slug = $4, description = $5, archived = $6, updated_at = $7
		WHERE tenant_id = $1 AND id = $2`,
		p.TenantID, p.ID, p.Name, p.Slug, p.Description, p.Archived, p.UpdatedAt)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CountProjects(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM projects WHERE tenant_id = $1`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return n, nil
}

func (s *Store) ReassignProjectEvents(ctx context.Context, tenantID, fromProjectID, toProjectID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET project_id = $3
		WHERE tenant_id = $1 AND project_id = $2`, tenantID, fromProjectID, toProjectID)
	if err != nil {
		return 0, fmt.Errorf("reassign project events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Agent profiles

const agentColumns = `tenant_id, agent_id, agent_type, version, framework, runtime, sdk_version,
	environment, agent_group, first_seen, last_seen, last_heartbeat, last_event_type,
	last_task_id, last_project_id, stuck_threshold_seconds, previous_status`

func scanAgent(row interface{ Scan(...any) error }) (*model.AgentProfile, error) {
	var p model.AgentProfile
	var lastHeartbeat stdsql.NullTime
	var lastEventType, previousStatus string
	if err := row.Scan(&p.TenantID, &p.AgentID, &p.AgentType, &p.Version, &p.Framework,
		&p.Runtime, &p.SDKVersion, &p.Environment, &p.Group, &p.FirstSeen, &p.LastSeen,
		&lastHeartbeat, &lastEventType, &p.LastTaskID, &p.LastProjectID,
		&p.StuckThresholdSeconds, &previousStatus); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	p.LastHeartbeat = nullTime(lastHeartbeat)
	p.LastEventType = model.EventType(lastEventType)
	p.PreviousStatus = model.AgentStatus(previousStatus)
	return &p, nil
}

func (s *Store) GetAgent(ctx context.Context, tenantID, agentID string) (*model.AgentProfile, error) {
	return scanAgent(s.db.QueryRowContext(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE tenant_id = $1 AND agent_id = $2`, tenantID, agentID))
}

func (s *Store) ListAgents(ctx context.Context, tenantID string) ([]*model.AgentProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE tenant_id = $1 ORDER BY agent_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*model.AgentProfile
	for rows.Next() {
		p, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateAgent runs fn inside a transaction holding a row lock on the
// profile, so previous_status transitions observe the latest committed
// state even across concurrent batches.
func (s *Store) UpdateAgent(ctx context.Context, tenantID, agentID string, fn storage.AgentUpdateFn) (*model.AgentProfile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin agent update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanAgent(tx.QueryRowContext(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE tenant_id = $1 AND agent_id = $2 FOR UPDATE`, tenantID, agentID))
	found := true
	if errors.Is(err, storage.ErrNotFound) {
		found = false
		cur = &model.AgentProfile{TenantID: tenantID, AgentID: agentID}
	} else if err != nil {
		return nil, err
	}

	updated := fn(cur, found)
	if updated == nil {
		return cur, tx.Commit()
	}
	updated.TenantID = tenantID
	updated.AgentID = agentID

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (tenant_id, agent_id) DO UPDATE SET
			agent_type = EXCLUDED.agent_type,
			version = EXCLUDED.version,
			framework = EXCLUDED.framework,
			runtime = EXCLUDED.runtime,
			sdk_version = EXCLUDED.sdk_version,
			environment = EXCLUDED.environment,
			agent_group = EXCLUDED.agent_group,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			last_heartbeat = EXCLUDED.last_heartbeat,
			last_event_type = EXCLUDED.last_event_type,
			last_task_id = EXCLUDED.last_task_id,
			last_project_id = EXCLUDED.last_project_id,
			stuck_threshold_seconds = EXCLUDED.stuck_threshold_seconds,
			previous_status = EXCLUDED.previous_status`,
		updated.TenantID, updated.AgentID, updated.AgentType, updated.Version,
		updated.Framework, updated.Runtime, updated.SDKVersion, updated.Environment,
		updated.Group, updated.FirstSeen, updated.LastSeen, toNullTime(updated.LastHeartbeat),
		string(updated.LastEventType), updated.LastTaskID, updated.LastProjectID,
		updated.StuckThresholdSeconds, string(updated.PreviousStatus))
	if err != nil {
		return nil, fmt.Errorf("upsert agent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit agent update: %w", err)
	}
	return updated, nil
}

// Project-agent junction

func (s *Store) EnsureProjectAgent(ctx context.Context, tenantID, projectID, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_agents (tenant_id, project_id, agent_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, project_id, agent_id) DO NOTHING`,
		tenantID, projectID, agentID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ensure project agent: %w", err)
	}
	return nil
}

func (s *Store) DeleteProjectAgent(ctx context.Context, tenantID, projectID, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM project_agents
		WHERE tenant_id = $1 AND project_id = $2 AND agent_id = $3`,
		tenantID, projectID, agentID)
	if err != nil {
		return fmt.Errorf("delete project agent: %w", err)
	}
	return nil
}

func (s *Store) ListProjectAgents(ctx context.Context, tenantID, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id FROM project_agents
		WHERE tenant_id = $1 AND project_id = $2 ORDER BY agent_id`, tenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project agents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project agent: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Alert rules

func (s *Store) CreateAlertRule(ctx context.Context, r *model.AlertRule) error {
	config, err := marshalJSON(r.Config)
	if err != nil {
		return fmt.Errorf("marshal rule config: %w", err)
	}
	filters, err := marshalJSON(r.Filters)
	if err != nil {
		return fmt.Errorf("marshal rule filters: %w", err)
	}
	actions, err := marshalJSON(r.Actions)
	if err != nil {
		return fmt.Errorf("marshal rule actions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_rules (id, tenant_id, project_id, name, condition, config, filters, actions, cooldown_seconds, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.TenantID, r.ProjectID, r.Name, string(r.Condition),
		config, filters, actions, r.CooldownSeconds, r.Enabled, r.CreatedAt, r.UpdatedAt)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert alert rule: %w", err)
	}
	return nil
}

func scanAlertRule(row interface{ Scan(...any) error }) (*model.AlertRule, error) {
	var r model.AlertRule
	var condition string
	var projectID stdsql.NullString
	var config, filters, actions []byte
	if err := row.Scan(&r.ID, &r.TenantID, &projectID, &r.Name, &condition,
		&config, &filters, &actions, &r.CooldownSeconds, &r.Enabled, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan alert rule: %w", err)
	}
	r.Condition = model.AlertCondition(condition)
	if projectID.Valid {
		r.ProjectID = &projectID.String
	}
	if err := unmarshalJSON(config, &r.Config); err != nil {
		return nil, fmt.Errorf("unmarshal rule config: %w", err)
	}
	if err := unmarshalJSON(filters, &r.Filters); err != nil {
		return nil, fmt.Errorf("unmarshal rule filters: %w", err)
	}
	if err := unmarshalJSON(actions, &r.Actions); err != nil {
		return nil, fmt.Errorf("unmarshal rule actions: %w", err)
	}
	return &r, nil
}

func (s *Store) GetAlertRule(ctx context.Context, tenantID, id string) (*model.AlertRule, error) {
	return scanAlertRule(s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, project_id, name, condition, config, filters, actions, cooldown_seconds, enabled, created_at, updated_at
		FROM alert_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (s *Store) ListAlertRules(ctx context.Context, tenantID string, enabledOnly bool) ([]*model.AlertRule, error) {
	q := `
		SELECT id, tenant_id, project_id, name, condition, config, filters, actions, cooldown_seconds, enabled, created_at, updated_at
		FROM alert_rules WHERE tenant_id = $1`
	if enabledOnly {
		q += ` AND enabled = TRUE`
	}
	q += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	defer rows.Close()

	var out []*model.AlertRule
	for rows.Next() {
		r, err := scanAlertRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAlertRule(ctx context.Context, r *model.AlertRule) error {
	config, err := marshalJSON(r.Config)
	if err != nil {
		return fmt.Errorf("marshal rule config: %w", err)
	}
	filters, err := marshalJSON(r.Filters)
	if err != nil {
		return fmt.Errorf("marshal rule filters: %w", err)
	}
	actions, err := marshalJSON(r.Actions)
	if err != nil {
		return fmt.Errorf("marshal rule actions: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_rules SET project_id = $3, name = $4, condition = $5, config = $6,
			filters = $7, actions = $8, cooldown_seconds = $9, enabled = $10, updated_at = $11
		WHERE tenant_id = $1 AND id = $2`,
		r.TenantID, r.ID, r.ProjectID, r.Name, string(r.Condition),
		config, filters, actions, r.CooldownSeconds, r.Enabled, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update alert rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAlertRule(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM alert_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Alert history

func (s *Store) InsertAlertHistory(ctx context.Context, rec *model.AlertHistoryRecord) error {
	snapshot, err := marshalJSON(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal history snapshot: %w", err)
	}
	actions, err := marshalJSON(rec.ActionsTaken)
	if err != nil {
		return fmt.Errorf("marshal history actions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_history (id, rule_id, tenant_id, fired_at, snapshot, actions, agent_id, task_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.RuleID, rec.TenantID, rec.FiredAt, snapshot, actions, rec.AgentID, rec.TaskID)
	if err != nil {
		return fmt.Errorf("insert alert history: %w", err)
	}
	return nil
}

func scanAlertHistory(row interface{ Scan(...any) error }) (*model.AlertHistoryRecord, error) {
	var rec model.AlertHistoryRecord
	var snapshot, actions []byte
	if err := row.Scan(&rec.ID, &rec.RuleID, &rec.TenantID, &rec.FiredAt,
		&snapshot, &actions, &rec.AgentID, &rec.TaskID); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan alert history: %w", err)
	}
	if err := unmarshalJSON(snapshot, &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal history snapshot: %w", err)
	}
	if err := unmarshalJSON(actions, &rec.ActionsTaken); err != nil {
		return nil, fmt.Errorf("unmarshal history actions: %w", err)
	}
	return &rec, nil
}

func (s *Store) ListAlertHistory(ctx context.Context, tenantID, ruleID string, limit int) ([]*model.AlertHistoryRecord, error) {
	q := `
		SELECT id, rule_id, tenant_id, fired_at, snapshot, actions, agent_id, task_id
		FROM alert_history WHERE tenant_id = $1`
	args := []any{tenantID}
	if ruleID != "" {
		q += ` AND rule_id = $2`
		args = append(args, ruleID)
	}
	q += ` ORDER BY fired_at DESC`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list alert history: %w", err)
	}
	defer rows.Close()

	var out []*model.AlertHistoryRecord
	for rows.Next() {
		rec, err := scanAlertHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) LastFiring(ctx context.Context, ruleID string) (*model.AlertHistoryRecord, error) {
	return scanAlertHistory(s.db.QueryRowContext(ctx, `
		SELECT id, rule_id, tenant_id, fired_at, snapshot, actions, agent_id, task_id
		FROM alert_history WHERE rule_id = $1
		ORDER BY fired_at DESC LIMIT 1`, ruleID))
}
