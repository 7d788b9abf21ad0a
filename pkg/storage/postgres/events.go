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

const eventColumns = `tenant_id, event_id, agent_id, agent_type, project_id, ts, received_at,
	environment, agent_group, task_id, task_type, task_run_id, correlation_id,
	action_id, parent_action_id, event_type, severity, status, duration_ms,
	parent_event_id, payload`

// InsertEvents inserts the batch inside one transaction, counting rows
// actually written. ON CONFLICT DO NOTHING gives the same silent-dedup
// semantics the events primary key demands.
func (s *Store) InsertEvents(ctx context.Context, events []*model.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert events: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (tenant_id, event_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert events: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range events {
		payload, err := marshalJSON(e.Payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		var durationMS any
		if e.DurationMS != nil {
			durationMS = *e.DurationMS
		}

		res, err := stmt.ExecContext(ctx,
			e.TenantID, e.EventID, e.AgentID, e.AgentType, e.ProjectID,
			e.Timestamp, e.ReceivedAt, e.Environment, e.Group,
			e.TaskID, e.TaskType, e.TaskRunID, e.CorrelationID,
			e.ActionID, e.ParentActionID, string(e.EventType), string(e.Severity),
			e.Status, durationMS, e.ParentEventID, payload)
		if err != nil {
			return 0, fmt.Errorf("insert event %s: %w", e.EventID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert events: %w", err)
	}
	return inserted, nil
}

func scanEvent(row interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	var eventType, severity string
	var durationMS stdsql.NullFloat64
	var payload []byte
	if err := row.Scan(&e.TenantID, &e.EventID, &e.AgentID, &e.AgentType, &e.ProjectID,
		&e.Timestamp, &e.ReceivedAt, &e.Environment, &e.Group,
		&e.TaskID, &e.TaskType, &e.TaskRunID, &e.CorrelationID,
		&e.ActionID, &e.ParentActionID, &eventType, &severity,
		&e.Status, &durationMS, &e.ParentEventID, &payload); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.EventType = model.EventType(eventType)
	e.Severity = model.Severity(severity)
	if durationMS.Valid {
		v := durationMS.Float64
		e.DurationMS = &v
	}
	if len(payload) > 0 {
		e.Payload = &model.Payload{}
		if err := unmarshalJSON(payload, e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
	}
	return &e, nil
}

// ListEvents translates the filter to a single SELECT. Cursor pagination
// compares (ts, event_id) against the cursor row so pages never skip or
// repeat events sharing a timestamp.
func (s *Store) ListEvents(ctx context.Context, f storage.EventFilter) ([]*model.Event, bool, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.TenantID != "" {
		where = append(where, "tenant_id = "+arg(f.TenantID))
	}
	if f.ProjectID != "" {
		where = append(where, "project_id = "+arg(f.ProjectID))
	}
	if f.AgentID != "" {
		where = append(where, "agent_id = "+arg(f.AgentID))
	}
	if f.TaskID != "" {
		where = append(where, "task_id = "+arg(f.TaskID))
	}
	if f.EventType != "" {
		where = append(where, "event_type = "+arg(string(f.EventType)))
	}
	if f.Severity != "" {
		where = append(where, "severity = "+arg(string(f.Severity)))
	}
	if f.Environment != "" {
		where = append(where, "environment = "+arg(f.Environment))
	}
	if f.Group != "" {
		where = append(where, "agent_group = "+arg(f.Group))
	}
	if f.PayloadKind != "" {
		where = append(where, "payload->>'kind' = "+arg(string(f.PayloadKind)))
	}
	if f.ExcludeHeartbeats {
		where = append(where, "event_type <> "+arg(string(model.EventHeartbeat)))
	}
	if f.Since != nil {
		where = append(where, "ts >= "+arg(*f.Since))
	}
	if f.Until != nil {
		where = append(where, "ts < "+arg(*f.Until))
	}

	if f.Cursor != "" {
		// Resolve the cursor row's timestamp first; a vanished cursor
		// (pruned mid-pagination) restarts from the top.
		var cts time.Time
		err := s.db.QueryRowContext(ctx, `
			SELECT ts FROM events WHERE tenant_id = $1 AND event_id = $2`,
			f.TenantID, f.Cursor).Scan(&cts)
		if err == nil {
			if f.Ascending {
				where = append(where, fmt.Sprintf("(ts, event_id) > (%s, %s)", arg(cts), arg(f.Cursor)))
			} else {
				where = append(where, fmt.Sprintf("(ts, event_id) < (%s, %s)", arg(cts), arg(f.Cursor)))
			}
		} else if !errors.Is(err, stdsql.ErrNoRows) {
			return nil, false, fmt.Errorf("resolve cursor: %w", err)
		}
	}

	q := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	if f.Ascending {
		q += ` ORDER BY ts ASC, event_id ASC`
	} else {
		q += ` ORDER BY ts DESC, event_id DESC`
	}
	if f.Limit > 0 {
		// Fetch one extra row to learn whether more rows matched.
		q += fmt.Sprintf(` LIMIT %d`, f.Limit+1)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, false, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	if f.Limit > 0 && len(out) > f.Limit {
		return out[:f.Limit], true, nil
	}
	return out, false, nil
}

// PruneEvents deletes TTL-expired events per tenant, then applies the
// cold rules to the survivors. Running TTL deletes first keeps an event
// past both horizons counted once, as ttl_pruned.
func (s *Store) PruneEvents(ctx context.Context, ttlCutoffs map[string]time.Time, cold []storage.ColdRule) (storage.PruneResult, error) {
	var res storage.PruneResult

	for tenantID, cutoff := range ttlCutoffs {
		r, err := s.db.ExecContext(ctx, `
			DELETE FROM events WHERE tenant_id = $1 AND ts < $2`, tenantID, cutoff)
		if err != nil {
			return res, fmt.Errorf("prune ttl events for %s: %w", tenantID, err)
		}
		n, _ := r.RowsAffected()
		res.TTLPruned += int(n)
	}

	now := time.Now().UTC()
	for _, rule := range cold {
		r, err := s.db.ExecContext(ctx, `
			DELETE FROM events WHERE event_type = $1 AND ts < $2`,
			string(rule.EventType), now.Add(-rule.MaxAge))
		if err != nil {
			return res, fmt.Errorf("prune cold events %s: %w", rule.EventType, err)
		}
		n, _ := r.RowsAffected()
		res.ColdPruned += int(n)
	}

	res.TotalPruned = res.TTLPruned + res.ColdPruned
	return res, nil
}
