package filestore

import (
	"context"
	"sort"
	"time"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/storage"
)

// InsertEvents appends the batch, silently dropping events whose
// (tenant, event_id) already exists. Dedup and append happen under the
// same events table lock.
func (s *Store) InsertEvents(_ context.Context, events []*model.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	s.events.mu.Lock()
	defer s.events.mu.Unlock()

	seen := make(map[[2]string]bool, len(s.events.rows))
	for _, e := range s.events.rows {
		seen[[2]string{e.TenantID, e.EventID}] = true
	}

	inserted := 0
	for _, e := range events {
		key := [2]string{e.TenantID, e.EventID}
		if seen[key] {
			continue
		}
		seen[key] = true
		cp := *e
		s.events.rows = append(s.events.rows, &cp)
		inserted++
	}

	if inserted == 0 {
		return 0, nil
	}
	return inserted, s.events.save()
}

func matches(e *model.Event, f storage.EventFilter) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.ProjectID != "" && e.ProjectID != f.ProjectID {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.Environment != "" && e.Environment != f.Environment {
		return false
	}
	if f.Group != "" && e.Group != f.Group {
		return false
	}
	if f.PayloadKind != "" && (e.Payload == nil || e.Payload.Kind != f.PayloadKind) {
		return false
	}
	if f.ExcludeHeartbeats && e.EventType == model.EventHeartbeat {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !e.Timestamp.Before(*f.Until) {
		return false
	}
	return true
}

// ListEvents returns one page of matching events plus whether more rows
// matched beyond the limit. Reverse-chronological unless f.Ascending.
func (s *Store) ListEvents(_ context.Context, f storage.EventFilter) ([]*model.Event, bool, error) {
	s.events.mu.Lock()
	var matched []*model.Event
	for _, e := range s.events.rows {
		if matches(e, f) {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	s.events.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			if f.Ascending {
				return a.Timestamp.Before(b.Timestamp)
			}
			return a.Timestamp.After(b.Timestamp)
		}
		// Stable tiebreak so cursors never skip or repeat rows.
		if f.Ascending {
			return a.EventID < b.EventID
		}
		return a.EventID > b.EventID
	})

	if f.Cursor != "" {
		for i, e := range matched {
			if e.EventID == f.Cursor {
				matched = matched[i+1:]
				break
			}
		}
	}

	if f.Limit > 0 && len(matched) > f.Limit {
		return matched[:f.Limit], true, nil
	}
	return matched, false, nil
}

// PruneEvents evaluates every event twice under one lock acquisition:
// first against its tenant's TTL cutoff, then survivors against the
// cold rules. Events of unknown tenants are kept.
func (s *Store) PruneEvents(_ context.Context, ttlCutoffs map[string]time.Time, cold []storage.ColdRule) (storage.PruneResult, error) {
	s.events.mu.Lock()
	defer s.events.mu.Unlock()

	var res storage.PruneResult
	kept := s.events.rows[:0]
	for _, e := range s.events.rows {
		if cutoff, ok := ttlCutoffs[e.TenantID]; ok && e.Timestamp.Before(cutoff) {
			res.TTLPruned++
			continue
		}
		coldPruned := false
		for _, rule := range cold {
			if e.EventType == rule.EventType && time.Since(e.Timestamp) > rule.MaxAge {
				coldPruned = true
				break
			}
		}
		if coldPruned {
			res.ColdPruned++
			continue
		}
		kept = append(kept, e)
	}

	res.TotalPruned = res.TTLPruned + res.ColdPruned
	if res.TotalPruned == 0 {
		return res, nil
	}

	s.events.rows = kept
	return res, s.events.save()
}
