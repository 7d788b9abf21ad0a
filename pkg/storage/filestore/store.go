// Package filestore is the reference Store implementation: one JSON
// file per table, one mutex per table, atomic write-temp-rename
// durability with 0600 file mode.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/storage"
)

// table is one mutex-guarded, JSON-file-backed row set. Mutations hold
// mu for the whole read-modify-write-save cycle; reads copy rows out
// under the same mutex.
type table[T any] struct {
	mu   sync.Mutex
	path string
	rows []T
}

func (t *table[T]) load() error {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &t.rows); err != nil {
		return fmt.Errorf("parse %s: %w", t.path, err)
	}
	return nil
}

// save persists the table atomically. Caller holds t.mu.
func (t *table[T]) save() error {
	data, err := json.Marshal(t.rows)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", t.path, err)
	}
	tmp := t.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("Table fsync failed", "path", tmp, "error", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, t.path)
}

// Store is the file-backed storage backend.
type Store struct {
	dir string

	tenants       table[*model.Tenant]
	apiKeys       table[*model.APIKey]
	projects      table[*model.Project]
	agents        table[*model.AgentProfile]
	projectAgents table[*model.ProjectAgent]
	events        table[*model.Event]
	alertRules    table[*model.AlertRule]
	alertHistory  table[*model.AlertHistoryRecord]
}

var _ storage.Store = (*Store)(nil)

// Open loads (or initialises) a store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{dir: dir}
	s.tenants.path = filepath.Join(dir, "tenants.json")
	s.apiKeys.path = filepath.Join(dir, "api_keys.json")
	s.projects.path = filepath.Join(dir, "projects.json")
	s.agents.path = filepath.Join(dir, "agents.json")
	s.projectAgents.path = filepath.Join(dir, "project_agents.json")
	s.events.path = filepath.Join(dir, "events.json")
	s.alertRules.path = filepath.Join(dir, "alert_rules.json")
	s.alertHistory.path = filepath.Join(dir, "alert_history.json")

	for _, load := range []func() error{
		s.tenants.load, s.apiKeys.load, s.projects.load, s.agents.load,
		s.projectAgents.load, s.events.load, s.alertRules.load, s.alertHistory.load,
	} {
		if err := load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Ping verifies the data directory is still writable.
func (s *Store) Ping(_ context.Context) error {
	probe := filepath.Join(s.dir, ".probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("data dir not writable: %w", err)
	}
	return os.Remove(probe)
}

// Close is a no-op: every mutation is flushed synchronously.
func (s *Store) Close() error { return nil }
