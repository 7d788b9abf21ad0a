// Package pricing estimates LLM call cost for events that do not report
// their own. The table is global (not tenant-scoped), mutable at runtime
// through admin operations, and persisted as a JSON file written
// atomically (write-temp-rename).
package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/loophive/hiveboard/pkg/model"
)

// ErrNotFound is returned when a pricing pattern does not exist.
var ErrNotFound = errors.New("pricing entry not found")

// ErrAlreadyExists is returned when adding a duplicate pattern.
var ErrAlreadyExists = errors.New("pricing entry already exists")

// Engine holds the pricing table. One mutex guards both the entry list
// and the persisted file.
type Engine struct {
	mu      sync.Mutex
	entries []model.PricingEntry
	path    string
}

// New loads the table from path, seeding the built-in defaults when the
// file is absent. An empty path keeps the table in memory only (tests).
func New(path string) (*Engine, error) {
	e := &Engine{path: path}

	if path == "" {
		e.entries = defaultEntries()
		return e, nil
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		e.entries = defaultEntries()
		if err := e.persistLocked(); err != nil {
			return nil, fmt.Errorf("seed pricing table: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read pricing table: %w", err)
	default:
		if err := json.Unmarshal(data, &e.entries); err != nil {
			return nil, fmt.Errorf("parse pricing table %s: %w", path, err)
		}
	}
	return e, nil
}

// List returns a copy of the current entries.
func (e *Engine) List() []model.PricingEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.PricingEntry, len(e.entries))
	copy(out, e.entries)
	return out
}

// Add inserts a new entry and persists the table.
func (e *Engine) Add(entry model.PricingEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ex := range e.entries {
		if strings.EqualFold(ex.ModelPattern, entry.ModelPattern) {
			return ErrAlreadyExists
		}
	}
	e.entries = append(e.entries, entry)
	return e.persistLocked()
}

// Update replaces the entry for pattern and persists the table.
func (e *Engine) Update(pattern string, entry model.PricingEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, ex := range e.entries {
		if strings.EqualFold(ex.ModelPattern, pattern) {
			entry.ModelPattern = ex.ModelPattern
			e.entries[i] = entry
			return e.persistLocked()
		}
	}
	return ErrNotFound
}

// Delete removes the entry for pattern and persists the table.
func (e *Engine) Delete(pattern string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, ex := range e.entries {
		if strings.EqualFold(ex.ModelPattern, pattern) {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			return e.persistLocked()
		}
	}
	return ErrNotFound
}

// Enrich applies cost enrichment to an llm_call payload data map:
//
//   - cost > 0 already present: authoritative, cost_source = "reported".
//   - model + tokens present: estimate from the table and set
//     cost_source = "estimated" and cost_model_matched.
//   - otherwise: data left untouched, no cost_source.
func (e *Engine) Enrich(data map[string]any) {
	if data == nil {
		return
	}

	if cost, ok := toFloat(data["cost"]); ok && cost > 0 {
		data["cost_source"] = model.CostSourceReported
		return
	}

	modelName, _ := data["model"].(string)
	tokensIn, inOK := toFloat(data["tokens_in"])
	tokensOut, outOK := toFloat(data["tokens_out"])
	if modelName == "" || (!inOK && !outOK) {
		return
	}

	entry, ok := e.match(modelName)
	if !ok {
		return
	}

	cost := (tokensIn*entry.InputPerMTokens + tokensOut*entry.OutputPerMTokens) / 1_000_000
	data["cost"] = math.Round(cost*1e6) / 1e6
	data["cost_source"] = model.CostSourceEstimated
	data["cost_model_matched"] = entry.ModelPattern
}

// match finds the entry for a model name: case-insensitive exact match
// first, then the longest pattern that is a case-insensitive prefix.
func (e *Engine) match(modelName string) (model.PricingEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lower := strings.ToLower(modelName)
	var best model.PricingEntry
	bestLen := -1
	for _, entry := range e.entries {
		pat := strings.ToLower(entry.ModelPattern)
		if pat == lower {
			return entry, true
		}
		if strings.HasPrefix(lower, pat) && len(pat) > bestLen {
			best = entry
			bestLen = len(pat)
		}
	}
	return best, bestLen >= 0
}

// persistLocked writes the table atomically. Caller holds e.mu.
func (e *Engine) persistLocked() error {
	if e.path == "" {
		return nil
	}

	sort.Slice(e.entries, func(i, j int) bool {
		return e.entries[i].ModelPattern < e.entries[j].ModelPattern
	})

	data, err := json.MarshalIndent(e.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pricing table: %w", err)
	}

	tmp := e.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("Pricing table fsync failed", "path", tmp, "error", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, e.path); err != nil {
		return fmt.Errorf("rename pricing table into place: %w", err)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// defaultEntries seeds the table on first startup. Costs are USD per
// million tokens.
func defaultEntries() []model.PricingEntry {
	return []model.PricingEntry{
		{ModelPattern: "claude-opus-4", Provider: "anthropic", InputPerMTokens: 15, OutputPerMTokens: 75},
		{ModelPattern: "claude-sonnet-4", Provider: "anthropic", InputPerMTokens: 3, OutputPerMTokens: 15},
		{ModelPattern: "claude-haiku-4-5", Provider: "anthropic", InputPerMTokens: 1, OutputPerMTokens: 4},
		{ModelPattern: "claude-3-5-haiku", Provider: "anthropic", InputPerMTokens: 0.8, OutputPerMTokens: 4},
		{ModelPattern: "gpt-4o-mini", Provider: "openai", InputPerMTokens: 0.15, OutputPerMTokens: 0.6},
		{ModelPattern: "gpt-4o", Provider: "openai", InputPerMTokens: 2.5, OutputPerMTokens: 10},
		{ModelPattern: "gpt-5", Provider: "openai", InputPerMTokens: 1.25, OutputPerMTokens: 10},
		{ModelPattern: "o3", Provider: "openai", InputPerMTokens: 2, OutputPerMTokens: 8},
		{ModelPattern: "gemini-2.5-pro", Provider: "google", InputPerMTokens: 1.25, OutputPerMTokens: 10},
		{ModelPattern: "gemini-2.5-flash", Provider: "google", InputPerMTokens: 0.3, OutputPerMTokens: 2.5},
		{ModelPattern: "mistral-large", Provider: "mistral", InputPerMTokens: 2, OutputPerMTokens: 6},
		{ModelPattern: "llama-3", Provider: "meta", InputPerMTokens: 0.2, OutputPerMTokens: 0.2},
	}
}
