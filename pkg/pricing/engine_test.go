package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loophive/hiveboard/pkg/model"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New("")
	require.NoError(t, err)
	return e
}

func TestEnrich(t *testing.T) {
	e := newTestEngine(t)

	t.Run("reported cost is authoritative", func(t *testing.T) {
		data := map[string]any{"model": "claude-haiku-4-5", "cost": 1.25, "tokens_in": 1000.0}
		e.Enrich(data)
		assert.Equal(t, 1.25, data["cost"])
		assert.Equal(t, model.CostSourceReported, data["cost_source"])
		assert.NotContains(t, data, "cost_model_matched")
	})

	t.Run("exact match estimation", func(t *testing.T) {
		data := map[string]any{
			"name":       "reason",
			"model":      "claude-haiku-4-5",
			"tokens_in":  1000.0,
			"tokens_out": 500.0,
		}
		e.Enrich(data)
		assert.InDelta(t, 0.003, data["cost"], 1e-9)
		assert.Equal(t, model.CostSourceEstimated, data["cost_source"])
		assert.Equal(t, "claude-haiku-4-5", data["cost_model_matched"])
	})

	t.Run("longest prefix wins", func(t *testing.T) {
		data := map[string]any{"model": "gpt-4o-mini-2026-01-01", "tokens_in": 1_000_000.0}
		e.Enrich(data)
		// gpt-4o-mini (longer) must beat gpt-4o.
		assert.Equal(t, "gpt-4o-mini", data["cost_model_matched"])
		assert.InDelta(t, 0.15, data["cost"], 1e-9)
	})

	t.Run("match is case-insensitive", func(t *testing.T) {
		data := map[string]any{"model": "GPT-4o", "tokens_out": 100000.0}
		e.Enrich(data)
		assert.Equal(t, "gpt-4o", data["cost_model_matched"])
	})

	t.Run("no model leaves data untouched", func(t *testing.T) {
		data := map[string]any{"tokens_in": 1000.0}
		e.Enrich(data)
		assert.NotContains(t, data, "cost")
		assert.NotContains(t, data, "cost_source")
	})

	t.Run("unknown model leaves data untouched", func(t *testing.T) {
		data := map[string]any{"model": "totally-unknown", "tokens_in": 1000.0}
		e.Enrich(data)
		assert.NotContains(t, data, "cost_source")
	})

	t.Run("integer token counts accepted", func(t *testing.T) {
		data := map[string]any{"model": "claude-haiku-4-5", "tokens_in": 1000, "tokens_out": 500}
		e.Enrich(data)
		assert.InDelta(t, 0.003, data["cost"], 1e-9)
	})

	t.Run("nil data is a no-op", func(t *testing.T) {
		e.Enrich(nil)
	})
}

func TestAdminOperations(t *testing.T) {
	e := newTestEngine(t)

	entry := model.PricingEntry{ModelPattern: "my-model", Provider: "acme", InputPerMTokens: 1, OutputPerMTokens: 2}
	require.NoError(t, e.Add(entry))
	assert.ErrorIs(t, e.Add(entry), ErrAlreadyExists)

	entry.OutputPerMTokens = 3
	require.NoError(t, e.Update("MY-MODEL", entry))
	assert.ErrorIs(t, e.Update("absent", entry), ErrNotFound)

	found := false
	for _, ex := range e.List() {
		if ex.ModelPattern == "my-model" {
			found = true
			assert.Equal(t, 3.0, ex.OutputPerMTokens)
		}
	}
	assert.True(t, found)

	require.NoError(t, e.Delete("my-model"))
	assert.ErrorIs(t, e.Delete("my-model"), ErrNotFound)
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.json")

	e, err := New(path)
	require.NoError(t, err)

	// Seeding wrote the defaults to disk.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	require.NoError(t, e.Add(model.PricingEntry{ModelPattern: "custom", InputPerMTokens: 5, OutputPerMTokens: 5}))

	// A fresh engine reloads the mutated table instead of re-seeding.
	e2, err := New(path)
	require.NoError(t, err)
	data := map[string]any{"model": "custom-variant", "tokens_in": 200000.0}
	e2.Enrich(data)
	assert.Equal(t, "custom", data["cost_model_matched"])
	assert.InDelta(t, 1.0, data["cost"], 1e-9)
}
