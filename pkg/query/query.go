// Package query implements the read side: pure derivations over the
// event log and the agent cache. Nothing here writes to storage.
package query

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/storage"
)

// Service answers all read endpoints.
type Service struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates the query service.
func New(store storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger.With("component", "query"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Named time windows accepted by range params.
var namedRanges = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// Named bucket sizes accepted by interval params.
var namedIntervals = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseRange resolves a named window. Empty defaults to 24h.
func ParseRange(name string) (time.Duration, error) {
	if name == "" {
		name = "24h"
	}
	d, ok := namedRanges[name]
	if !ok {
		return 0, storage.NewValidationError("range", fmt.Sprintf("unknown range %q", name))
	}
	return d, nil
}

// ParseInterval resolves a bucket size; empty auto-derives from rng.
func ParseInterval(name string, rng time.Duration) (time.Duration, error) {
	if name == "" {
		return defaultInterval(rng), nil
	}
	d, ok := namedIntervals[name]
	if !ok {
		return 0, storage.NewValidationError("interval", fmt.Sprintf("unknown interval %q", name))
	}
	return d, nil
}

func defaultInterval(rng time.Duration) time.Duration {
	switch {
	case rng <= time.Hour:
		return time.Minute
	case rng <= 6*time.Hour:
		return 5 * time.Minute
	case rng <= 24*time.Hour:
		return 15 * time.Minute
	case rng <= 7*24*time.Hour:
		return 6 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// floatField reads a numeric payload data field, tolerating the types
// JSON decoding and SDKs produce.
func floatField(data map[string]any, key string) (float64, bool) {
	if data == nil {
		return 0, false
	}
	switch v := data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

// eventCost reads the enriched cost of an llm_call event.
func eventCost(e *model.Event) (cost float64, source string, ok bool) {
	if e.Payload == nil || e.Payload.Kind != model.KindLLMCall {
		return 0, "", false
	}
	cost, ok = floatField(e.Payload.Data, "cost")
	if !ok {
		return 0, "", false
	}
	return cost, stringField(e.Payload.Data, "cost_source"), true
}
