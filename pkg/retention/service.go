// Package retention prunes stored events on a schedule: per-plan TTL
// first, then cold rules for short-horizon event classes.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/storage"
)

// DefaultInterval between prune passes.
const DefaultInterval = 15 * time.Minute

// Cold horizons. Heartbeats and action_started events age out long
// before their tenant's TTL; no other event type is cold-pruned.
const (
	HeartbeatMaxAge     = 600 * time.Second
	ActionStartedMaxAge = 86400 * time.Second
)

// ColdRules returns the fixed cold retention rules.
func ColdRules() []storage.ColdRule {
	return []storage.ColdRule{
		{EventType: model.EventHeartbeat, MaxAge: HeartbeatMaxAge},
		{EventType: model.EventActionStarted, MaxAge: ActionStartedMaxAge},
	}
}

// Service runs the periodic prune loop.
type Service struct {
	store    storage.Store
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates the retention service. interval <= 0 uses the default.
func New(store storage.Store, interval time.Duration, logger *slog.Logger) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		interval: interval,
		logger:   logger.With("component", "retention"),
		done:     make(chan struct{}),
	}
}

// Start launches the prune loop: one pass immediately, then one per
// interval until the context is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("starting retention service", "interval", s.interval)

	go func() {
		defer close(s.done)

		s.runOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("retention service stopped")
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the current pass to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Service) runOnce(ctx context.Context) {
	res, err := s.RunPass(ctx)
	if err != nil {
		// A failed pass never stops the loop.
		s.logger.Error("retention pass failed", "error", err)
		return
	}
	if res.TotalPruned > 0 {
		s.logger.Info("retention pass pruned events",
			"ttl_pruned", res.TTLPruned,
			"cold_pruned", res.ColdPruned,
			"total_pruned", res.TotalPruned)
	}
}

// RunPass executes one prune pass and returns its counts.
func (s *Service) RunPass(ctx context.Context) (storage.PruneResult, error) {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return storage.PruneResult{}, fmt.Errorf("list tenants: %w", err)
	}

	now := time.Now().UTC()
	cutoffs := make(map[string]time.Time, len(tenants))
	for _, t := range tenants {
		cutoffs[t.ID] = now.AddDate(0, 0, -t.Plan.RetentionDays())
	}

	res, err := s.store.PruneEvents(ctx, cutoffs, ColdRules())
	if err != nil {
		return res, fmt.Errorf("prune events: %w", err)
	}
	return res, nil
}
