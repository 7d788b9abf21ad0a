package auth

import (
	"sync"
	"time"
)

// Per-path rate limits inside a one-second sliding window.
const (
	IngestLimitPerSecond  = 100
	DefaultLimitPerSecond = 30
)

// RateLimiter keeps a sliding one-second window of request timestamps
// per API key. x/time/rate was considered but cannot report the window
// reset instant the response headers need.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string][]time.Time),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Allow records one request for the key and reports whether it fits
// the limit, how many requests remain, and when the window resets.
func (r *RateLimiter) Allow(keyID string, limit int) (allowed bool, remaining int, reset time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-time.Second)

	window := r.windows[keyID]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) > 0 {
		reset = kept[0].Add(time.Second)
	} else {
		reset = now.Add(time.Second)
	}

	if len(kept) >= limit {
		r.windows[keyID] = kept
		return false, 0, reset
	}

	kept = append(kept, now)
	r.windows[keyID] = kept
	return true, limit - len(kept), reset
}
