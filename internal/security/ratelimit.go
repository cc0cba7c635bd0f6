package security

import (
	"time"
)

// RateLimitResult is the outcome of a single limiter check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter counts requests per identifier inside a fixed time window.
// A check never fails; absence of a prior window just starts a new one.
type RateLimiter struct {
	store       WindowStore
	window      time.Duration
	maxRequests int
}

// NewRateLimiter builds a fixed-window limiter over the given store.
func NewRateLimiter(store WindowStore, window time.Duration, maxRequests int) *RateLimiter {
	return &RateLimiter{store: store, window: window, maxRequests: maxRequests}
}

// Check fetches or creates the identifier's window, resets it if expired,
// increments the counter and reports whether the request is within the
// ceiling.
func (l *RateLimiter) Check(identifier string, now time.Time) RateLimitResult {
	w := l.store.Update(identifier, func(w *RateLimitWindow) bool {
		if w.ResetAt.IsZero() || !now.Before(w.ResetAt) {
			w.Count = 1
			w.ResetAt = now.Add(l.window)
			w.Blocked = false
		} else {
			w.Count++
		}
		if w.Count > l.maxRequests {
			w.Blocked = true
		}
		return true
	})

	remaining := l.maxRequests - w.Count
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{
		Allowed:   !w.Blocked,
		Remaining: remaining,
		ResetAt:   w.ResetAt,
	}
}

// Sweep purges expired windows. Called by the background sweeper.
func (l *RateLimiter) Sweep(now time.Time) int {
	return l.store.Sweep(now)
}
