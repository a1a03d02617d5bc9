package dispatch

import (
	"sync"
	"time"
)

const defaultRateLimitWindow = 300 * time.Second

// RateLimiter suppresses repeat dispatches of the same (source, title) pair
// inside a rolling window. It persists across cycles; entries older than
// twice the window are pruned on every write.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	sent   map[string]time.Time
	now    func() time.Time
}

// NewRateLimiter builds a limiter with the given window. Zero selects the
// 300 second default.
func NewRateLimiter(window time.Duration) *RateLimiter {
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &RateLimiter{
		window: window,
		sent:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether a dispatch for the pair may proceed.
func (r *RateLimiter) Allow(source, title string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.sent[rateKey(source, title)]
	if !ok {
		return true
	}
	return r.now().Sub(last) >= r.window
}

// Record notes a successful dispatch and prunes stale entries.
func (r *RateLimiter) Record(source, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sent[rateKey(source, title)] = now

	cutoff := now.Add(-2 * r.window)
	for key, at := range r.sent {
		if at.Before(cutoff) {
			delete(r.sent, key)
		}
	}
}

func rateKey(source, title string) string {
	return source + "_" + title
}
