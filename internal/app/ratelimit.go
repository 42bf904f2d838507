package app

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dkeye/mediarelay/internal/domain"
)

// RateLimiter allows at most limit attempts per user within a sliding
// interval.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
	clock    clock.Clock
}

func NewRateLimiter(limit int, interval time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
		clock:    clk,
	}
}

func (rl *RateLimiter) Allow(user domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[user]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[user] = fresh
		return false
	}
	rl.history[user] = append(fresh, now)
	return true
}

func (rl *RateLimiter) Forget(user domain.UserID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, user)
}
