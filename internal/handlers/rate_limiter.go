package handlers

import (
	"strings"
	"sync"
	"time"
)

// RateLimiter decides whether a caller may proceed.
type RateLimiter interface {
	Allow(key string) bool
}

// windowRateLimiter admits limit calls per key within each fixed window.
type windowRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]rateWindow
}

type rateWindow struct {
	count int
	reset time.Time
}

// NewRateLimiter returns a per-caller fixed window limiter, or nil when limit or window is not
// positive.
func NewRateLimiter(limit int, window time.Duration, clock func() time.Time) RateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowRateLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]rateWindow),
	}
}

func (l *windowRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.reset) {
		l.windows[key] = rateWindow{count: 1, reset: now.Add(l.window)}
		l.pruneLocked(now)
		return true
	}
	if current.count >= l.limit {
		return false
	}
	current.count++
	l.windows[key] = current
	return true
}

func (l *windowRateLimiter) pruneLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
		}
	}
}
