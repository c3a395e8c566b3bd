package memory

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a per-process fixed-window limiter for single-instance
// deployments.
type RateLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{now: time.Now, windows: make(map[string]window)}
}

func (l *RateLimiter) Allow(_ context.Context, key string, limit int, per time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w := l.windows[key]
	if !now.Before(w.resetAt) {
		w = window{resetAt: now.Add(per)}
		if len(l.windows) > 10000 {
			l.evict(now)
		}
	}
	w.count++
	l.windows[key] = w
	return w.count <= limit, nil
}

// evict drops expired windows. Callers hold l.mu.
func (l *RateLimiter) evict(now time.Time) {
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}
