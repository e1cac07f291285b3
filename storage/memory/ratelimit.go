package memorystore

import (
	"sync"
	"time"
)

// Limit allows Limit hits per Window.
type Limit struct {
	Limit  int
	Window time.Duration
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window rate limiter for single-node deployments.
// Unknown buckets use the "default" limit, or are unlimited without one.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	windows map[string]window
	now     func() time.Time
}

func NewLimiter(limits map[string]Limit) *Limiter {
	l := newLimiter(limits, time.Now)
	go l.cleanupLoop()
	return l
}

func newLimiter(limits map[string]Limit, now func() time.Time) *Limiter {
	return &Limiter{limits: limits, windows: map[string]window{}, now: now}
}

func (l *Limiter) AllowNamed(bucket, key string) (bool, error) {
	lim, ok := l.limits[bucket]
	if !ok {
		lim, ok = l.limits["default"]
	}
	if !ok || lim.Limit <= 0 || lim.Window <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w := l.windows[key]
	if !now.Before(w.resetAt) {
		w = window{resetAt: now.Add(lim.Window)}
	}
	w.count++
	l.windows[key] = w
	return w.count <= lim.Limit, nil
}

// cleanupLoop periodically removes elapsed windows.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.cleanup()
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}
