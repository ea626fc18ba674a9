package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	start    time.Time
	count    int
	lastSeen time.Time
}

// Limiter is a per-identity fixed-window message rate limiter. The window
// is approximate: a burst can straddle a window boundary, which is
// acceptable for abuse mitigation but not for precise quota enforcement.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration

	now func() time.Time
}

func NewLimiter(limit int, period time.Duration) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

// Allow reports whether identity may send another message in the current
// window. Exactly limit calls per window return true.
func (l *Limiter) Allow(identityID string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identityID]
	if !ok || now.Sub(w.start) >= l.period {
		l.windows[identityID] = &window{start: now, count: 1, lastSeen: now}
		return true
	}

	w.count++
	w.lastSeen = now
	return w.count <= l.limit
}

// DeleteStale evicts window entries idle longer than ttl and returns the
// count. Keeps memory bounded under identity churn.
func (l *Limiter) DeleteStale(ttl time.Duration) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, w := range l.windows {
		if now.Sub(w.lastSeen) > ttl {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
