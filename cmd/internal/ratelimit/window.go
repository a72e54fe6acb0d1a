// Package ratelimit provides sliding-window limiters for HTTP routes and
// realtime connections.
package ratelimit

import (
	"sync"
	"time"
)

// Window is a sliding-window limiter: at most limit events per window.
type Window struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewWindow constructs a Window. Non-positive inputs fall back to 60 events per minute.
func NewWindow(limit int, window time.Duration) *Window {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Window{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted.
func (r *Window) Allow(now time.Time) bool {
	ok, _ := r.Reserve(now)
	return ok
}

// Reserve is Allow that also reports how long until the next event would be
// admitted when the window is full.
func (r *Window) Reserve(now time.Time) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(now)

	if len(r.events) >= r.limit {
		retry := r.events[0].Add(r.window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return false, retry
	}
	r.events = append(r.events, now)
	return true, 0
}

// idle reports whether the window holds no events newer than now-window.
func (r *Window) idle(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(now)
	return len(r.events) == 0
}

func (r *Window) prune(now time.Time) {
	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst
}
