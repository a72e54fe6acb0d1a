package ratelimit

import (
	"sync"
	"time"
)

// Keyed holds one Window per key (client IP, principal, ...).
// Idle windows are dropped on a sweep every few windows so the map stays bounded.
type Keyed struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	windows   map[string]*Window
	lastSweep time.Time
}

// NewKeyed constructs a keyed limiter with the given per-key budget.
func NewKeyed(limit int, window time.Duration) *Keyed {
	w := NewWindow(limit, window)
	return &Keyed{
		limit:   w.limit,
		window:  w.window,
		windows: make(map[string]*Window),
	}
}

// Reserve admits or rejects one event for key. The event is recorded while
// k.mu is held so a concurrent sweep cannot drop the window in between.
func (k *Keyed) Reserve(key string, now time.Time) (bool, time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if now.Sub(k.lastSweep) >= 4*k.window {
		for key, w := range k.windows {
			if w.idle(now) {
				delete(k.windows, key)
			}
		}
		k.lastSweep = now
	}
	w, ok := k.windows[key]
	if !ok {
		w = NewWindow(k.limit, k.window)
		k.windows[key] = w
	}
	return w.Reserve(now)
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.windows)
}
