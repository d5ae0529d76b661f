// Package ratelimit provides in-process, best-effort request limiting. It
// offers no cross-instance guarantees in a horizontally scaled deployment;
// callers that need hard idempotency must enforce it at the storage layer.
package ratelimit

import (
	"sync"
	"time"
)

// Admitter decides whether an action keyed by a business identifier should
// proceed. Implementations may be backed by an external counter service; the
// in-process Window below is the zero-dependency fallback.
type Admitter interface {
	Allow(key string) bool
}

// Window is a sliding-window counter: at most Max events per key within Per.
type Window struct {
	mu   sync.Mutex
	max  int
	per  time.Duration
	hits map[string][]time.Time
	now  func() time.Time
}

// NewWindow creates a sliding window allowing max events per key per duration.
func NewWindow(max int, per time.Duration) *Window {
	return &Window{
		max:  max,
		per:  per,
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

// Allow records an event for key and reports whether it is within the limit.
func (w *Window) Allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.per)

	recent := w.hits[key][:0]
	for _, t := range w.hits[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= w.max {
		w.hits[key] = recent
		return false
	}

	w.hits[key] = append(recent, now)
	return true
}

// Cleanup removes keys with no events inside the window. Should be called
// periodically.
func (w *Window) Cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-w.per)
	for key, times := range w.hits {
		live := false
		for _, t := range times {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(w.hits, key)
		}
	}
}
