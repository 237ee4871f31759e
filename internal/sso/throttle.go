package sso

import (
	"sync"
	"time"
)

// DefaultThrottleDelay guards the password-login entry point when no delay
// is configured.
const DefaultThrottleDelay = 5 * time.Second

// Throttle rate-limits password logins per client key. The window slides:
// a denied attempt refreshes the timestamp, so a client hammering the
// endpoint never cools down. Once the delay elapses untouched, the entry
// is dropped and the next attempt starts cold.
type Throttle struct {
	delay time.Duration

	mu       sync.Mutex
	attempts map[string]time.Time
	now      func() time.Time
}

// NewThrottle builds a throttle with the given cooldown. A non-positive
// delay disables throttling (every attempt is allowed).
func NewThrottle(delay time.Duration) *Throttle {
	return &Throttle{
		delay:    delay,
		attempts: make(map[string]time.Time),
		now:      time.Now,
	}
}

// WithClock overrides the time source (useful for tests).
func (t *Throttle) WithClock(fn func() time.Time) *Throttle {
	if fn != nil {
		t.now = fn
	}
	return t
}

// Delay returns the configured cooldown.
func (t *Throttle) Delay() time.Duration { return t.delay }

// Allow records an attempt for key and reports whether it may proceed.
// The check and the bookkeeping are one atomic step, so two simultaneous
// attempts for the same key cannot both be judged "first".
func (t *Throttle) Allow(key string) bool {
	if t.delay <= 0 {
		return true
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.attempts[key]
	if !ok {
		t.attempts[key] = now
		return true
	}
	if now.Sub(last) <= t.delay {
		// Still cooling; deny and restart the window.
		t.attempts[key] = now
		return false
	}
	delete(t.attempts, key)
	return true
}

// Len reports the number of keys currently cooling. Used by tests and the
// purge ticker.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.attempts)
}

// Purge drops entries whose cooldown elapsed without another attempt.
func (t *Throttle) Purge() {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, last := range t.attempts {
		if now.Sub(last) > t.delay {
			delete(t.attempts, key)
		}
	}
}
