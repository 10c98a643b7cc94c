package querycache

import (
	"sync"
	"time"
)

// rateLimiter spaces backend round-trips per key. It only tracks the last
// executed query time; cache hits never touch it. Throttling never fails a
// caller: the engine serves the latest cached value instead, and a cold
// cache proceeds to the backend regardless.
type rateLimiter struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
	clock    Clock
}

func newRateLimiter(interval time.Duration, clock Clock) *rateLimiter {
	return &rateLimiter{
		last:     make(map[string]time.Time),
		interval: interval,
		clock:    clock,
	}
}

func (rl *rateLimiter) shouldThrottle(key string) bool {
	rl.mu.Lock()
	t, ok := rl.last[key]
	rl.mu.Unlock()
	return ok && rl.clock.Now().Sub(t) < rl.interval
}

// record stamps now as the last query time. Called only when an actual
// backend round-trip is performed.
func (rl *rateLimiter) record(key string) {
	rl.mu.Lock()
	rl.last[key] = rl.clock.Now()
	rl.mu.Unlock()
}

func (rl *rateLimiter) snapshot() map[string]time.Time {
	rl.mu.Lock()
	out := make(map[string]time.Time, len(rl.last))
	for k, t := range rl.last {
		out[k] = t
	}
	rl.mu.Unlock()
	return out
}
