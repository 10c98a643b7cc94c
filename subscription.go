package querycache

import (
	"sync"
	"time"
)

// subHandle tracks one live channel. At most one exists per key at any time.
type subHandle struct {
	channel     Channel
	createdAt   time.Time
	lastTouched time.Time
}

// subscriptions deduplicates push-change channels per (resource, filter) key
// and bounds their number: a channel is reused while younger than the reuse
// window, replaced afterwards, and a periodic sweep removes channels nothing
// has touched beyond the staleness threshold.
type subscriptions struct {
	reuseWindow   time.Duration
	sweepInterval time.Duration
	staleAfter    time.Duration
	clock         Clock
	log           Logger
	hooks         Hooks

	mu      sync.Mutex
	entries map[string]*subHandle
	timer   Timer
	closed  bool
}

func newSubscriptions(reuse, sweep, stale time.Duration, clock Clock, log Logger, hooks Hooks) *subscriptions {
	s := &subscriptions{
		reuseWindow:   reuse,
		sweepInterval: sweep,
		staleAfter:    stale,
		clock:         clock,
		log:           log,
		hooks:         hooks,
		entries:       make(map[string]*subHandle),
	}
	s.mu.Lock()
	s.timer = clock.AfterFunc(sweep, s.sweep)
	s.mu.Unlock()
	return s
}

// subscribe returns the existing channel for key if it is still inside the
// reuse window. Otherwise any previous channel is torn down best-effort and
// factory opens a fresh one.
func (s *subscriptions) subscribe(key string, factory func() (Channel, error)) (Channel, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	now := s.clock.Now()
	if h, ok := s.entries[key]; ok {
		if now.Sub(h.createdAt) < s.reuseWindow {
			h.lastTouched = now
			ch := h.channel
			s.mu.Unlock()
			return ch, nil
		}
		delete(s.entries, key)
		old := h.channel
		s.mu.Unlock()
		s.teardown(key, old)
		s.hooks.SubscriptionReplaced(key)
	} else {
		s.mu.Unlock()
	}

	ch, err := factory()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.teardown(key, ch)
		return nil, ErrClosed
	}
	// another caller may have raced in a fresh channel; keep ours and drop
	// theirs so the one-channel-per-key invariant holds
	if prev, ok := s.entries[key]; ok {
		s.teardownLocked(key, prev.channel)
	}
	s.entries[key] = &subHandle{channel: ch, createdAt: s.clock.Now(), lastTouched: s.clock.Now()}
	s.mu.Unlock()
	return ch, nil
}

func (s *subscriptions) unsubscribe(key string) {
	s.mu.Lock()
	h, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	if ok {
		s.teardown(key, h.channel)
	}
}

// touch refreshes idle tracking for key, typically on event delivery.
func (s *subscriptions) touch(key string) {
	s.mu.Lock()
	if h, ok := s.entries[key]; ok {
		h.lastTouched = s.clock.Now()
	}
	s.mu.Unlock()
}

// sweep removes channels idle beyond the staleness threshold, bounding live
// connections regardless of caller discipline.
func (s *subscriptions) sweep() {
	now := s.clock.Now()
	type victim struct {
		key  string
		ch   Channel
		idle time.Duration
	}
	var victims []victim

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for k, h := range s.entries {
		if idle := now.Sub(h.lastTouched); idle > s.staleAfter {
			victims = append(victims, victim{key: k, ch: h.channel, idle: idle})
			delete(s.entries, k)
		}
	}
	s.timer = s.clock.AfterFunc(s.sweepInterval, s.sweep)
	s.mu.Unlock()

	for _, v := range victims {
		s.teardown(v.key, v.ch)
		s.hooks.SubscriptionSwept(v.key, v.idle)
		s.log.Debug("swept idle subscription", Fields{"key": v.key, "idle": v.idle})
	}
}

// teardown closes ch. Errors are logged, never raised: a failed cleanup must
// not block new subscriptions.
func (s *subscriptions) teardown(key string, ch Channel) {
	if err := ch.Close(); err != nil {
		s.hooks.SubscriptionTeardownError(key, err)
		s.log.Warn("subscription teardown failed", Fields{"key": key, "err": err})
	}
}

func (s *subscriptions) teardownLocked(key string, ch Channel) {
	if err := ch.Close(); err != nil {
		s.hooks.SubscriptionTeardownError(key, err)
	}
}

func (s *subscriptions) active() int {
	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	return n
}

// close tears down every channel and stops the sweep timer.
func (s *subscriptions) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	entries := s.entries
	s.entries = make(map[string]*subHandle)
	s.mu.Unlock()

	for k, h := range entries {
		s.teardown(k, h.channel)
	}
}
