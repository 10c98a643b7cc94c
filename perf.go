package querycache

import (
	"sync"
	"time"
)

// perfWindow bounds samples retained per label.
const perfWindow = 10

// Monitor records rolling latency samples per labeled operation. It is purely
// observational and never affects control flow. Safe for concurrent use.
type Monitor struct {
	clock Clock

	mu      sync.Mutex
	samples map[string][]time.Duration // ring of the last perfWindow samples
	next    map[string]int
}

// NewMonitor returns a Monitor on the system clock. A Client owns one
// already; standalone construction is for callers timing their own spans.
func NewMonitor() *Monitor { return newMonitor(systemClock{}) }

func newMonitor(clock Clock) *Monitor {
	return &Monitor{
		clock:   clock,
		samples: make(map[string][]time.Duration),
		next:    make(map[string]int),
	}
}

// StartTimer begins a span for label; the returned stop func records the
// elapsed time. Stop is safe to call exactly once.
func (m *Monitor) StartTimer(label string) (stop func()) {
	start := m.clock.Now()
	return func() {
		m.record(label, m.clock.Now().Sub(start))
	}
}

func (m *Monitor) record(label string, d time.Duration) {
	m.mu.Lock()
	ring := m.samples[label]
	if len(ring) < perfWindow {
		m.samples[label] = append(ring, d)
	} else {
		ring[m.next[label]%perfWindow] = d
	}
	m.next[label]++
	m.mu.Unlock()
}

// AverageTime returns the mean of the retained samples for label, zero when
// none were recorded.
func (m *Monitor) AverageTime(label string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return avg(m.samples[label])
}

// Report returns the average per label for every label seen so far.
func (m *Monitor) Report() map[string]time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Duration, len(m.samples))
	for label, ring := range m.samples {
		out[label] = avg(ring)
	}
	return out
}

func avg(ring []time.Duration) time.Duration {
	if len(ring) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ring {
		sum += d
	}
	return sum / time.Duration(len(ring))
}
