package querycache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/querycache/provider/memory"
)

// ==============================
// Deterministic clock
// ==============================

type fakeTimer struct {
	clk     *fakeClock
	when    time.Time
	f       func()
	fired   bool
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	t := &fakeTimer{clk: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

// Advance moves the clock forward, firing due timers in order. Callbacks run
// with the clock unlocked so they may arm new timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.when.After(target) {
				continue
			}
			if next == nil || t.when.Before(next.when) {
				next = t
			}
		}
		if next == nil {
			break
		}
		c.now = next.when
		next.fired = true
		f := next.f
		c.mu.Unlock()
		f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// ==============================
// Backend / realtime fakes
// ==============================

type task struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type fakeBackend struct {
	mu         sync.Mutex
	reads      int
	writeOps   []BulkOp
	writeSizes []int

	readFn  func(resource string, q Query) ([]task, error)
	writeFn func(resource string, op BulkOp, items []task) ([]task, error)
}

func (b *fakeBackend) Read(_ context.Context, resource string, q Query) ([]task, error) {
	b.mu.Lock()
	b.reads++
	fn := b.readFn
	b.mu.Unlock()
	if fn != nil {
		return fn(resource, q)
	}
	return []task{{ID: "1", Name: resource}}, nil
}

func (b *fakeBackend) Write(_ context.Context, resource string, op BulkOp, items []task) ([]task, error) {
	b.mu.Lock()
	b.writeOps = append(b.writeOps, op)
	b.writeSizes = append(b.writeSizes, len(items))
	fn := b.writeFn
	b.mu.Unlock()
	if fn != nil {
		return fn(resource, op, items)
	}
	return items, nil
}

func (b *fakeBackend) readCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

func (b *fakeBackend) writes() (ops []BulkOp, sizes []int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BulkOp(nil), b.writeOps...), append([]int(nil), b.writeSizes...)
}

type fakeChannel struct {
	mu       sync.Mutex
	closed   int
	closeErr error
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return c.closeErr
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeFactory struct {
	mu         sync.Mutex
	channels   []*fakeChannel
	byResource map[string][]func(ChangeEvent)
	err        error
	closeErr   error // applied to newly created channels
}

func (f *fakeFactory) Subscribe(resource string, fn func(ChangeEvent)) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ch := &fakeChannel{closeErr: f.closeErr}
	f.channels = append(f.channels, ch)
	if f.byResource == nil {
		f.byResource = make(map[string][]func(ChangeEvent))
	}
	f.byResource[resource] = append(f.byResource[resource], fn)
	return ch, nil
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

// emit delivers an event to every live handler registered for resource.
func (f *fakeFactory) emit(resource string, ev ChangeEvent) {
	f.mu.Lock()
	fns := append(([]func(ChangeEvent))(nil), f.byResource[resource]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// ==============================
// Client rig
// ==============================

type testRig struct {
	clk     *fakeClock
	backend *fakeBackend
	factory *fakeFactory
	prov    *memory.Provider
	cl      Client[task]
}

func newTestRig(t *testing.T, mutate func(*Options[task])) *testRig {
	t.Helper()
	clk := newFakeClock()
	be := &fakeBackend{}
	fac := &fakeFactory{}
	prov := memory.New(memory.Config{Now: clk.Now})

	opts := Options[task]{
		Backend:  be,
		Provider: prov,
		Realtime: fac,
		Clock:    clk,
	}
	if mutate != nil {
		mutate(&opts)
	}
	cl, err := New[task](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = cl.Close(context.Background()) })
	return &testRig{clk: clk, backend: be, factory: fac, prov: prov, cl: cl}
}

func mustImpl(t *testing.T, c Client[task]) *client[task] {
	t.Helper()
	impl, ok := c.(*client[task])
	if !ok {
		t.Fatalf("unexpected concrete type for Client")
	}
	return impl
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
