package querycache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingHooks counts the subscription lifecycle callbacks.
type recordingHooks struct {
	NopHooks
	mu           sync.Mutex
	replaced     []string
	teardownErrs []string
	swept        []string
}

func (h *recordingHooks) SubscriptionReplaced(key string) {
	h.mu.Lock()
	h.replaced = append(h.replaced, key)
	h.mu.Unlock()
}

func (h *recordingHooks) SubscriptionTeardownError(key string, _ error) {
	h.mu.Lock()
	h.teardownErrs = append(h.teardownErrs, key)
	h.mu.Unlock()
}

func (h *recordingHooks) SubscriptionSwept(key string, _ time.Duration) {
	h.mu.Lock()
	h.swept = append(h.swept, key)
	h.mu.Unlock()
}

func (h *recordingHooks) counts() (replaced, teardownErrs, swept int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.replaced), len(h.teardownErrs), len(h.swept)
}

// Repeated subscribes for the same (resource, filter) inside the reuse window
// share one channel.
func TestSubscriptionReuseWithinWindow(t *testing.T) {
	rig := newTestRig(t, nil)

	for i := 0; i < 3; i++ {
		if _, err := rig.cl.SubscribeToTable("tasks", "mine", func(ChangeEvent) {}); err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
		rig.clk.Advance(30 * time.Second)
	}

	if rig.factory.created() != 1 {
		t.Fatalf("expected a single shared channel, created=%d", rig.factory.created())
	}
	if rig.cl.Metrics().ActiveSubscriptions != 1 {
		t.Fatalf("expected one active subscription")
	}
}

// Past the reuse window the old channel is torn down exactly once and a fresh
// one replaces it.
func TestSubscriptionReplacedAfterWindow(t *testing.T) {
	hooks := &recordingHooks{}
	rig := newTestRig(t, func(o *Options[task]) {
		o.Hooks = hooks
	})

	if _, err := rig.cl.SubscribeToTable("tasks", "mine", func(ChangeEvent) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	rig.clk.Advance(121 * time.Second)
	if _, err := rig.cl.SubscribeToTable("tasks", "mine", func(ChangeEvent) {}); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}

	if rig.factory.created() != 2 {
		t.Fatalf("expected a replacement channel, created=%d", rig.factory.created())
	}
	if got := rig.factory.channels[0].closeCount(); got != 1 {
		t.Fatalf("old channel should be closed exactly once, got %d", got)
	}
	if replaced, _, _ := hooks.counts(); replaced != 1 {
		t.Fatalf("expected one replacement hook, got %d", replaced)
	}
	if rig.cl.Metrics().ActiveSubscriptions != 1 {
		t.Fatalf("replacement must not leak handles")
	}
}

// The periodic sweep closes channels nothing has touched beyond the staleness
// threshold; event delivery counts as a touch and defers the sweep.
func TestSubscriptionIdleSweep(t *testing.T) {
	hooks := &recordingHooks{}
	rig := newTestRig(t, func(o *Options[task]) {
		o.Hooks = hooks
	})

	if _, err := rig.cl.SubscribeToTable("tasks", "mine", func(ChangeEvent) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// 50 minutes idle: below the 60m threshold, survives every sweep so far
	rig.clk.Advance(50 * time.Minute)
	if rig.cl.Metrics().ActiveSubscriptions != 1 {
		t.Fatalf("subscription swept too early")
	}

	// delivery touches the handle and restarts the idle clock
	rig.factory.emit("tasks", ChangeEvent{Type: "UPDATE", Resource: "tasks"})
	rig.clk.Advance(50 * time.Minute)
	if rig.cl.Metrics().ActiveSubscriptions != 1 {
		t.Fatalf("touched subscription should survive")
	}

	// now let it go truly idle
	rig.clk.Advance(70 * time.Minute)
	if rig.cl.Metrics().ActiveSubscriptions != 0 {
		t.Fatalf("idle subscription should be swept")
	}
	if got := rig.factory.channels[0].closeCount(); got != 1 {
		t.Fatalf("swept channel should be closed once, got %d", got)
	}
	if _, _, swept := hooks.counts(); swept != 1 {
		t.Fatalf("expected one sweep hook, got %d", swept)
	}
}

// A channel whose Close fails is still evicted; the error is reported through
// the hook and never raised to the caller.
func TestSubscriptionTeardownErrorNotRaised(t *testing.T) {
	hooks := &recordingHooks{}
	rig := newTestRig(t, func(o *Options[task]) {
		o.Hooks = hooks
	})
	rig.factory.closeErr = errors.New("flush failed")

	unsub, err := rig.cl.SubscribeToTable("tasks", "mine", func(ChangeEvent) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := unsub(); err != nil {
		t.Fatalf("unsubscribe must not surface teardown errors, got %v", err)
	}
	if rig.cl.Metrics().ActiveSubscriptions != 0 {
		t.Fatalf("handle should be removed despite the close error")
	}
	if _, teardownErrs, _ := hooks.counts(); teardownErrs != 1 {
		t.Fatalf("expected one teardown-error hook, got %d", teardownErrs)
	}
}

// The read-path subscription and an explicit table subscription are keyed
// separately and do not collapse into one channel.
func TestSubscriptionKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, nil)

	if _, err := rig.cl.OptimizedQuery(ctx, "tasks", Query{}, QueryOptions{Cache: true, Realtime: true}); err != nil {
		t.Fatalf("OptimizedQuery: %v", err)
	}
	if _, err := rig.cl.SubscribeToTable("tasks", "mine", func(ChangeEvent) {}); err != nil {
		t.Fatalf("SubscribeToTable: %v", err)
	}

	if rig.factory.created() != 2 {
		t.Fatalf("distinct keys should hold distinct channels, created=%d", rig.factory.created())
	}
	if rig.cl.Metrics().ActiveSubscriptions != 2 {
		t.Fatalf("expected two active subscriptions")
	}
}

func TestSubscriptionFactoryErrorPropagates(t *testing.T) {
	sentinel := errors.New("socket refused")
	rig := newTestRig(t, nil)
	rig.factory.err = sentinel

	if _, err := rig.cl.SubscribeToTable("tasks", "mine", func(ChangeEvent) {}); !errors.Is(err, sentinel) {
		t.Fatalf("expected the factory error, got %v", err)
	}
	if rig.cl.Metrics().ActiveSubscriptions != 0 {
		t.Fatalf("failed subscribe must not register a handle")
	}
}
