package querycache

import (
	"context"
	"sync"
	"time"
)

// pendingRequest is one coalesced read. All callers sharing a key between two
// flushes wait on the same done channel and observe the same outcome.
type pendingRequest[V any] struct {
	key      string
	resource string
	run      func(context.Context) ([]V, error)

	done chan struct{}
	rows []V
	err  error
}

func (p *pendingRequest[V]) settle(rows []V, err error) {
	p.rows = rows
	p.err = err
	close(p.done)
}

// wait returns when the request settles or ctx is done. An abandoning caller
// does not stop the underlying execution; the fetch and any cache write
// complete regardless.
func (p *pendingRequest[V]) wait(ctx context.Context) ([]V, error) {
	select {
	case <-p.done:
		return p.rows, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// batcher coalesces concurrent identical reads inside a short flush window.
// The first schedule for a key starts the window timer; duplicates piggyback
// on the pending request. On flush, pendings are grouped by resource and each
// group runs exactly one backend execution whose outcome settles every member.
type batcher[V any] struct {
	window time.Duration
	clock  Clock
	log    Logger
	hooks  Hooks

	mu      sync.Mutex
	pending map[string]*pendingRequest[V]
	order   []*pendingRequest[V] // enqueue order; group leader is first-seen
	timer   Timer
	closed  bool
}

func newBatcher[V any](window time.Duration, clock Clock, log Logger, hooks Hooks) *batcher[V] {
	return &batcher[V]{
		window:  window,
		clock:   clock,
		log:     log,
		hooks:   hooks,
		pending: make(map[string]*pendingRequest[V]),
	}
}

func (b *batcher[V]) schedule(ctx context.Context, key, resource string, run func(context.Context) ([]V, error)) ([]V, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if p, ok := b.pending[key]; ok {
		b.mu.Unlock()
		return p.wait(ctx)
	}
	p := &pendingRequest[V]{
		key:      key,
		resource: resource,
		run:      run,
		done:     make(chan struct{}),
	}
	b.pending[key] = p
	b.order = append(b.order, p)
	if b.timer == nil {
		b.timer = b.clock.AfterFunc(b.window, b.flush)
	}
	b.mu.Unlock()
	return p.wait(ctx)
}

// flush drains the queue and executes one backend call per distinct resource.
// Group failures are isolated: a failing group rejects only its own members.
func (b *batcher[V]) flush() {
	b.mu.Lock()
	queued := b.order
	b.pending = make(map[string]*pendingRequest[V])
	b.order = nil
	b.timer = nil
	b.mu.Unlock()

	if len(queued) == 0 {
		return
	}

	groups := make(map[string][]*pendingRequest[V])
	var resources []string
	for _, p := range queued {
		if _, ok := groups[p.resource]; !ok {
			resources = append(resources, p.resource)
		}
		groups[p.resource] = append(groups[p.resource], p)
	}

	b.hooks.BatchFlush(len(resources), len(queued))
	b.log.Debug("batch flush", Fields{"groups": len(resources), "queued": len(queued)})

	for _, res := range resources {
		members := groups[res]
		go func(members []*pendingRequest[V]) {
			// detached from any caller: work completes even if every
			// caller abandoned its wait
			rows, err := members[0].run(context.Background())
			for _, m := range members {
				m.settle(rows, err)
			}
		}(members)
	}
}

func (b *batcher[V]) queueSize() int {
	b.mu.Lock()
	n := len(b.pending)
	b.mu.Unlock()
	return n
}

// close rejects everything still queued with ErrClosed and stops the window
// timer. Executions already flushed keep running to completion.
func (b *batcher[V]) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	queued := b.order
	b.pending = make(map[string]*pendingRequest[V])
	b.order = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	for _, p := range queued {
		p.settle(nil, ErrClosed)
	}
}
