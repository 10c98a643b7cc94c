package querycache

import (
	"context"
	"fmt"
	"sync"
	"time"

	c "github.com/unkn0wn-root/querycache/codec"
	"github.com/unkn0wn-root/querycache/internal/util"
	"github.com/unkn0wn-root/querycache/provider/memory"
)

type client[V any] struct {
	backend  Backend[V]
	realtime ChannelFactory
	cache    *rowCache[V]
	limiter  *rateLimiter
	batch    *batcher[V]
	subs     *subscriptions
	perf     *Monitor
	log      Logger
	hooks    Hooks
	clock    Clock

	closeMu   sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

func newClient[V any](opts Options[V]) (*client[V], error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("querycache: backend is required")
	}

	log := coalesce[Logger](opts.Logger, NopLogger{})
	hooks := coalesce[Hooks](opts.Hooks, NopHooks{})
	clock := coalesce[Clock](opts.Clock, systemClock{})

	if opts.Provider == nil {
		opts.Provider = memory.New(memory.Config{})
	}
	if opts.Codec == nil {
		opts.Codec = c.JSON[[]V]{}
	}

	cl := &client[V]{
		backend:  opts.Backend,
		realtime: opts.Realtime,
		cache:    newRowCache[V](opts, log, hooks, clock),
		limiter:  newRateLimiter(coalesce(opts.RateLimitInterval, time.Second), clock),
		batch:    newBatcher[V](coalesce(opts.BatchWindow, 50*time.Millisecond), clock, log, hooks),
		perf:     newMonitor(clock),
		log:      log,
		hooks:    hooks,
		clock:    clock,
	}
	cl.subs = newSubscriptions(
		coalesce(opts.ReuseWindow, 120*time.Second),
		coalesce(opts.SweepInterval, 10*time.Minute),
		coalesce(opts.StaleAfter, 60*time.Minute),
		clock, log, hooks,
	)
	return cl, nil
}

func (cl *client[V]) OptimizedQuery(ctx context.Context, resource string, q Query, opts QueryOptions) ([]V, error) {
	if cl.isClosed() {
		return nil, ErrClosed
	}
	key := util.QueryKey(resource, q.Select, q.Match)

	if opts.Cache {
		if rows, ok := cl.cache.get(ctx, key, resource); ok {
			cl.log.Debug("cache hit", Fields{"key": key})
			return rows, nil
		}
	}

	if cl.limiter.shouldThrottle(key) {
		// designed degradation, not an error: a stale value beats a failed
		// or redundant round-trip; a cold cache falls through to the backend
		if rows, age, ok := cl.cache.getStale(ctx, key, resource); ok {
			cl.hooks.ThrottleFallback(key, age)
			cl.log.Debug("throttled; serving cached value", Fields{"key": key, "stale_for": age})
			return rows, nil
		}
	}

	cl.limiter.record(key)

	// write-back rides the fetch so it completes even when the caller
	// abandons its wait; opts.Cache gates only the read-through hit, while
	// the stored result doubles as the throttle fallback value
	fetch := func(ctx context.Context) ([]V, error) {
		rows, err := cl.backend.Read(ctx, resource, q)
		if err != nil {
			return nil, err
		}
		cl.cache.set(ctx, key, resource, rows, opts.TTL)
		return rows, nil
	}

	stop := cl.perf.StartTimer("read:" + resource)
	var rows []V
	var err error
	if opts.Batch {
		rows, err = cl.batch.schedule(ctx, key, resource, fetch)
	} else {
		rows, err = fetch(ctx)
	}
	stop()
	if err != nil {
		return nil, err
	}

	if opts.Realtime {
		if err := cl.ensureSubscription(resource); err != nil {
			// the read itself succeeded; surface subscription problems to
			// the log rather than failing the query
			cl.log.Warn("realtime subscription failed", Fields{"resource": resource, "err": err})
		}
	}
	return rows, nil
}

// ensureSubscription keeps one live channel per resource whose change
// callback invalidates that resource's cache entries. Cache knowledge stays
// here; the subscription table never sees it.
func (cl *client[V]) ensureSubscription(resource string) error {
	if cl.realtime == nil {
		return ErrNoRealtime
	}
	key := resource + "::invalidate"
	_, err := cl.subs.subscribe(key, func() (Channel, error) {
		return cl.realtime.Subscribe(resource, func(ev ChangeEvent) {
			cl.subs.touch(key)
			cl.cache.invalidateResource(resource)
			cl.log.Debug("change event invalidated resource", Fields{"resource": resource, "type": ev.Type})
		})
	})
	return err
}

func (cl *client[V]) SubscribeToTable(resource, filterKey string, onChange func(ChangeEvent)) (func() error, error) {
	if cl.isClosed() {
		return nil, ErrClosed
	}
	if cl.realtime == nil {
		return nil, ErrNoRealtime
	}
	key := resource + "::" + filterKey
	_, err := cl.subs.subscribe(key, func() (Channel, error) {
		return cl.realtime.Subscribe(resource, func(ev ChangeEvent) {
			cl.subs.touch(key)
			onChange(ev)
		})
	})
	if err != nil {
		return nil, err
	}
	return func() error {
		cl.subs.unsubscribe(key)
		return nil
	}, nil
}

func (cl *client[V]) BulkOperation(ctx context.Context, resource string, op BulkOp, items []V, opts BulkOptions) ([]V, error) {
	if cl.isClosed() {
		return nil, ErrClosed
	}
	// stale reads must not survive a write, even a partially failed one
	defer cl.cache.invalidateResource(resource)

	stop := cl.perf.StartTimer("bulk:" + resource)
	defer stop()

	switch op {
	case OpDelete:
		// deletes are intentionally a single call over the full id list,
		// never chunked by BatchSize
		return cl.backend.Write(ctx, resource, OpDelete, items)
	case OpInsert, OpUpdate:
		size := coalesce(opts.BatchSize, 100)
		out := make([]V, 0, len(items))
		for chunk, start := 0, 0; start < len(items); chunk, start = chunk+1, start+size {
			end := min(start+size, len(items))
			rows, err := cl.backend.Write(ctx, resource, op, items[start:end])
			if err != nil {
				cl.hooks.BulkChunkFailed(resource, chunk, len(out), err)
				return nil, &BulkError{
					Resource: resource,
					Op:       op,
					Chunk:    chunk,
					Applied:  len(out),
					Err:      err,
				}
			}
			out = append(out, rows...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("querycache: unknown bulk op %q", op)
	}
}

func (cl *client[V]) InvalidateTableCache(resource string) {
	cl.cache.invalidateResource(resource)
}

func (cl *client[V]) Metrics() Metrics {
	return Metrics{
		CacheSize:           cl.cache.size(),
		ActiveSubscriptions: cl.subs.active(),
		BatchQueueSize:      cl.batch.queueSize(),
		LastQueryTimes:      cl.limiter.snapshot(),
	}
}

func (cl *client[V]) Perf() *Monitor { return cl.perf }

func (cl *client[V]) isClosed() bool {
	cl.closeMu.Lock()
	defer cl.closeMu.Unlock()
	return cl.closed
}

func (cl *client[V]) Close(ctx context.Context) error {
	cl.closeOnce.Do(func() {
		cl.closeMu.Lock()
		cl.closed = true
		cl.closeMu.Unlock()

		cl.subs.close()
		cl.batch.close()
		cl.closeErr = cl.cache.close(ctx)
	})
	return cl.closeErr
}
