package querycache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/querycache/codec"
	pr "github.com/unkn0wn-root/querycache/provider"
)

// Query describes a row read against one resource. Match is an equality
// filter; Select is an optional projection the backend interprets. The pair
// is serialized deterministically into the cache key, so two structurally
// equal queries always share an entry.
type Query struct {
	Select string
	Match  map[string]any
}

// BulkOp enumerates the bulk write operations a Backend must support.
type BulkOp string

const (
	OpInsert BulkOp = "insert"
	OpUpdate BulkOp = "update"
	OpDelete BulkOp = "delete"
)

// Backend is the opaque transport beneath the engine. Implementations own
// timeouts, auth, and the wire format; the engine never retries on their
// behalf.
type Backend[V any] interface {
	// Read returns the rows of resource matching q.
	Read(ctx context.Context, resource string, q Query) ([]V, error)

	// Write applies op to items in one round-trip and returns the affected
	// rows. For OpDelete, items identify the rows to remove.
	Write(ctx context.Context, resource string, op BulkOp, items []V) ([]V, error)
}

// ChangeEvent is one push-delivered mutation notice for a resource.
type ChangeEvent struct {
	Type     string         `json:"type"` // INSERT | UPDATE | DELETE
	Resource string         `json:"resource"`
	Record   map[string]any `json:"record,omitempty"`
}

// Channel is one live push subscription. Close tears it down.
type Channel interface {
	Close() error
}

// ChannelFactory opens push-change channels per resource. fn is invoked for
// every delivered event until the returned Channel is closed.
type ChannelFactory interface {
	Subscribe(resource string, fn func(ChangeEvent)) (Channel, error)
}

// QueryOptions control one OptimizedQuery call. Construct with
// DefaultQueryOptions and override fields explicitly; the zero value
// disables caching.
type QueryOptions struct {
	Cache    bool          // read-through caching
	TTL      time.Duration // entry lifetime; 0 => Options.DefaultTTL
	Realtime bool          // maintain an invalidating subscription for the resource
	Batch    bool          // route through the flush-window coalescer
}

// DefaultQueryOptions returns the standard read options: caching on with the
// client's default TTL, no realtime, no batching.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{Cache: true}
}

// BulkOptions control one BulkOperation call.
type BulkOptions struct {
	BatchSize int // chunk size for insert/update; 0 => 100
}

// Metrics is a point-in-time snapshot of engine state for diagnostics.
type Metrics struct {
	CacheSize           int // -1 when the provider cannot report a count
	ActiveSubscriptions int
	BatchQueueSize      int
	LastQueryTimes      map[string]time.Time
}

// Client is the consumer-facing contract of the access layer. One long-lived
// instance per backend; Close releases subscriptions, timers, and the
// provider.
type Client[V any] interface {
	// OptimizedQuery runs the composed read path: cache, rate limiter with
	// stale fallback, optional coalescing, cache write-back, optional
	// realtime subscription. Backend errors propagate unmodified.
	//
	// Two concurrent calls for the same uncached key may both reach the
	// backend unless opts.Batch routes them through the coalescer; the
	// cache-miss check and the write-back span the backend round-trip.
	OptimizedQuery(ctx context.Context, resource string, q Query, opts QueryOptions) ([]V, error)

	// SubscribeToTable registers onChange for push events on resource.
	// Subscriptions are deduplicated per (resource, filterKey); the returned
	// func tears the registration down.
	SubscribeToTable(resource, filterKey string, onChange func(ChangeEvent)) (func() error, error)

	// BulkOperation applies op to items. Insert/update run in sequential
	// chunks of BatchSize and stop at the first failing chunk; already
	// applied chunks are not rolled back (see BulkError). Delete is a single
	// unchunked call. The resource cache is invalidated whether or not the
	// operation succeeds.
	BulkOperation(ctx context.Context, resource string, op BulkOp, items []V, opts BulkOptions) ([]V, error)

	// InvalidateTableCache drops every cached entry for resource.
	InvalidateTableCache(resource string)

	// Metrics snapshots cache/subscription/batch/rate-limiter state.
	Metrics() Metrics

	// Perf exposes the latency monitor for caller-side timing.
	Perf() *Monitor

	// Close tears down all subscriptions and timers, settles pending batched
	// requests, and closes the provider. Idempotent.
	Close(ctx context.Context) error
}

// Options tune a Client. Backend is required; everything else has defaults.
type Options[V any] struct {
	// Required.
	Backend Backend[V]

	Provider pr.Provider    // nil => in-process memory provider
	Codec    c.Codec[[]V]   // nil => codec.JSON[[]V]
	Realtime ChannelFactory // nil => realtime requests fail with ErrNoRealtime
	Logger   Logger         // nil => NopLogger
	Hooks    Hooks          // nil => NopHooks
	Clock    Clock          // nil => system clock

	DefaultTTL        time.Duration // cache entry lifetime; 0 => 5m
	StaleRetention    time.Duration // how long expired entries stay servable as throttle fallback; 0 => 1h
	RateLimitInterval time.Duration // min spacing between backend reads per key; 0 => 1s
	BatchWindow       time.Duration // coalescing flush window; 0 => 50ms
	ReuseWindow       time.Duration // subscription reuse window; 0 => 120s
	SweepInterval     time.Duration // idle subscription sweep cadence; 0 => 10m
	StaleAfter        time.Duration // subscription idle threshold; 0 => 60m

	Disabled bool // bypass the cache entirely (reads always hit the backend)
}

// New validates opts, applies defaults, and starts the subscription sweep.
func New[V any](opts Options[V]) (Client[V], error) {
	return newClient[V](opts)
}
