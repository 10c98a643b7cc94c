package querycache

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The engine calls them on hot paths.
type Hooks interface {
	// A cached entry was deleted by the engine on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	CacheSelfHeal(storageKey, reason string)

	// A rate-limited read was served a cached value past its TTL.
	// age is how long past expiry the value was.
	ThrottleFallback(key string, age time.Duration)

	// The coalescer flushed: queued pending requests collapsed into
	// groups backend executions.
	BatchFlush(groups, queued int)

	// An existing channel aged out of the reuse window and was replaced.
	SubscriptionReplaced(key string)

	// Channel teardown failed. Never propagated; cleanup failures must not
	// block new subscriptions.
	SubscriptionTeardownError(key string, err error)

	// The periodic sweep removed a channel idle beyond the threshold.
	SubscriptionSwept(key string, idle time.Duration)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// A bulk insert/update chunk failed; applied rows stay applied.
	BulkChunkFailed(resource string, chunk, applied int, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) CacheSelfHeal(string, string)            {}
func (NopHooks) ThrottleFallback(string, time.Duration)  {}
func (NopHooks) BatchFlush(int, int)                     {}
func (NopHooks) SubscriptionReplaced(string)             {}
func (NopHooks) SubscriptionTeardownError(string, error) {}
func (NopHooks) SubscriptionSwept(string, time.Duration) {}
func (NopHooks) ProviderSetRejected(string)              {}
func (NopHooks) BulkChunkFailed(string, int, int, error) {}
