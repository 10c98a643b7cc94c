// Package provider defines the storage abstraction beneath querycache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte that was previously passed to Set for a key. Internal
// transforms (e.g. compression) must be fully reversed.
//
// The engine owns staleness: entries carry their generation and expiry inside
// the stored frame, and the TTL handed to Set is a retention bound, not the
// serving lifetime. Stores without per-entry TTL (e.g. BigCache) are usable;
// they just reclaim on their own schedule.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. Must be safe for concurrent
// use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given retention TTL. May ignore cost if
	// unsupported. Returns ok=false when the store rejected the write under
	// pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
