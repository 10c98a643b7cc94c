package querycache

import (
	"context"
	"sync"
	"time"

	c "github.com/unkn0wn-root/querycache/codec"
	"github.com/unkn0wn-root/querycache/internal/wire"
	pr "github.com/unkn0wn-root/querycache/provider"
)

// rowCache is the read-through store for query results. Values are encoded
// result sets framed with the resource generation current at write time and
// an absolute expiry. Table-scoped invalidation is a generation bump: older
// frames are self-heal deleted on the next read.
//
// TTL is enforced here, not by the provider. Expired frames whose generation
// is still current are retained until staleRetention so a rate-limited
// caller can be served the last known value.
type rowCache[V any] struct {
	provider       pr.Provider
	codec          c.Codec[[]V]
	log            Logger
	hooks          Hooks
	clock          Clock
	defaultTTL     time.Duration
	staleRetention time.Duration
	enabled        bool

	// per-resource generations; missing treated as gen=0
	genMu sync.RWMutex
	gens  map[string]uint64
}

func newRowCache[V any](opts Options[V], log Logger, hooks Hooks, clock Clock) *rowCache[V] {
	return &rowCache[V]{
		provider:       opts.Provider,
		codec:          opts.Codec,
		log:            log,
		hooks:          hooks,
		clock:          clock,
		defaultTTL:     coalesce(opts.DefaultTTL, 5*time.Minute),
		staleRetention: coalesce(opts.StaleRetention, time.Hour),
		enabled:        !opts.Disabled,
		gens:           make(map[string]uint64),
	}
}

// get returns a live (unexpired) entry for key.
func (rc *rowCache[V]) get(ctx context.Context, key, resource string) ([]V, bool) {
	rows, expiresAt, ok := rc.load(ctx, key, resource)
	if !ok {
		return nil, false
	}
	if !rc.clock.Now().Before(expiresAt) {
		// expired but generation-valid; kept for throttle fallback
		return nil, false
	}
	return rows, true
}

// getStale ignores expiry: any generation-valid entry is served. age reports
// how far past expiry the entry is (zero when still live).
func (rc *rowCache[V]) getStale(ctx context.Context, key, resource string) ([]V, time.Duration, bool) {
	rows, expiresAt, ok := rc.load(ctx, key, resource)
	if !ok {
		return nil, 0, false
	}
	var age time.Duration
	if now := rc.clock.Now(); now.After(expiresAt) {
		age = now.Sub(expiresAt)
	}
	return rows, age, true
}

func (rc *rowCache[V]) load(ctx context.Context, key, resource string) ([]V, time.Time, bool) {
	if !rc.enabled {
		return nil, time.Time{}, false
	}
	raw, ok, err := rc.provider.Get(ctx, key)
	if err != nil || !ok {
		return nil, time.Time{}, false
	}
	gen, expNano, payload, err := wire.Decode(raw)
	if err != nil {
		_ = rc.provider.Del(ctx, key) // self-heal corrupt
		rc.hooks.CacheSelfHeal(key, "corrupt")
		return nil, time.Time{}, false
	}
	if gen != rc.snapshotGen(resource) {
		_ = rc.provider.Del(ctx, key)
		rc.hooks.CacheSelfHeal(key, "gen_mismatch")
		return nil, time.Time{}, false
	}
	rows, err := rc.codec.Decode(payload)
	if err != nil {
		_ = rc.provider.Del(ctx, key) // self-heal
		rc.hooks.CacheSelfHeal(key, "value_decode")
		return nil, time.Time{}, false
	}
	return rows, time.Unix(0, expNano), true
}

// set overwrites key unconditionally. The provider's retention outlives the
// TTL so the entry stays available as a stale fallback after expiry.
func (rc *rowCache[V]) set(ctx context.Context, key, resource string, rows []V, ttl time.Duration) {
	if !rc.enabled {
		return
	}
	if ttl == 0 {
		ttl = rc.defaultTTL
	}
	payload, err := rc.codec.Encode(rows)
	if err != nil {
		rc.log.Warn("cache encode failed", Fields{"key": key, "err": err})
		return
	}
	expiresAt := rc.clock.Now().Add(ttl)
	frame := wire.Encode(rc.snapshotGen(resource), expiresAt.UnixNano(), payload)

	retention := ttl + rc.staleRetention
	ok, err := rc.provider.Set(ctx, key, frame, 1, retention)
	if err != nil {
		rc.log.Warn("cache set failed", Fields{"key": key, "err": err})
		return
	}
	if !ok {
		rc.hooks.ProviderSetRejected(key)
		rc.log.Debug("cache set rejected by provider (pressure)", Fields{"key": key})
	}
}

// invalidateResource bumps the resource generation, orphaning every entry
// written under the old one.
func (rc *rowCache[V]) invalidateResource(resource string) {
	rc.genMu.Lock()
	rc.gens[resource]++
	gen := rc.gens[resource]
	rc.genMu.Unlock()
	rc.log.Debug("invalidated resource", Fields{"resource": resource, "gen": gen})
}

func (rc *rowCache[V]) snapshotGen(resource string) uint64 {
	rc.genMu.RLock()
	g := rc.gens[resource]
	rc.genMu.RUnlock()
	return g
}

// size reports the provider entry count when the provider can count, -1
// otherwise. Orphaned (invalidated) entries are included until self-healed.
func (rc *rowCache[V]) size() int {
	if s, ok := rc.provider.(interface{ Len() int }); ok {
		return s.Len()
	}
	return -1
}

func (rc *rowCache[V]) close(ctx context.Context) error {
	rc.genMu.Lock()
	rc.gens = make(map[string]uint64)
	rc.genMu.Unlock()
	return rc.provider.Close(ctx)
}
