// Package querycache implements the client-side data-access layer between an
// application and a managed record backend: read-through caching, request
// coalescing, rate limiting with stale fallback, deduplicated push-change
// subscriptions, and chunked bulk writes.
//
// Components:
//   - Provider: byte store with TTL (e.g. Ristretto, BigCache, Redis, memory).
//   - Codec[[]V]: (de)serializes result sets <-> []byte.
//   - Backend[V]: opaque transport for row reads and bulk writes.
//   - ChannelFactory: push-change subscriptions per resource (e.g. NATS).
//
// Keys:
//
//	<resource>:<signature>  - signature is deterministic over the query
//
// Invalidation is table-scoped: every resource carries a generation counter,
// and InvalidateTableCache bumps it. Entries framed with an older generation
// are treated as misses and deleted on read, so "projects:*" disappears
// atomically while "tasks:*" is untouched.
//
// Read path:
//
//	rows, err := client.OptimizedQuery(ctx, "projects", q, querycache.DefaultQueryOptions())
//
// Cache hit returns immediately; a rate-limited miss serves the latest cached
// value even past its TTL; everything else goes to the backend, optionally
// through the flush-window coalescer.
package querycache
