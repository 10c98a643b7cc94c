// Package sloghooks sinks querycache.Hooks into log/slog with sampling for
// the hot events.
package sloghooks

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/querycache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	ThrottleEvery uint64
	FlushEvery    uint64
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	throttleCtr atomic.Uint64
	flushCtr    atomic.Uint64
}

var _ querycache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) CacheSelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("querycache.self_heal",
		"key", storageKey,
		"reason", reason)
}

func (h *Hooks) ThrottleFallback(key string, age time.Duration) {
	if h.l == nil || !sample(h.opts.ThrottleEvery, &h.throttleCtr) {
		return
	}
	h.l.Debug("querycache.throttle_fallback",
		"key", key,
		"stale_for", age)
}

func (h *Hooks) BatchFlush(groups, queued int) {
	if h.l == nil || !sample(h.opts.FlushEvery, &h.flushCtr) {
		return
	}
	h.l.Debug("querycache.batch_flush",
		"groups", groups,
		"queued", queued)
}

func (h *Hooks) SubscriptionReplaced(key string) {
	if h.l == nil {
		return
	}
	h.l.Info("querycache.subscription_replaced",
		"key", key)
}

func (h *Hooks) SubscriptionTeardownError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("querycache.subscription_teardown_error",
		"key", key,
		"err", err)
}

func (h *Hooks) SubscriptionSwept(key string, idle time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Info("querycache.subscription_swept",
		"key", key,
		"idle", idle)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("querycache.provider_set_rejected",
		"key", storageKey)
}

func (h *Hooks) BulkChunkFailed(resource string, chunk, applied int, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("querycache.bulk_chunk_failed",
		"resource", resource,
		"chunk", chunk,
		"applied", applied,
		"err", err)
}
