// Package asynchook decouples hook sinks from the engine's hot paths: events
// are queued onto a bounded channel and delivered by worker goroutines;
// events are dropped when the queue is full.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	client, _ := querycache.New[Task](querycache.Options[Task]{
//	    Backend: backend,
//	    Hooks:   hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/querycache"
)

type Hooks struct {
	inner querycache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ querycache.Hooks = (*Hooks)(nil)

func New(inner querycache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) CacheSelfHeal(k, r string) { h.try(func() { h.inner.CacheSelfHeal(k, r) }) }
func (h *Hooks) ThrottleFallback(k string, age time.Duration) {
	h.try(func() { h.inner.ThrottleFallback(k, age) })
}
func (h *Hooks) BatchFlush(groups, queued int) {
	h.try(func() { h.inner.BatchFlush(groups, queued) })
}
func (h *Hooks) SubscriptionReplaced(k string) { h.try(func() { h.inner.SubscriptionReplaced(k) }) }
func (h *Hooks) SubscriptionTeardownError(k string, err error) {
	h.try(func() { h.inner.SubscriptionTeardownError(k, err) })
}
func (h *Hooks) SubscriptionSwept(k string, idle time.Duration) {
	h.try(func() { h.inner.SubscriptionSwept(k, idle) })
}
func (h *Hooks) ProviderSetRejected(k string) { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) BulkChunkFailed(res string, chunk, applied int, err error) {
	h.try(func() { h.inner.BulkChunkFailed(res, chunk, applied, err) })
}
