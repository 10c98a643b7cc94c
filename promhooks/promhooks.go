// Package promhooks exports querycache.Hooks events as Prometheus counters.
// The Registerer is injected so applications control the registry and
// metric lifecycle.
package promhooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/querycache"
)

type Hooks struct {
	selfHeals         *prometheus.CounterVec
	throttleFallbacks prometheus.Counter
	batchFlushes      prometheus.Counter
	batchedRequests   prometheus.Counter
	subsReplaced      prometheus.Counter
	subsTeardownErrs  prometheus.Counter
	subsSwept         prometheus.Counter
	setRejected       prometheus.Counter
	bulkChunkFailures prometheus.Counter
}

var _ querycache.Hooks = (*Hooks)(nil)

// New registers the counters on reg under the given namespace (e.g.
// "myapp"). Registration errors surface immediately rather than at first
// event.
func New(reg prometheus.Registerer, namespace string) (*Hooks, error) {
	h := &Hooks{
		selfHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "self_heals_total",
			Help:      "Cache entries deleted on read, by reason.",
		}, []string{"reason"}),
		throttleFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "throttle_fallbacks_total",
			Help:      "Rate-limited reads served from a cached value past its TTL.",
		}),
		batchFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "batch_flushes_total",
			Help:      "Coalescer flushes.",
		}),
		batchedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "batched_requests_total",
			Help:      "Pending requests settled by flushes.",
		}),
		subsReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "subscriptions_replaced_total",
			Help:      "Channels replaced after aging out of the reuse window.",
		}),
		subsTeardownErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "subscription_teardown_errors_total",
			Help:      "Channel teardowns that failed (logged, never raised).",
		}),
		subsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "subscriptions_swept_total",
			Help:      "Idle channels removed by the periodic sweep.",
		}),
		setRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "provider_set_rejected_total",
			Help:      "Cache writes rejected by the provider under pressure.",
		}),
		bulkChunkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "bulk_chunk_failures_total",
			Help:      "Bulk insert/update chunks that failed.",
		}),
	}

	for _, col := range []prometheus.Collector{
		h.selfHeals, h.throttleFallbacks, h.batchFlushes, h.batchedRequests,
		h.subsReplaced, h.subsTeardownErrs, h.subsSwept, h.setRejected,
		h.bulkChunkFailures,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) CacheSelfHeal(_, reason string) { h.selfHeals.WithLabelValues(reason).Inc() }

func (h *Hooks) ThrottleFallback(string, time.Duration) { h.throttleFallbacks.Inc() }

func (h *Hooks) BatchFlush(_, queued int) {
	h.batchFlushes.Inc()
	h.batchedRequests.Add(float64(queued))
}

func (h *Hooks) SubscriptionReplaced(string) { h.subsReplaced.Inc() }

func (h *Hooks) SubscriptionTeardownError(string, error) { h.subsTeardownErrs.Inc() }

func (h *Hooks) SubscriptionSwept(string, time.Duration) { h.subsSwept.Inc() }

func (h *Hooks) ProviderSetRejected(string) { h.setRejected.Inc() }

func (h *Hooks) BulkChunkFailed(string, int, int, error) { h.bulkChunkFailures.Inc() }
