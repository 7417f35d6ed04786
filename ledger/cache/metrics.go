package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the resolution cache metrics.
type Metrics struct {
	HitsTotal              prometheus.Counter
	MissesTotal            prometheus.Counter
	ErrorsTotal            *prometheus.CounterVec // Cache backend failures by operation (get, set, del)
	LookupDurationSeconds  prometheus.Histogram
	SharedResolutionsTotal prometheus.Counter // Resolutions served by an in-flight call
}

// NewMetrics creates the cache metrics and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "identity_resolver_cache_hits_total",
			Help: "Total number of DID resolutions served from the cache",
		}),

		MissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "identity_resolver_cache_misses_total",
			Help: "Total number of DID resolutions forwarded to the ledger",
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_resolver_cache_errors_total",
			Help: "Total number of cache backend failures by operation",
		}, []string{"op"}),

		LookupDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "identity_resolver_cache_lookup_duration_seconds",
			Help:    "Duration of cache lookups",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
		}),

		SharedResolutionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "identity_resolver_cache_shared_resolutions_total",
			Help: "Total number of resolutions that joined an in-flight ledger call",
		}),
	}
}
