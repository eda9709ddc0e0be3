// Package observability exposes prometheus metrics for the engine. The
// registry handler is offered to embedders; the engine itself never opens
// a listen socket.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wms_cache_results_total",
			Help: "Disk cache results by outcome.",
		},
		[]string{"outcome"},
	)

	fetchLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wms_fetch_latency_seconds",
			Help:    "Latency of WMS GetMap/GetCapabilities calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"endpoint", "kind"},
	)

	authRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wms_auth_retries_total",
			Help: "Prompt-and-retry cycles triggered by 401 challenges.",
		},
	)

	capabilityParsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wms_capability_parses_total",
			Help: "Capability document parses by result.",
		},
		[]string{"result"},
	)

	evictedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wms_cache_evicted_bytes_total",
			Help: "Bytes removed from the disk cache by servicing.",
		},
	)
)

func IncCacheHit()   { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss()  { cacheResults.WithLabelValues("miss").Inc() }
func IncCacheError() { cacheResults.WithLabelValues("error").Inc() }

func ObserveFetchLatency(endpoint, kind string, seconds float64) {
	fetchLatencySeconds.WithLabelValues(endpoint, kind).Observe(seconds)
}

func IncAuthRetry() { authRetriesTotal.Inc() }

func IncCapabilityParse(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	capabilityParsesTotal.WithLabelValues(result).Inc()
}

func AddEvictedBytes(n int64) {
	if n > 0 {
		evictedBytesTotal.Add(float64(n))
	}
}

// Handler serves the default registry for embedders that want a metrics
// endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
