package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequestsTotal, cacheBytes) }

var (
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_cache_requests_total",
			Help: "Cache hits and misses for the evidence and status caches.",
		},
		[]string{"cache", "result"}, // e.g., cache="files", result="hit"
	)

	cacheBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docqa_cache_bytes",
			Help: "Bytes currently held by a size-bounded cache.",
		},
		[]string{"cache"},
	)
)

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}

func SetCacheBytes(cacheName string, n int64) {
	cacheBytes.WithLabelValues(norm(cacheName)).Set(float64(n))
}
