package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(renderDuration) }

var renderDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "docqa_region_render_seconds",
		Help:    "Time spent rasterizing a region of interest.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"source", "outcome"}, // source='pdf'|'image'
)

func ObserveRender(source, outcome string, d time.Duration) {
	renderDuration.WithLabelValues(norm(source), norm(outcome)).Observe(d.Seconds())
}
