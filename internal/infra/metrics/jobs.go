package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(jobsProcessedTotal, jobRetriesTotal, jobsReclaimedTotal, jobDuration, jobsInFlight, jobsSubmittedTotal)
}

var (
	jobsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docqa_jobs_submitted_total",
			Help: "Jobs accepted at submission.",
		},
	)

	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_jobs_processed_total",
			Help: "Job attempts by final processor state.",
		},
		[]string{"state"}, // 'succeeded', 'retry_scheduled', 'failed'
	)

	jobRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_job_retries_total",
			Help: "Requeues by failure kind.",
		},
		[]string{"kind"}, // 'transient', 'timeout'
	)

	jobsReclaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_jobs_reclaimed_total",
			Help: "Stale processing jobs recovered by the reclaimer, by resulting status.",
		},
		[]string{"status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docqa_job_duration_seconds",
			Help:    "Wall time of one job attempt.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 11),
		},
		[]string{"state"},
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docqa_jobs_in_flight",
			Help: "Jobs currently running in this process.",
		},
	)
)

func IncJobSubmitted() { jobsSubmittedTotal.Inc() }

func ObserveJobAttempt(state string, d time.Duration) {
	jobsProcessedTotal.WithLabelValues(norm(state)).Inc()
	jobDuration.WithLabelValues(norm(state)).Observe(d.Seconds())
}

func IncJobRetry(kind string) {
	jobRetriesTotal.WithLabelValues(norm(kind)).Inc()
}

func IncJobsReclaimed(status string, n int) {
	jobsReclaimedTotal.WithLabelValues(norm(status)).Add(float64(n))
}

func AddJobsInFlight(delta int) {
	jobsInFlight.Add(float64(delta))
}
