// Package metrics holds the Prometheus collectors of the loyalty service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loyalty",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "loyalty",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	pointsPosted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loyalty",
			Subsystem: "ledger",
			Name:      "points_posted_total",
			Help:      "Absolute points posted to the ledger by reason.",
		},
		[]string{"reason"},
	)

	redemptionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loyalty",
			Subsystem: "redemption",
			Name:      "transitions_total",
			Help:      "Redemption state transitions by target status.",
		},
		[]string{"status"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loyalty",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Background job runs by job and outcome.",
		},
		[]string{"job", "success"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "loyalty",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of background job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"job"},
	)

	expiredPoints = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loyalty",
			Subsystem: "sweeper",
			Name:      "expired_points_total",
			Help:      "Points retired by the expiry sweeper.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpDuration,
		pointsPosted,
		redemptionTransitions,
		jobRuns,
		jobDuration,
		expiredPoints,
	)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordHTTPRequest(method, path string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func RecordPosting(reason string, amount int64) {
	if amount < 0 {
		amount = -amount
	}
	pointsPosted.WithLabelValues(reason).Add(float64(amount))
}

func RecordRedemption(status string) {
	redemptionTransitions.WithLabelValues(status).Inc()
}

func RecordJob(job string, success bool, d time.Duration) {
	jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func RecordExpiredPoints(points int64) {
	expiredPoints.Add(float64(points))
}
