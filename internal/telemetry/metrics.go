package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "protection_jobs_submitted_total", Help: "Protection jobs created, by media type"}, []string{"media"})
	JobsCompleted    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "protection_jobs_completed_total", Help: "Protection jobs that reached completed"}, []string{"media"})
	JobsFailed       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "protection_jobs_failed_total", Help: "Protection jobs that reached failed"}, []string{"media"})
	JobsDegraded     = prometheus.NewCounter(prometheus.CounterOpts{Name: "protection_jobs_degraded_total", Help: "Jobs completed with placeholder results because the AI service was unavailable"})
	OperationErrors  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "protection_operation_errors_total", Help: "AI service calls that produced no result"}, []string{"operation"})
	ProcessingTime   = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "protection_processing_seconds", Help: "Wall time of the processing pass", Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600}})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "protection_rate_limit_rejects_total", Help: "Submissions rejected by rate limiter"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsFailed,
			JobsDegraded,
			OperationErrors,
			ProcessingTime,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
