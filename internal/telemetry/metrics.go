package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_status_transitions_total",
		Help: "Committed job operations by operation and resulting status",
	}, []string{"operation", "status"})
	TransitionRejects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_status_transition_rejects_total",
		Help: "Job operations rejected as caller errors, by reason",
	}, []string{"operation", "reason"})
	StorageFailures  = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_storage_failures_total", Help: "Job operations that failed in storage and were rolled back"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	ArchiveEnqueued  = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_archive_enqueued_total", Help: "Terminal jobs queued for history archiving"})
	ArchiveSuccess   = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_archive_completed_total", Help: "Job histories archived"})
	ArchiveFailures  = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_archive_failed_total", Help: "Archive attempts that failed and will retry"})
	ArchiveDead      = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_archive_dead_letter_total", Help: "Archive entries moved to the dead list"})
	ArchiveDepth     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_archive_queue_depth", Help: "Archive entries waiting to be processed"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			Transitions,
			TransitionRejects,
			StorageFailures,
			RateLimitRejects,
			ArchiveEnqueued,
			ArchiveSuccess,
			ArchiveFailures,
			ArchiveDead,
			ArchiveDepth,
		)
	})
	return promhttp.Handler()
}
