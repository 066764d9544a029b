package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	VideosAdded      = prometheus.NewCounter(prometheus.CounterOpts{Name: "moderation_videos_added_total", Help: "Videos added to the queue"})
	Claims           = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "moderation_claims_total", Help: "Claim requests by outcome"}, []string{"outcome"})
	Flags            = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "moderation_flags_total", Help: "Videos flagged by verdict"}, []string{"status"})
	FlagRejects      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "moderation_flag_rejects_total", Help: "Flag requests rejected by reason"}, []string{"reason"})
	InternalErrors   = prometheus.NewCounter(prometheus.CounterOpts{Name: "moderation_internal_errors_total", Help: "Conditional writes that failed despite passing validation"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "moderation_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	QueueVideos      = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "moderation_videos", Help: "Videos per status at the last stats refresh"}, []string{"status"})

	MigrationLockWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "moderation_migration_lock_wait_seconds",
		Help:    "Time spent waiting for the global migration lock",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
	})
	MigrationsApplied = prometheus.NewCounter(prometheus.CounterOpts{Name: "moderation_migrations_applied_total", Help: "Schema migrations applied by this instance"})
)

// Claim outcomes.
const (
	ClaimAssigned = "assigned"
	ClaimReturned = "returned"
	ClaimNoneLeft = "none_available"
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			VideosAdded,
			Claims,
			Flags,
			FlagRejects,
			InternalErrors,
			RateLimitRejects,
			QueueVideos,
			MigrationLockWait,
			MigrationsApplied,
		)
	})
	return promhttp.Handler()
}
