package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"moderation-queue/internal/models"
	"moderation-queue/internal/telemetry"
)

// StatsSource reports queue counts.
type StatsSource interface {
	Stats(ctx context.Context) (models.Stats, error)
}

// StatsRefresher periodically publishes queue counts to the moderation_videos
// gauge. Each instance reads the shared database, so every replica exports
// the same numbers.
type StatsRefresher struct {
	source   StatsSource
	interval time.Duration
	log      logrus.FieldLogger
}

func NewStatsRefresher(source StatsSource, interval time.Duration, log logrus.FieldLogger) *StatsRefresher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &StatsRefresher{
		source:   source,
		interval: interval,
		log:      log.WithField("component", "stats_refresher"),
	}
}

// Run refreshes once immediately, then every interval until ctx is done.
func (r *StatsRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.refresh(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *StatsRefresher) refresh(ctx context.Context) {
	stats, err := r.source.Stats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.WithError(err).Warn("refresh queue stats")
		}
		return
	}
	telemetry.QueueVideos.WithLabelValues(string(models.StatusPending)).Set(float64(stats.Pending))
	telemetry.QueueVideos.WithLabelValues(string(models.StatusSpam)).Set(float64(stats.Spam))
	telemetry.QueueVideos.WithLabelValues(string(models.StatusNotSpam)).Set(float64(stats.NotSpam))
}
