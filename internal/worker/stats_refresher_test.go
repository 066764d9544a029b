package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moderation-queue/internal/models"
	"moderation-queue/internal/telemetry"
)

type countingSource struct {
	calls atomic.Int32
	stats models.Stats
	err   error
}

func (c *countingSource) Stats(context.Context) (models.Stats, error) {
	c.calls.Add(1)
	return c.stats, c.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestStatsRefresherPublishesGauges(t *testing.T) {
	src := &countingSource{stats: models.Stats{Pending: 4, Spam: 2, NotSpam: 7}}
	r := NewStatsRefresher(src, 5*time.Millisecond, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	err := r.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.GreaterOrEqual(t, src.calls.Load(), int32(2))
	assert.Equal(t, 4.0, testutil.ToFloat64(telemetry.QueueVideos.WithLabelValues("pending")))
	assert.Equal(t, 2.0, testutil.ToFloat64(telemetry.QueueVideos.WithLabelValues("spam")))
	assert.Equal(t, 7.0, testutil.ToFloat64(telemetry.QueueVideos.WithLabelValues("not spam")))
}

func TestStatsRefresherSurvivesErrors(t *testing.T) {
	src := &countingSource{err: errors.New("db down")}
	r := NewStatsRefresher(src, time.Millisecond, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.Run(ctx), context.DeadlineExceeded)
	assert.Greater(t, src.calls.Load(), int32(1))
}
