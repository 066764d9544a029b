package moderation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moderation-queue/internal/models"
	"moderation-queue/internal/store"
	"moderation-queue/internal/telemetry"
)

// memRepository is an in-memory Repository. beforeResolve runs ahead of each
// conditional resolve and may rewrite the row to simulate a concurrent writer;
// dropResolve makes the resolve match nothing while leaving the row intact.
type memRepository struct {
	mu     sync.Mutex
	videos map[int64]*models.Video
	logs   []models.ModerationLog
	locks  []int64
	seq    int64

	beforeResolve func(v *models.Video)
	dropResolve   bool
}

func newMemRepository() *memRepository {
	return &memRepository{videos: make(map[int64]*models.Video)}
}

func (r *memRepository) InsertVideo(_ context.Context, videoID int64) (models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.videos[videoID]; ok {
		return models.Video{}, fmt.Errorf("insert video %d: %w", videoID, store.ErrDuplicateKey)
	}
	r.seq++
	now := time.Unix(r.seq, 0)
	v := &models.Video{ID: r.seq, VideoID: videoID, Status: models.StatusPending, CreatedAt: now, UpdatedAt: now}
	r.videos[videoID] = v
	return *v, nil
}

func (r *memRepository) GetVideo(_ context.Context, videoID int64) (models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[videoID]
	if !ok {
		return models.Video{}, fmt.Errorf("get video %d: %w", videoID, store.ErrNotFound)
	}
	return *v, nil
}

func (r *memRepository) ordered() []*models.Video {
	out := make([]*models.Video, 0, len(r.videos))
	for _, v := range r.videos {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memRepository) GetAssignedVideo(_ context.Context, moderator string) (models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.ordered() {
		if v.Status == models.StatusPending && v.AssignedToModerator(moderator) {
			return *v, nil
		}
	}
	return models.Video{}, store.ErrNotFound
}

func (r *memRepository) ClaimNextVideo(_ context.Context, moderator string) (models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.ordered() {
		if v.Status == models.StatusPending && v.AssignedTo == nil {
			name := moderator
			v.AssignedTo = &name
			return *v, nil
		}
	}
	return models.Video{}, store.ErrNotFound
}

func (r *memRepository) ResolveIfClaimed(_ context.Context, videoID int64, status models.VideoStatus, moderator string) (models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[videoID]
	if !ok {
		return models.Video{}, store.ErrNotFound
	}
	if r.beforeResolve != nil {
		r.beforeResolve(v)
	}
	if r.dropResolve || v.Status != models.StatusPending || !v.AssignedToModerator(moderator) {
		return models.Video{}, fmt.Errorf("resolve video %d: %w", videoID, store.ErrNotFound)
	}
	v.Status, v.AssignedTo = status, nil
	return *v, nil
}

func (r *memRepository) InsertLog(_ context.Context, videoID int64, status models.VideoStatus, moderator string) (models.ModerationLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := models.ModerationLog{ID: int64(len(r.logs) + 1), VideoID: videoID, Status: status, Moderator: moderator}
	r.logs = append(r.logs, l)
	return l, nil
}

func (r *memRepository) ListLogs(_ context.Context, videoID int64) ([]models.ModerationLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ModerationLog
	for _, l := range r.logs {
		if l.VideoID == videoID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memRepository) CountByStatus(context.Context) (models.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s models.Stats
	for _, v := range r.videos {
		switch v.Status {
		case models.StatusPending:
			s.Pending++
		case models.StatusSpam:
			s.Spam++
		case models.StatusNotSpam:
			s.NotSpam++
		}
	}
	return s, nil
}

func (r *memRepository) Ping(context.Context) error { return nil }

func (r *memRepository) AdvisoryXactLock(_ context.Context, key int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks = append(r.locks, key)
	return nil
}

func (r *memRepository) InTx(_ context.Context, fn func(tx Repository) error) error {
	return fn(r)
}

const testLockBase int64 = 0x6D6F645F6C6F636B

func newMemService(t *testing.T, ids ...int64) (*Service, *memRepository) {
	t.Helper()
	repo := newMemRepository()
	svc := NewServiceWithRepository(repo, testLockBase, quietLogger())
	for _, id := range ids {
		_, err := svc.AddVideo(context.Background(), id)
		require.NoError(t, err)
	}
	return svc, repo
}

func TestClaimVideoFlow(t *testing.T) {
	svc, repo := newMemService(t)
	ctx := context.Background()

	_, err := svc.ClaimVideo(ctx, "alice")
	require.ErrorIs(t, err, ErrNoneAvailable)

	for _, id := range []int64{10, 20} {
		_, err := svc.AddVideo(ctx, id)
		require.NoError(t, err)
	}
	_, err = svc.AddVideo(ctx, 10)
	require.ErrorIs(t, err, ErrAlreadyExists)

	first, err := svc.ClaimVideo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), first.VideoID)

	again, err := svc.ClaimVideo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.VideoID, again.VideoID, "a moderator keeps the video they hold")

	second, err := svc.ClaimVideo(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(20), second.VideoID)

	_, err = svc.ClaimVideo(ctx, "carol")
	require.ErrorIs(t, err, ErrNoneAvailable)

	aliceKey := ModeratorLockKey(testLockBase, "alice")
	assert.Equal(t, []int64{
		aliceKey, aliceKey, aliceKey,
		ModeratorLockKey(testLockBase, "bob"),
		ModeratorLockKey(testLockBase, "carol"),
	}, repo.locks)
}

func TestFlagVideoRecordsVerdict(t *testing.T) {
	svc, repo := newMemService(t, 5)
	ctx := context.Background()

	_, err := svc.ClaimVideo(ctx, "alice")
	require.NoError(t, err)

	v, err := svc.FlagVideo(ctx, 5, models.StatusNotSpam, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotSpam, v.Status)
	assert.Nil(t, v.AssignedTo)

	history, err := svc.History(ctx, 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "alice", history[0].Moderator)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{NotSpam: 1}, stats)
	assert.NoError(t, svc.Ping(ctx))
	assert.Len(t, repo.logs, 1)
}

func TestFlagVideoResolveMissOnValidRowIsInternal(t *testing.T) {
	svc, repo := newMemService(t, 7)
	ctx := context.Background()

	_, err := svc.ClaimVideo(ctx, "alice")
	require.NoError(t, err)

	repo.dropResolve = true

	before := testutil.ToFloat64(telemetry.InternalErrors)
	_, err = svc.FlagVideo(ctx, 7, models.StatusSpam, "alice")
	require.ErrorIs(t, err, ErrInternal)
	for _, kind := range []error{ErrNotAssigned, ErrAlreadyResolved, ErrNotFound, ErrInvalidStatus} {
		assert.NotErrorIs(t, err, kind)
	}
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.InternalErrors))
	assert.Empty(t, repo.logs, "a failed resolve must not be logged as a verdict")

	current, err := repo.GetVideo(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, current.Status)
}

func TestFlagVideoResolveMissAfterReassignment(t *testing.T) {
	svc, repo := newMemService(t, 8)
	ctx := context.Background()

	_, err := svc.ClaimVideo(ctx, "alice")
	require.NoError(t, err)

	repo.beforeResolve = func(v *models.Video) {
		bob := "bob"
		v.AssignedTo = &bob
	}

	before := testutil.ToFloat64(telemetry.InternalErrors)
	_, err = svc.FlagVideo(ctx, 8, models.StatusSpam, "alice")
	require.ErrorIs(t, err, ErrNotAssigned)
	assert.NotErrorIs(t, err, ErrInternal)
	assert.Equal(t, before, testutil.ToFloat64(telemetry.InternalErrors))
	assert.Empty(t, repo.logs)
}

func TestFlagVideoResolveMissAfterResolution(t *testing.T) {
	svc, repo := newMemService(t, 9)
	ctx := context.Background()

	_, err := svc.ClaimVideo(ctx, "alice")
	require.NoError(t, err)

	repo.beforeResolve = func(v *models.Video) {
		v.Status, v.AssignedTo = models.StatusNotSpam, nil
	}

	_, err = svc.FlagVideo(ctx, 9, models.StatusSpam, "alice")
	require.ErrorIs(t, err, ErrAlreadyResolved)
	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, models.StatusNotSpam, me.Status)
}

func TestEmptyModeratorIsRejected(t *testing.T) {
	svc, repo := newMemService(t, 3)
	ctx := context.Background()

	_, err := svc.ClaimVideo(ctx, "")
	require.ErrorIs(t, err, ErrInvalidModerator)
	_, err = svc.FlagVideo(ctx, 3, models.StatusSpam, "")
	require.ErrorIs(t, err, ErrInvalidModerator)
	assert.Empty(t, repo.locks)
}
