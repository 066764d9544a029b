package moderation

import (
	"context"

	"moderation-queue/internal/models"
	"moderation-queue/internal/store"
)

// Repository is the persistence Service needs. Lookups that match no row
// return an error wrapping store.ErrNotFound, and inserts that hit a unique
// key return one wrapping store.ErrDuplicateKey.
type Repository interface {
	InsertVideo(ctx context.Context, videoID int64) (models.Video, error)
	GetVideo(ctx context.Context, videoID int64) (models.Video, error)
	GetAssignedVideo(ctx context.Context, moderator string) (models.Video, error)
	ClaimNextVideo(ctx context.Context, moderator string) (models.Video, error)
	ResolveIfClaimed(ctx context.Context, videoID int64, status models.VideoStatus, moderator string) (models.Video, error)
	InsertLog(ctx context.Context, videoID int64, status models.VideoStatus, moderator string) (models.ModerationLog, error)
	ListLogs(ctx context.Context, videoID int64) ([]models.ModerationLog, error)
	CountByStatus(ctx context.Context) (models.Stats, error)
	Ping(ctx context.Context) error

	// AdvisoryXactLock is only valid on the Repository passed to InTx.
	AdvisoryXactLock(ctx context.Context, key int64) error
	// InTx runs fn in one transaction, committing when it returns nil.
	InTx(ctx context.Context, fn func(tx Repository) error) error
}

// pgRepository adapts *store.Store to Repository.
type pgRepository struct {
	*store.Store
}

// NewPostgresRepository exposes st as a Repository.
func NewPostgresRepository(st *store.Store) Repository {
	return pgRepository{Store: st}
}

func (r pgRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	return r.Store.WithTx(ctx, func(tx *store.Store) error {
		return fn(pgRepository{Store: tx})
	})
}
