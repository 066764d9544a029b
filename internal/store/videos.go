package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"moderation-queue/internal/models"
)

const videoColumns = `id, video_id, status, assigned_to, created_at, updated_at`

// InsertVideo adds a pending, unassigned video. Uniqueness of video_id is left
// to the database; a duplicate surfaces as ErrDuplicateKey.
func (s *Store) InsertVideo(ctx context.Context, videoID int64) (models.Video, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO videos (video_id, status)
		VALUES ($1, $2)
		RETURNING `+videoColumns,
		videoID, models.StatusPending)
	v, err := scanVideo(row)
	if err != nil {
		return models.Video{}, fmt.Errorf("insert video %d: %w", videoID, err)
	}
	return v, nil
}

// GetVideo fetches a video by its external id without locking.
func (s *Store) GetVideo(ctx context.Context, videoID int64) (models.Video, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+videoColumns+`
		FROM videos
		WHERE video_id = $1
	`, videoID)
	v, err := scanVideo(row)
	if err != nil {
		return models.Video{}, fmt.Errorf("get video %d: %w", videoID, err)
	}
	return v, nil
}

// GetAssignedVideo returns the pending video currently held by moderator.
// At most one is expected; ties resolve to the oldest.
func (s *Store) GetAssignedVideo(ctx context.Context, moderator string) (models.Video, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+videoColumns+`
		FROM videos
		WHERE status = $1 AND assigned_to = $2
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, models.StatusPending, moderator)
	v, err := scanVideo(row)
	if err != nil {
		return models.Video{}, fmt.Errorf("get assigned video for %q: %w", moderator, err)
	}
	return v, nil
}

// claimNextSQL picks the oldest unassigned pending video and assigns it in one
// statement. SKIP LOCKED hides rows another claimant has locked but not yet
// committed, so concurrent claimants move on to the next row instead of
// blocking or both taking the same one.
const claimNextSQL = `
WITH candidate AS (
    SELECT id FROM videos
    WHERE status = $1
      AND assigned_to IS NULL
    ORDER BY created_at ASC, id ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
UPDATE videos
SET assigned_to = $2,
    updated_at  = NOW()
FROM candidate
WHERE videos.id = candidate.id
RETURNING videos.id, videos.video_id, videos.status, videos.assigned_to, videos.created_at, videos.updated_at`

// ClaimNextVideo assigns the next free video to moderator. ErrNotFound means
// the queue has nothing eligible right now.
func (s *Store) ClaimNextVideo(ctx context.Context, moderator string) (models.Video, error) {
	v, err := scanVideo(s.db.QueryRow(ctx, claimNextSQL, models.StatusPending, moderator))
	if err != nil {
		return models.Video{}, fmt.Errorf("claim next video for %q: %w", moderator, err)
	}
	return v, nil
}

// ResolveIfClaimed sets the verdict and releases the assignment, but only if
// the video is still pending and held by moderator. The precondition and the
// write are one statement; ErrNotFound means the precondition did not hold.
func (s *Store) ResolveIfClaimed(ctx context.Context, videoID int64, status models.VideoStatus, moderator string) (models.Video, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE videos
		SET status = $2, assigned_to = NULL, updated_at = NOW()
		WHERE video_id = $1
		  AND status = $4
		  AND assigned_to = $3
		RETURNING `+videoColumns,
		videoID, status, moderator, models.StatusPending)
	v, err := scanVideo(row)
	if err != nil {
		return models.Video{}, fmt.Errorf("resolve video %d: %w", videoID, err)
	}
	return v, nil
}

// CountByStatus returns a point-in-time count of videos per status.
func (s *Store) CountByStatus(ctx context.Context) (models.Stats, error) {
	rows, err := s.db.Query(ctx, `
		SELECT status, COUNT(*)
		FROM videos
		GROUP BY status
	`)
	if err != nil {
		return models.Stats{}, fmt.Errorf("count videos: %w", err)
	}
	defer rows.Close()

	var stats models.Stats
	for rows.Next() {
		var status models.VideoStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return models.Stats{}, fmt.Errorf("scan video count: %w", err)
		}
		if err := checkStatus(status); err != nil {
			return models.Stats{}, fmt.Errorf("count videos: %w", err)
		}
		switch status {
		case models.StatusPending:
			stats.Pending = n
		case models.StatusSpam:
			stats.Spam = n
		case models.StatusNotSpam:
			stats.NotSpam = n
		}
	}
	if err := rows.Err(); err != nil {
		return models.Stats{}, fmt.Errorf("count videos: %w", err)
	}
	return stats, nil
}

func scanVideo(row pgx.Row) (models.Video, error) {
	var v models.Video
	var assigned pgtype.Text
	if err := row.Scan(&v.ID, &v.VideoID, &v.Status, &assigned, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return models.Video{}, mapPgErr(err)
	}
	if err := checkStatus(v.Status); err != nil {
		return models.Video{}, fmt.Errorf("video %d: %w", v.VideoID, err)
	}
	v.AssignedTo = textPtr(assigned)
	return v, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
