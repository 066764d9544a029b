package store

import (
	"context"
	"fmt"

	"moderation-queue/internal/models"
)

// InsertLog appends a verdict to the moderation log. Callers write it in the
// same transaction as the status change it records.
func (s *Store) InsertLog(ctx context.Context, videoID int64, status models.VideoStatus, moderator string) (models.ModerationLog, error) {
	var l models.ModerationLog
	err := s.db.QueryRow(ctx, `
		INSERT INTO moderation_logs (video_id, status, moderator)
		VALUES ($1, $2, $3)
		RETURNING id, video_id, status, moderator, created_at
	`, videoID, status, moderator).Scan(&l.ID, &l.VideoID, &l.Status, &l.Moderator, &l.CreatedAt)
	if err != nil {
		return models.ModerationLog{}, fmt.Errorf("insert moderation log for video %d: %w", videoID, mapPgErr(err))
	}
	return l, nil
}

// ListLogs returns every verdict recorded for a video in append order.
func (s *Store) ListLogs(ctx context.Context, videoID int64) ([]models.ModerationLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, video_id, status, moderator, created_at
		FROM moderation_logs
		WHERE video_id = $1
		ORDER BY created_at ASC, id ASC
	`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list moderation logs for video %d: %w", videoID, err)
	}
	defer rows.Close()

	out := make([]models.ModerationLog, 0)
	for rows.Next() {
		var l models.ModerationLog
		if err := rows.Scan(&l.ID, &l.VideoID, &l.Status, &l.Moderator, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan moderation log: %w", err)
		}
		if err := checkStatus(l.Status); err != nil {
			return nil, fmt.Errorf("moderation log %d: %w", l.ID, err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list moderation logs for video %d: %w", videoID, err)
	}
	return out, nil
}
