package models

import (
	"time"
)

// VideoStatus enumerates moderation states persisted in Postgres.
type VideoStatus string

const (
	StatusPending VideoStatus = "pending"
	StatusSpam    VideoStatus = "spam"
	StatusNotSpam VideoStatus = "not spam"
)

// Valid reports whether s is one of the persisted statuses.
func (s VideoStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSpam, StatusNotSpam:
		return true
	}
	return false
}

// Terminal reports whether s is a moderation verdict a moderator may set.
func (s VideoStatus) Terminal() bool {
	return s == StatusSpam || s == StatusNotSpam
}

// Video is a row of the moderation queue. AssignedTo is only set while the
// video is pending and held by a moderator.
type Video struct {
	ID         int64       `json:"id"`
	VideoID    int64       `json:"video_id"`
	Status     VideoStatus `json:"status"`
	AssignedTo *string     `json:"assigned_to,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// AssignedToModerator reports whether the video is held by moderator.
func (v Video) AssignedToModerator(moderator string) bool {
	return v.AssignedTo != nil && *v.AssignedTo == moderator
}

// ModerationLog is one append-only verdict recorded against a video.
type ModerationLog struct {
	ID        int64       `json:"id"`
	VideoID   int64       `json:"video_id"`
	Status    VideoStatus `json:"status"`
	Moderator string      `json:"moderator"`
	CreatedAt time.Time   `json:"created_at"`
}

// Stats is a point-in-time count of videos per status.
type Stats struct {
	Pending int64 `json:"total_pending_videos"`
	Spam    int64 `json:"total_spam_videos"`
	NotSpam int64 `json:"total_not_spam_videos"`
}
