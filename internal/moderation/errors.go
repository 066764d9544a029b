package moderation

import (
	"errors"
	"fmt"

	"moderation-queue/internal/models"
)

// Business outcomes returned by Service. Callers match them with errors.Is
// and read the context fields with errors.As(err, *Error).
var (
	ErrAlreadyExists   = errors.New("video already exists")
	ErrNotFound        = errors.New("video not found")
	ErrNoneAvailable   = errors.New("no video available for moderation")
	ErrNotAssigned     = errors.New("video not assigned to moderator")
	ErrAlreadyResolved = errors.New("video already moderated")
	ErrInvalidStatus   = errors.New("invalid moderation status")
	// ErrInvalidModerator rejects an empty moderator name.
	ErrInvalidModerator = errors.New("moderator name is required")
	// ErrInternal means a conditional write failed although the row passed
	// validation. It points at a store or logic bug, not a client mistake.
	ErrInternal = errors.New("moderation state inconsistency")
)

// Error carries the context of a business outcome. Kind is one of the Err*
// sentinels above.
type Error struct {
	Kind      error
	VideoID   int64
	Moderator string
	// Status is the video's current status for ErrAlreadyResolved and the
	// rejected input for ErrInvalidStatus.
	Status models.VideoStatus
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrAlreadyExists:
		return fmt.Sprintf("video %d already exists in the queue", e.VideoID)
	case ErrNotFound:
		return fmt.Sprintf("video %d not found", e.VideoID)
	case ErrNoneAvailable:
		return "no video available for moderation"
	case ErrNotAssigned:
		return fmt.Sprintf("video %d is not assigned to moderator %s", e.VideoID, e.Moderator)
	case ErrAlreadyResolved:
		return fmt.Sprintf("video %d has already been moderated (status: %s)", e.VideoID, e.Status)
	case ErrInvalidStatus:
		return fmt.Sprintf("invalid moderation status %q", e.Status)
	case ErrInvalidModerator:
		return "moderator name is required"
	case ErrInternal:
		return fmt.Sprintf("video %d: conditional update by %s matched no row after validation passed", e.VideoID, e.Moderator)
	default:
		return fmt.Sprintf("moderation error on video %d", e.VideoID)
	}
}

func (e *Error) Unwrap() error { return e.Kind }
