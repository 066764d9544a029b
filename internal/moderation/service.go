package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"moderation-queue/internal/models"
	"moderation-queue/internal/store"
	"moderation-queue/internal/telemetry"
)

// errLostRace marks a conditional resolve that matched no row.
var errLostRace = errors.New("resolve precondition no longer holds")

// Service implements the moderation queue on top of the store. It keeps no
// queue state of its own; every guarantee comes from Postgres locks and
// predicated writes, so any number of instances can serve requests.
type Service struct {
	repo        Repository
	lockBaseKey int64
	log         logrus.FieldLogger
}

// NewService builds a Service on a Postgres store. lockBaseKey namespaces the
// per-moderator advisory locks for databases shared with other applications.
func NewService(st *store.Store, lockBaseKey int64, log logrus.FieldLogger) *Service {
	return NewServiceWithRepository(NewPostgresRepository(st), lockBaseKey, log)
}

// NewServiceWithRepository builds a Service on any Repository.
func NewServiceWithRepository(repo Repository, lockBaseKey int64, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		repo:        repo,
		lockBaseKey: lockBaseKey,
		log:         log.WithField("component", "moderation"),
	}
}

// AddVideo queues a new pending video.
func (s *Service) AddVideo(ctx context.Context, videoID int64) (models.Video, error) {
	v, err := s.repo.InsertVideo(ctx, videoID)
	if errors.Is(err, store.ErrDuplicateKey) {
		s.log.WithField("video_id", videoID).Warn("attempted to add duplicate video")
		return models.Video{}, &Error{Kind: ErrAlreadyExists, VideoID: videoID}
	}
	if err != nil {
		return models.Video{}, fmt.Errorf("add video: %w", err)
	}
	telemetry.VideosAdded.Inc()
	s.log.WithField("video_id", videoID).Info("video added with status pending")
	return v, nil
}

// ClaimVideo returns the video moderator is working on, assigning the oldest
// free one if they hold none. Claims from one moderator are serialised by a
// transaction-scoped advisory lock, so repeated calls return the same video
// until it is flagged.
func (s *Service) ClaimVideo(ctx context.Context, moderator string) (models.Video, error) {
	if moderator == "" {
		return models.Video{}, &Error{Kind: ErrInvalidModerator}
	}
	lockKey := ModeratorLockKey(s.lockBaseKey, moderator)

	var claimed models.Video
	var returned bool
	err := s.repo.InTx(ctx, func(tx Repository) error {
		if err := tx.AdvisoryXactLock(ctx, lockKey); err != nil {
			return err
		}

		held, err := tx.GetAssignedVideo(ctx, moderator)
		if err == nil {
			claimed, returned = held, true
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		next, err := tx.ClaimNextVideo(ctx, moderator)
		if err != nil {
			return err
		}
		claimed = next
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		telemetry.Claims.WithLabelValues(telemetry.ClaimNoneLeft).Inc()
		s.log.WithField("moderator", moderator).Info("no video available for moderator")
		return models.Video{}, &Error{Kind: ErrNoneAvailable, Moderator: moderator}
	}
	if err != nil {
		return models.Video{}, fmt.Errorf("claim video for %s: %w", moderator, err)
	}

	fields := logrus.Fields{"video_id": claimed.VideoID, "moderator": moderator}
	if returned {
		telemetry.Claims.WithLabelValues(telemetry.ClaimReturned).Inc()
		s.log.WithFields(fields).Info("returning already assigned video")
	} else {
		telemetry.Claims.WithLabelValues(telemetry.ClaimAssigned).Inc()
		s.log.WithFields(fields).Info("assigned video")
	}
	return claimed, nil
}

// FlagVideo records moderator's verdict on a video they hold. The status
// change and its log entry commit together, and only if the video is still
// pending and assigned to moderator when the write runs.
func (s *Service) FlagVideo(ctx context.Context, videoID int64, status models.VideoStatus, moderator string) (models.Video, error) {
	if moderator == "" {
		return models.Video{}, &Error{Kind: ErrInvalidModerator, VideoID: videoID}
	}
	if !status.Terminal() {
		return models.Video{}, &Error{Kind: ErrInvalidStatus, VideoID: videoID, Moderator: moderator, Status: status}
	}

	current, err := s.repo.GetVideo(ctx, videoID)
	if err != nil {
		return models.Video{}, s.lookupErr(videoID, err)
	}
	if err := s.checkFlaggable(current, moderator); err != nil {
		return models.Video{}, err
	}

	var updated models.Video
	err = s.repo.InTx(ctx, func(tx Repository) error {
		v, err := tx.ResolveIfClaimed(ctx, videoID, status, moderator)
		if errors.Is(err, store.ErrNotFound) {
			return errLostRace
		}
		if err != nil {
			return err
		}
		if _, err := tx.InsertLog(ctx, videoID, status, moderator); err != nil {
			return err
		}
		updated = v
		return nil
	})
	if err == nil {
		telemetry.Flags.WithLabelValues(string(status)).Inc()
		s.log.WithFields(logrus.Fields{
			"video_id":  videoID,
			"status":    status,
			"moderator": moderator,
		}).Info("video flagged")
		return updated, nil
	}
	if !errors.Is(err, errLostRace) {
		return models.Video{}, fmt.Errorf("flag video %d: %w", videoID, err)
	}

	// Someone changed the row between validation and the write. Re-validate
	// against the fresh row to report what actually happened.
	current, err = s.repo.GetVideo(ctx, videoID)
	if err != nil {
		return models.Video{}, s.lookupErr(videoID, err)
	}
	if err := s.checkFlaggable(current, moderator); err != nil {
		return models.Video{}, err
	}

	telemetry.InternalErrors.Inc()
	s.log.WithFields(logrus.Fields{
		"video_id":    videoID,
		"status":      status,
		"moderator":   moderator,
		"row_status":  current.Status,
		"assigned_to": current.AssignedTo,
		"updated_at":  current.UpdatedAt,
	}).Error("conditional resolve matched no row although the video validates")
	return models.Video{}, &Error{Kind: ErrInternal, VideoID: videoID, Moderator: moderator, Status: current.Status}
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Stats returns the number of videos per status.
func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	stats, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return models.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

// History returns the moderation log of a video, oldest first.
func (s *Service) History(ctx context.Context, videoID int64) ([]models.ModerationLog, error) {
	if _, err := s.repo.GetVideo(ctx, videoID); err != nil {
		return nil, s.lookupErr(videoID, err)
	}
	logs, err := s.repo.ListLogs(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("history of video %d: %w", videoID, err)
	}
	return logs, nil
}

// checkFlaggable validates a flag attempt. A resolved video always has no
// assignee, so the status check runs first to avoid reporting "not yours" for
// a video that is simply done.
func (s *Service) checkFlaggable(v models.Video, moderator string) error {
	if v.Status != models.StatusPending {
		telemetry.FlagRejects.WithLabelValues("already_moderated").Inc()
		s.log.WithFields(logrus.Fields{"video_id": v.VideoID, "status": v.Status}).Warn("flag attempt on already moderated video")
		return &Error{Kind: ErrAlreadyResolved, VideoID: v.VideoID, Moderator: moderator, Status: v.Status}
	}
	if !v.AssignedToModerator(moderator) {
		telemetry.FlagRejects.WithLabelValues("not_assigned").Inc()
		s.log.WithFields(logrus.Fields{"video_id": v.VideoID, "moderator": moderator, "assigned_to": v.AssignedTo}).Warn("moderator tried to flag a video they do not hold")
		return &Error{Kind: ErrNotAssigned, VideoID: v.VideoID, Moderator: moderator}
	}
	return nil
}

func (s *Service) lookupErr(videoID int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Kind: ErrNotFound, VideoID: videoID}
	}
	return fmt.Errorf("look up video %d: %w", videoID, err)
}
