package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"moderation-queue/internal/models"
	"moderation-queue/internal/moderation"
)

const readyTimeout = 2 * time.Second

type addVideoRequest struct {
	VideoID *int64 `json:"video_id" validate:"required,gt=0"`
}

type videoResponse struct {
	VideoID int64 `json:"video_id"`
}

type flagVideoRequest struct {
	VideoID *int64              `json:"video_id" validate:"required,gt=0"`
	Status  *models.VideoStatus `json:"status" validate:"required,verdict"`
}

type flagVideoResponse struct {
	VideoID int64              `json:"video_id"`
	Status  models.VideoStatus `json:"status"`
}

type logEntry struct {
	Date      time.Time          `json:"date"`
	Status    models.VideoStatus `json:"status"`
	Moderator string             `json:"moderator"`
}

func (s *Server) handleAddVideo(w http.ResponseWriter, r *http.Request) {
	var req addVideoRequest
	if !decodeBody(w, r, &req) || !validateRequest(w, &req) {
		return
	}

	if _, err := s.svc.AddVideo(r.Context(), *req.VideoID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, videoResponse{VideoID: *req.VideoID})
}

func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.ClaimVideo(r.Context(), moderatorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, videoResponse{VideoID: v.VideoID})
}

func (s *Server) handleFlagVideo(w http.ResponseWriter, r *http.Request) {
	var req flagVideoRequest
	if !decodeBody(w, r, &req) || !validateRequest(w, &req) {
		return
	}

	v, err := s.svc.FlagVideo(r.Context(), *req.VideoID, *req.Status, moderatorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flagVideoResponse{VideoID: v.VideoID, Status: v.Status})
}

// handleReady reports 503 while the database is unreachable so load
// balancers stop routing to this instance.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := s.svc.Ping(ctx); err != nil {
		s.log.WithError(err).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLogVideo(w http.ResponseWriter, r *http.Request) {
	videoID, err := strconv.ParseInt(chi.URLParam(r, "videoID"), 10, 64)
	if err != nil || validate.Var(videoID, "gt=0") != nil {
		writeError(w, http.StatusUnprocessableEntity, fieldMessages["video_id"])
		return
	}
	logs, err := s.svc.History(r.Context(), videoID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]logEntry, 0, len(logs))
	for _, l := range logs {
		out = append(out, logEntry{Date: l.CreatedAt, Status: l.Status, Moderator: l.Moderator})
	}
	writeJSON(w, http.StatusOK, out)
}

// writeServiceError maps moderation outcomes to status codes. Anything that is
// not a business outcome is a 500 and gets logged with the request context.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var code int
	switch {
	case errors.Is(err, moderation.ErrAlreadyExists):
		code = http.StatusConflict
	case errors.Is(err, moderation.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, moderation.ErrNoneAvailable):
		code = http.StatusNotFound
	case errors.Is(err, moderation.ErrNotAssigned):
		code = http.StatusForbidden
	case errors.Is(err, moderation.ErrAlreadyResolved):
		code = http.StatusConflict
	case errors.Is(err, moderation.ErrInvalidStatus):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, moderation.ErrInvalidModerator):
		code = http.StatusUnauthorized
	default:
		s.log.WithError(err).WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"moderator": moderatorFrom(r.Context()),
		}).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeError(w, code, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid json body")
		return false
	}
	return true
}
