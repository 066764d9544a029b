package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"moderation-queue/internal/models"
	"moderation-queue/internal/telemetry"
)

// Moderation is the queue behaviour the HTTP layer needs.
type Moderation interface {
	AddVideo(ctx context.Context, videoID int64) (models.Video, error)
	ClaimVideo(ctx context.Context, moderator string) (models.Video, error)
	FlagVideo(ctx context.Context, videoID int64, status models.VideoStatus, moderator string) (models.Video, error)
	Stats(ctx context.Context) (models.Stats, error)
	History(ctx context.Context, videoID int64) ([]models.ModerationLog, error)
	Ping(ctx context.Context) error
}

// Limiter rations requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Server wires HTTP handlers for the moderation API.
type Server struct {
	svc     Moderation
	limiter Limiter
	log     logrus.FieldLogger
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(svc Moderation, limiter Limiter, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		svc:     svc,
		limiter: limiter,
		log:     log.WithField("component", "api"),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", s.handleReady)

	r.Post("/add_video", s.handleAddVideo)
	r.Get("/stats", s.handleStats)
	r.Get("/log_video/{videoID}", s.handleLogVideo)

	r.Group(func(r chi.Router) {
		r.Use(s.requireModerator)
		r.Use(s.rateLimit)
		r.Get("/get_video", s.handleGetVideo)
		r.Post("/flag_video", s.handleFlagVideo)
	})
	return r
}

type moderatorKey struct{}

func moderatorFrom(ctx context.Context) string {
	m, _ := ctx.Value(moderatorKey{}).(string)
	return m
}

// requireModerator decodes the moderator name from a base64 Authorization
// header. Identity is asserted by the caller, not verified here.
func (s *Server) requireModerator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		moderator, ok := decodeModerator(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid Authorization header. Expected base64-encoded moderator name.")
			return
		}
		ctx := context.WithValue(r.Context(), moderatorKey{}, moderator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func decodeModerator(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil || !utf8.Valid(raw) {
		return "", false
	}
	name := string(raw)
	if strings.TrimSpace(name) == "" {
		return "", false
	}
	return name, true
}

// rateLimit spends one token of the moderator's bucket. It fails open when
// Redis is unreachable so moderation keeps working without it.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		moderator := moderatorFrom(r.Context())
		allowed, _, err := s.limiter.Allow(r.Context(), "moderator:"+moderator)
		if err != nil {
			s.log.WithError(err).WithField("moderator", moderator).Warn("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
		}).Debug("request served")
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

const maxBodyBytes = 1 << 16
