package api

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"content-protection/internal/auth"
	"content-protection/internal/config"
	"content-protection/internal/models"
	"content-protection/internal/protection"
	"content-protection/internal/ratelimit"
	"content-protection/internal/telemetry"
)

// JobReader is the read side of the job store.
type JobReader interface {
	GetJob(ctx context.Context, id, ownerID string) (*models.ProtectionJob, error)
	ListJobs(ctx context.Context, ownerID string) iter.Seq2[models.JobSummary, error]
}

// AnalysisReader serves finalized detection records.
type AnalysisReader interface {
	ListAnalyses(ctx context.Context, ownerID string) ([]models.AnalysisRecord, error)
	GetAnalysis(ctx context.Context, id, ownerID string) (models.AnalysisRecord, error)
	AnalysisStatistics(ctx context.Context, ownerID string) (models.AnalysisStatistics, error)
}

// Protector runs protection jobs.
type Protector interface {
	Submit(ctx context.Context, req protection.SubmitRequest) (*models.ProtectionJob, error)
}

// Limiter throttles submissions per user.
type Limiter interface {
	Allow(ctx context.Context, userID string) (ratelimit.Decision, error)
}

// MediaFiles opens locally stored media by key.
type MediaFiles interface {
	Open(key string) (*os.File, error)
}

// MediaSigner checks signed media links.
type MediaSigner interface {
	Verify(key, expires, sig string) error
}

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Jobs      JobReader
	Analyses  AnalysisReader
	Protector Protector
	Sessions  auth.Resolver
	Limiter   Limiter
	Media     MediaFiles
	Signer    MediaSigner
	Logger    zerolog.Logger
}

// Server wires HTTP handlers for the protection API.
type Server struct {
	cfg  config.Config
	deps Deps
	log  zerolog.Logger
}

// New constructs the API server.
func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())
	r.Get("/media/*", s.handleMedia)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.deps.Sessions, s.authError))

		r.Route("/protection", func(r chi.Router) {
			r.With(s.rateLimit).Post("/image", s.handleProtectImage)
			r.With(s.rateLimit).Post("/video", s.handleProtectVideo)
			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/{job_id}", s.handleGetJob)
		})

		r.Route("/detection", func(r chi.Router) {
			r.Get("/records", s.handleListRecords)
			r.Get("/records/{record_id}", s.handleGetRecord)
			r.Get("/statistics", s.handleStatistics)
		})
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) authError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("session lookup failed")
		writeError(w, status, "authentication service unavailable")
		return
	}
	writeError(w, status, err.Error())
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		userID, _ := auth.UserIDFromContext(r.Context())
		d, err := s.deps.Limiter.Allow(r.Context(), userID)
		if err != nil {
			s.log.Error().Err(err).Msg("rate limit check failed")
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			if secs := int(d.RetryAfter.Seconds() + 0.999); secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}
