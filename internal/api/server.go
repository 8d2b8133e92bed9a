package api

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"agency-ops/internal/auth"
	"agency-ops/internal/config"
	"agency-ops/internal/lifecycle"
	"agency-ops/internal/models"
	"agency-ops/internal/ratelimit"
	"agency-ops/internal/telemetry"
)

// Limiter decides whether a caller may make another mutating request.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Archiver receives the ids of jobs that reached a terminal status.
type Archiver interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Server wires HTTP handlers for the job lifecycle API.
type Server struct {
	cfg      config.Config
	engine   *lifecycle.Engine
	verifier *auth.Verifier
	limiter  Limiter
	archive  Archiver
	logger   *slog.Logger
	validate *validator.Validate
}

// New constructs the API server. limiter and archive may be nil.
func New(cfg config.Config, eng *lifecycle.Engine, verifier *auth.Verifier, limiter Limiter, archive Archiver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestLimit <= 0 {
		cfg.RequestLimit = 64 * 1024
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{
		cfg:      cfg,
		engine:   eng,
		verifier: verifier,
		limiter:  limiter,
		archive:  archive,
		logger:   logger,
		validate: validate,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.logRequests, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.Use(s.authenticate)

		admin := r.With(s.requireRole(models.ActorAdmin), s.rateLimit)
		vendor := r.With(s.requireRole(models.ActorVendor), s.rateLimit)

		admin.Post("/", s.handleCreateJob)
		admin.Delete("/{id}", s.handleDeleteJob)
		admin.Post("/{id}/status", s.handleChangeStatus)
		admin.Post("/{id}/start", s.handleStart)
		vendor.Post("/{id}/accept", s.handleAccept)
		vendor.Post("/{id}/reject", s.handleReject)

		r.Get("/{id}", s.handleGetJob)
		r.Get("/{id}/timeline", s.handleTimeline)
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.verifier.FromRequest(r)
		if err != nil {
			s.logger.DebugContext(r.Context(), "authentication failed", slog.Any("error", err))
			writeJSON(w, http.StatusUnauthorized, envelope{Message: "Authentication required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), caller)))
	})
}

func (s *Server) requireRole(role models.Actor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := auth.CallerFrom(r.Context())
			if !ok || caller.Role != role {
				writeJSON(w, http.StatusForbidden, envelope{Message: "This operation requires the " + string(role) + " role"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		caller, _ := auth.CallerFrom(r.Context())
		d, err := s.limiter.Allow(r.Context(), ratelimit.Key(string(caller.Role), caller.ID))
		if err != nil {
			s.logger.ErrorContext(r.Context(), "rate limit check failed", slog.Any("error", err))
			writeJSON(w, http.StatusInternalServerError, envelope{Message: "rate limit error"})
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			if d.RetryAfter > 0 {
				w.Header().Set("Retry-After", retryAfterSeconds(d.RetryAfter))
			}
			writeJSON(w, http.StatusTooManyRequests, envelope{Message: "rate limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "http request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
