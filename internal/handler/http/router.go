package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/bookshelf/internal/service"
	"github.com/utafrali/bookshelf/pkg/health"
	"github.com/utafrali/bookshelf/pkg/middleware"
)

// RouterConfig holds the cross-cutting pieces of the HTTP surface.
type RouterConfig struct {
	ServiceName string
	CORS        middleware.CORSConfig
	Validate    middleware.TokenValidator
	// Limiter budgets write and toggle routes. Nil disables rate limiting.
	Limiter    middleware.Limiter
	PprofCIDRs []string
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Services bundles the business services behind the handlers.
type Services struct {
	Books   *service.BookService
	Reviews *service.ReviewService
	Ledger  *service.InteractionLedger
	Users   *service.UserService
}

// NewRouter creates a chi router with all bookshelf routes registered.
func NewRouter(svc Services, healthHandler *health.Handler, cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	auth := middleware.Auth(cfg.Validate)
	optionalAuth := middleware.OptionalAuth(cfg.Validate)
	limited := func(next http.Handler) http.Handler { return next }
	if cfg.Limiter != nil {
		limited = middleware.RateLimit(cfg.Limiter, middleware.UserOrIPKey, logger)
	}

	bookHandler := NewBookHandler(svc.Books, logger)
	reviewHandler := NewReviewHandler(svc.Reviews, svc.Ledger, logger)
	userHandler := NewUserHandler(svc.Users, logger)

	r.Route("/api/v1/books", func(r chi.Router) {
		r.With(optionalAuth).Get("/", bookHandler.ListBooks)
		r.With(optionalAuth).Get("/{id}", bookHandler.GetBook)
		r.Get("/{id}/reviews", reviewHandler.ListBookReviews)
		r.With(auth, limited).Post("/{id}/reviews", reviewHandler.CreateReview)

		r.Group(func(r chi.Router) {
			r.Use(auth, middleware.RequireRole(middleware.RoleAdmin))
			r.Post("/", bookHandler.CreateBook)
			r.Patch("/{id}", bookHandler.UpdateBook)
			r.Delete("/{id}", bookHandler.DeleteBook)
			r.Post("/{id}/rating/recompute", bookHandler.RecomputeRating)
		})
	})

	r.Route("/api/v1/reviews/{id}", func(r chi.Router) {
		r.With(optionalAuth).Get("/", reviewHandler.GetReview)

		r.Group(func(r chi.Router) {
			r.Use(auth, limited)
			r.Patch("/", reviewHandler.UpdateReview)
			r.Delete("/", reviewHandler.DeleteReview)
			r.Post("/helpful", reviewHandler.ToggleHelpful)
			r.Post("/like", reviewHandler.ToggleLike)
		})
	})

	r.Route("/api/v1/users", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth, middleware.NoStore)
			r.Get("/me", userHandler.GetMe)
			r.With(limited).Put("/me", userHandler.UpsertMe)
		})
		r.Get("/{id}", userHandler.GetProfile)
		r.Get("/{id}/reviews", reviewHandler.ListUserReviews)
	})

	return r
}
