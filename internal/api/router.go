package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/profullstack/qryptchat-web-sub004/internal/api/middleware"
	"github.com/profullstack/qryptchat-web-sub004/internal/handlers"
	"github.com/profullstack/qryptchat-web-sub004/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, redisStore *store.RedisStore, sendRateLimit int) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - clients connect from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-QC-User"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/health", h.Health)

	// Everything below acts on behalf of a user
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)

		// Persistent connection; room join/leave/typing ride the socket
		r.Get("/ws", h.Connect)

		// Send path carries its own rate limit
		limiter := middleware.NewSendRateLimiter(redisStore, logger, sendRateLimit)
		r.With(limiter.Middleware).Post("/rooms/{id}/messages", h.SendMessage)

		r.Get("/rooms/{id}/messages", h.ListMessages)
		r.Post("/rooms/{id}/read", h.MarkRead)
		r.Delete("/rooms/{id}/messages/{messageID}", h.DeleteMessage)
		r.Get("/rooms/{id}/expiry", h.GetExpiryPolicy)
		r.Put("/rooms/{id}/expiry", h.UpdateExpiryPolicy)

		// Operational: run one sweep now
		r.Post("/sweep", h.RunSweep)
	})

	return r
}
