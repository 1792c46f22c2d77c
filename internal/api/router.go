package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/safenest/safenest/internal/api/middleware"
	"github.com/safenest/safenest/internal/gateway"
	"github.com/safenest/safenest/internal/handlers"
	"github.com/safenest/safenest/internal/store"
)

// NewRouter creates and configures the HTTP router. redisClient may be nil in
// development; the connection rate limiter then passes everything through.
func NewRouter(logger zerolog.Logger, db store.DataStore, redisStore *store.RedisStore, gw *gateway.Gateway, moderation handlers.HealthProber, internalToken string) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(32 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - clients connect from the app's web origin and mobile shells
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var redisClient *redis.Client
	if redisStore != nil {
		redisClient = redisStore.Client()
	}

	h := handlers.NewHandler(db, redisStore, moderation, gw)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/healthz", h.Health)

	// The websocket entry point, rate limited per IP so connection churn
	// cannot starve the gateway.
	limiter := middleware.NewRateLimiter(redisClient, logger, 30, time.Minute)
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Get("/ws", gw.ServeWS)
	})

	// Internal fan-out API for the chat-administration service.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireInternalToken(internalToken))
		r.Post("/internal/rooms/{id}/created", h.ChatCreated)
		r.Post("/internal/rooms/{id}/participants", h.ParticipantsAdded)
	})

	return r
}
