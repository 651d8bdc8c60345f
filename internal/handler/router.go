package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orbitos/conversation-platform/internal/middleware"
	"github.com/orbitos/conversation-platform/pkg/logger"
)

// RouterConfig wires handlers and middleware settings into the router.
type RouterConfig struct {
	Logger *logger.Logger

	// AuthDisabled resolves callers from headers instead of JWTs.
	AuthDisabled          bool
	JWTSecret             string
	DefaultOrganizationID string

	CORSAllowedOrigins []string
	RateLimitRequests  int
	InvokeRateLimit    int
	RateLimitWindow    time.Duration

	Health        *HealthHandler
	Organizations *OrganizationHandler
	Agents        *AgentHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Stream        *StreamHandler
}

// NewRouter builds the HTTP routes of the API server.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.AuthDisabled {
			r.Use(middleware.Anonymous(cfg.DefaultOrganizationID))
		} else {
			r.Use(middleware.Auth(cfg.JWTSecret))
		}
		r.Use(middleware.RecordIdentity)
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/organizations", func(r chi.Router) {
			r.With(middleware.RequireScope(middleware.ScopeAdmin)).Post("/", cfg.Organizations.Create)
			r.With(middleware.RequireScope(middleware.ScopeAdmin)).Get("/", cfg.Organizations.List)
			r.Get("/{id}", cfg.Organizations.Get)
		})

		r.Route("/agents", func(r chi.Router) {
			r.Post("/", cfg.Agents.Create)
			r.Get("/", cfg.Agents.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cfg.Agents.Get)
				r.Put("/", cfg.Agents.Update)
				r.Delete("/", cfg.Agents.Delete)
			})
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", cfg.Conversations.Create)
			r.Get("/", cfg.Conversations.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cfg.Conversations.Get)
				r.Put("/", cfg.Conversations.Update)
				r.Delete("/", cfg.Conversations.Delete)
				r.Put("/settings", cfg.Conversations.UpdateSettings)
				r.Post("/pause", cfg.Conversations.Pause)
				r.Post("/resume", cfg.Conversations.Resume)

				// Messages
				r.Get("/messages", cfg.Messages.List)
				r.Post("/messages", cfg.Messages.Send)
				r.With(middleware.UserRateLimit(cfg.InvokeRateLimit, cfg.RateLimitWindow)).
					Post("/invoke", cfg.Messages.Invoke)

				// Streaming
				r.Get("/stream", cfg.Stream.Stream)
			})
		})
	})

	return r
}
