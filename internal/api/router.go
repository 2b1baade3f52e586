package api

import (
	"net/http"

	"github.com/Rrens/vault-chat/internal/api/handler"
	customMiddleware "github.com/Rrens/vault-chat/internal/api/middleware"
	"github.com/Rrens/vault-chat/internal/config"
	"github.com/Rrens/vault-chat/internal/security"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// NewRouter creates and configures the HTTP router. deps are pinged by the
// readiness probe.
func NewRouter(cfg *config.Config, chat handler.ChatService, deps map[string]handler.Pinger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.Server.MiddlewareTimeout > 0 {
		r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))
	}

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	sessionHandler := handler.NewSessionHandler(chat)
	turnHandler := handler.NewTurnHandler(chat)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps))

		r.Group(func(r chi.Router) {
			if cfg.Auth.JWTSecret != "" {
				jwtManager := security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
				r.Use(customMiddleware.NewAuthMiddleware(jwtManager).Authenticate)
			} else {
				log.Warn().Msg("auth.jwt_secret is empty, API is unauthenticated")
			}

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)
				r.Post("/", sessionHandler.Create)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)
					r.Put("/", sessionHandler.Rename)
					r.Delete("/", sessionHandler.Delete)
					r.Get("/messages", sessionHandler.Messages)

					r.Post("/turns", turnHandler.Start)
					r.Get("/turns/current", turnHandler.Current)
					r.Post("/cancel", turnHandler.Cancel)
				})
			})
		})
	})

	return r
}
