package api

import (
	"net/http"
	"time"

	"github.com/Rrens/codeshare/internal/api/handler"
	customMiddleware "github.com/Rrens/codeshare/internal/api/middleware"
	"github.com/Rrens/codeshare/internal/assist"
	"github.com/Rrens/codeshare/internal/collab"
	"github.com/Rrens/codeshare/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps holds everything the router serves. Limiter, Analyzer, Registry and
// Socket are optional.
type Deps struct {
	AuthService      *service.AuthService
	WorkspaceService *service.WorkspaceService
	Verifier         customMiddleware.Verifier
	Limiter          customMiddleware.Limiter
	Analyzer         assist.Analyzer
	Store            handler.Pinger
	Registry         *collab.Registry
	Socket           http.Handler

	RequestTimeout time.Duration
	AllowedOrigins []string
}

// NewRouter creates and configures the HTTP router
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// The socket outlives any request timeout
	if deps.Socket != nil {
		r.Method(http.MethodGet, "/ws", deps.Socket)
	}

	authHandler := handler.NewAuthHandler(deps.AuthService)
	workspaceHandler := handler.NewWorkspaceHandler(deps.WorkspaceService, deps.Analyzer)
	authMiddleware := customMiddleware.NewAuthMiddleware(deps.Verifier)

	r.Route("/api/v1", func(r chi.Router) {
		if deps.RequestTimeout > 0 {
			r.Use(middleware.Timeout(deps.RequestTimeout))
		}

		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Store, deps.Registry))

		// Auth routes (public)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			if deps.Limiter != nil {
				r.Use(customMiddleware.NewRateLimitMiddleware(deps.Limiter).Limit)
			}

			r.Get("/auth/me", authHandler.Me)

			r.Route("/workspaces", func(r chi.Router) {
				r.Get("/", workspaceHandler.List)
				r.Post("/", workspaceHandler.Create)

				r.Route("/{workspaceID}", func(r chi.Router) {
					r.Use(customMiddleware.WorkspaceContext)

					r.Get("/", workspaceHandler.Get)
					r.Patch("/", workspaceHandler.Update)
					r.Delete("/", workspaceHandler.Delete)

					r.Post("/collaborators", workspaceHandler.AddCollaborator)
					r.Delete("/collaborators/{userID}", workspaceHandler.RemoveCollaborator)

					r.Post("/access", workspaceHandler.VerifyAccess)
					r.Get("/history", workspaceHandler.History)
					r.Get("/participants", workspaceHandler.Participants)
					r.Post("/analyze", workspaceHandler.Analyze)
				})
			})
		})
	})

	return r
}
