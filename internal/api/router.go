package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/auth"
	"github.com/pipsignal/backend/internal/middleware"
	"github.com/pipsignal/backend/pkg/response"
)

// Handlers groups every HTTP handler the router mounts.
type Handlers struct {
	Notifications *NotificationHandler
	Push          *PushHandler
	Preferences   *PreferenceHandler
	Tokens        *TokenHandler
	Realtime      *RealtimeHandler
	Health        *HealthHandler
}

// Router holds all handlers and creates the chi router
type Router struct {
	handlers       Handlers
	jwtManager     *auth.JWTManager
	limiter        *middleware.RateLimiter
	serviceKey     string
	allowedOrigins []string
	logger         *zap.Logger
}

// NewRouter creates a new router. A nil limiter disables rate limiting.
func NewRouter(
	handlers Handlers,
	jwtManager *auth.JWTManager,
	limiter *middleware.RateLimiter,
	serviceKey string,
	allowedOrigins []string,
	logger *zap.Logger,
) *Router {
	return &Router{
		handlers:       handlers,
		jwtManager:     jwtManager,
		limiter:        limiter,
		serviceKey:     serviceKey,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

func (rt *Router) rateLimit(next http.Handler) http.Handler {
	if rt.limiter == nil {
		return next
	}
	return rt.limiter.Limit(next)
}

// functionRateLimit rejects with the function's plain error shape.
func (rt *Router) functionRateLimit(next http.Handler) http.Handler {
	if rt.limiter == nil {
		return next
	}
	return rt.limiter.LimitWith(func(w http.ResponseWriter) {
		response.Plain(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
	})(next)
}

// Setup configures and returns the chi router
func (rt *Router) Setup() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RecoveryMiddleware(rt.logger))
	r.Use(middleware.LoggingMiddleware(rt.logger))

	// Edge function: its own fixed CORS headers, plain JSON bodies
	r.Route("/functions/v1", func(r chi.Router) {
		r.Use(middleware.FunctionCORS)
		r.Use(rt.functionRateLimit)
		r.Post("/send-push-notification", rt.handlers.Push.Send)
		// Answered by FunctionCORS
		r.Options("/send-push-notification", func(http.ResponseWriter, *http.Request) {})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.CORSMiddleware(rt.allowedOrigins))

		// Health endpoints (no auth required)
		r.Route("/health", func(r chi.Router) {
			r.Get("/", rt.handlers.Health.Health)
			r.Get("/ready", rt.handlers.Health.Ready)
			r.Get("/live", rt.handlers.Health.Live)
		})

		r.Route("/api/v1", func(r chi.Router) {
			// Service-to-service routes
			r.Route("/internal", func(r chi.Router) {
				r.Use(middleware.ServiceKeyMiddleware(rt.serviceKey))
				r.Post("/notifications", rt.handlers.Notifications.Create)
			})

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.AuthMiddleware(rt.jwtManager))

				r.Get("/realtime", rt.handlers.Realtime.Connect)

				r.Group(func(r chi.Router) {
					r.Use(rt.rateLimit)
					r.Use(chimiddleware.Compress(5))

					r.Route("/notifications", func(r chi.Router) {
						r.Get("/", rt.handlers.Notifications.List)
						r.Get("/unread-count", rt.handlers.Notifications.UnreadCount)
						r.Put("/read-all", rt.handlers.Notifications.MarkAllRead)
						r.Put("/{id}/read", rt.handlers.Notifications.MarkRead)
						r.Delete("/{id}", rt.handlers.Notifications.Delete)
					})

					r.Get("/notification-preferences", rt.handlers.Preferences.Get)
					r.Put("/notification-preferences", rt.handlers.Preferences.Update)

					r.Post("/push-tokens", rt.handlers.Tokens.Register)
					r.Delete("/push-tokens", rt.handlers.Tokens.Unregister)
				})
			})
		})
	})

	return r
}
