package routes

import (
	"github.com/coopqueue/guard/internal/auth"
	"github.com/coopqueue/guard/internal/handlers"
	"github.com/coopqueue/guard/internal/middleware"
	pkghttp "github.com/coopqueue/guard/pkg/http"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	guardHandler *handlers.GuardHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	ipConfig *pkghttp.IPConfig,
) {
	// Rate limiting config for the public guard endpoints
	rateLimitConfig := middleware.DefaultGuardRateLimit()

	// Public routes - called by login handlers around credential checks
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig, ipConfig))

		r.Post("/guard/check", guardHandler.Check)
		r.Post("/guard/attempts/failed", guardHandler.RecordFailed)
		r.Post("/guard/attempts/success", guardHandler.RecordSuccess)
		r.Post("/guard/captcha", guardHandler.GenerateCaptcha)
		r.Post("/guard/captcha/verify", guardHandler.VerifyCaptcha)
	})

	// Operator routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireOperator(tokenManager))

		r.Get("/admin/status", adminHandler.Status)
		r.Get("/admin/events", adminHandler.Events)
		r.Post("/admin/unlock", adminHandler.Unlock)
		r.Post("/admin/ip/block", adminHandler.BlockIP)
		r.Post("/admin/ip/unblock", adminHandler.UnblockIP)
	})
}
