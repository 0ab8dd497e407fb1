package routes

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coopqueue/guard/internal/auth"
	"github.com/coopqueue/guard/internal/handlers"
	"github.com/coopqueue/guard/internal/models"
	"github.com/coopqueue/guard/internal/services"
	pkghttp "github.com/coopqueue/guard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(mock *handlers.MockGuardService, trustedProxies []string) chi.Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ipConfig := &pkghttp.IPConfig{TrustedProxies: trustedProxies}

	guardHandler := handlers.NewGuardHandler(mock, ipConfig)
	events := services.NewSecurityLogService(&services.MockSecurityLogStore{}, logger, true, models.SeverityInfo)
	adminHandler := handlers.NewAdminHandler(mock, events)
	tokenManager := auth.NewTokenManager("a-sufficiently-long-test-secret", time.Hour)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	RegisterRoutes(router, guardHandler, adminHandler, tokenManager, ipConfig)
	return router
}

func checkRequest(remoteAddr string) *http.Request {
	body := `{"identifier":"user@example.com","attempt_type":"student_login"}`
	req := httptest.NewRequest(http.MethodPost, "/guard/check", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	return req
}

// The client IP keys lockout rows, blacklist promotion, and the rate
// limiter, so forwarding headers from a direct (untrusted) client must
// never override the transport address.
func TestRoutes_SpoofedForwardingHeadersIgnored(t *testing.T) {
	var seenIP string
	mock := &handlers.MockGuardService{
		IsLockedFunc: func(ctx context.Context, identifier string, attemptType models.AttemptType, clientIP string) (bool, error) {
			seenIP = clientIP
			return false, nil
		},
	}
	router := newTestRouter(mock, nil)

	req := checkRequest("203.0.113.66:40000")
	req.Header.Set("X-Real-IP", "198.51.100.1")
	req.Header.Set("X-Forwarded-For", "198.51.100.1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "203.0.113.66", seenIP)
}

func TestRoutes_ForwardingHeadersHonoredFromTrustedProxy(t *testing.T) {
	var seenIP string
	mock := &handlers.MockGuardService{
		IsLockedFunc: func(ctx context.Context, identifier string, attemptType models.AttemptType, clientIP string) (bool, error) {
			seenIP = clientIP
			return false, nil
		},
	}
	router := newTestRouter(mock, []string{"203.0.113.0/24"})

	req := checkRequest("203.0.113.66:40000")
	req.Header.Set("X-Forwarded-For", "198.51.100.1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "198.51.100.1", seenIP)
}
