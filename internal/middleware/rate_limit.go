package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/coopqueue/guard/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds surface rate limiting configuration. This is a
// coarse per-IP throttle on the HTTP surface itself; the attempt ledger
// does the per-identifier accounting.
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultGuardRateLimit returns the default limit for public guard
// endpoints (30 requests per minute: callers hit the guard several
// times per login flow).
func DefaultGuardRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// The key comes from the same trust-aware extraction the ledgers use, so
// a forged forwarding header cannot move a caller into a fresh bucket.
func RateLimitByIP(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Rate limit exceeded"}`))
		}),
	)
}
