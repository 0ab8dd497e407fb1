package auth

import (
	"context"
	"net/http"
	"strings"

	pkghttp "github.com/coopqueue/guard/pkg/http"
)

type contextKey string

const operatorContextKey contextKey = "operator"

// RequireOperator guards admin routes with a bearer token check
func RequireOperator(tm *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				pkghttp.WriteUnauthorized(w, "Authorization header required")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				pkghttp.WriteUnauthorized(w, "Bearer token required")
				return
			}

			claims, err := tm.ValidateToken(parts[1])
			if err != nil {
				pkghttp.WriteUnauthorized(w, "Invalid or expired token")
				return
			}

			if claims.Role != "admin" {
				pkghttp.WriteForbidden(w, "Operator access required")
				return
			}

			ctx := context.WithValue(r.Context(), operatorContextKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromContext returns the authenticated operator subject, if any
func OperatorFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(operatorContextKey).(string)
	return subject, ok
}
