package middleware

import (
	"net/http"
	"strings"

	"docsign-engine/backend/internal/platform/httpx"
	"docsign-engine/backend/internal/security"
)

const bearerPrefix = "bearer "

// RequireBearer validates the Bearer access token and stores the caller's identity in the
// request context. Requests without a valid token get 401.
func RequireBearer(tokens *security.TokenProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid authorization", nil)
				return
			}
			userID, role, err := tokens.ValidateAccess(token)
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid authorization", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, role)))
		})
	}
}

// extractBearer returns the Bearer token from the Authorization header, or "" if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
