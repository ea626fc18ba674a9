package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/casewire/collab-server-go/internal/util"
)

// InternalAuthMiddleware guards the internal API with a shared secret.
// Callers are other backend services, not browsers, so a static bearer
// token compared in constant time is enough.
type InternalAuthMiddleware struct {
	secret string
}

func NewInternalAuthMiddleware(secret string) *InternalAuthMiddleware {
	return &InternalAuthMiddleware{secret: secret}
}

func (m *InternalAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		if !util.ConstantTimeEqual(token, m.secret) {
			log.Warn().Str("path", r.URL.Path).Msg("internal auth: invalid secret attempt")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
