package middleware

import (
	"net/http"
	"strings"

	"github.com/alexedwards/argon2id"
)

// RequireStaffToken guards staff-only routes with a bearer token compared
// against an argon2id hash. The plain token never lives in configuration.
func RequireStaffToken(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" || tokenHash == "" {
				deny(w)
				return
			}
			match, err := argon2id.ComparePasswordAndHash(token, tokenHash)
			if err != nil || !match {
				deny(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func deny(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":{"code":"STAFF_TOKEN_REQUIRED","message":"valid staff token is required"}}`))
}
