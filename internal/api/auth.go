package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// BearerAuth guards the case and device endpoints with a single static
// token. The comparison is constant-time so the check does not leak the
// token length or a matching prefix.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tokenMatches(r.Header.Get("Authorization"), token) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenMatches(header, token string) bool {
	if !strings.HasPrefix(header, bearerPrefix) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header[len(bearerPrefix):]), []byte(token)) == 1
}
