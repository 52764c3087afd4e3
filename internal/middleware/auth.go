package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware requires "Authorization: Bearer <token>" on /api/* when a
// token is configured. Browsers cannot set headers on websocket upgrades or
// <img> requests, so a "token" query parameter is accepted as well.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	expected := []byte(token)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		presented := r.URL.Query().Get("token")
		if h := r.Header.Get("Authorization"); h != "" {
			scheme, value, ok := strings.Cut(h, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			presented = strings.TrimSpace(value)
		}

		if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
