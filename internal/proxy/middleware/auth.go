package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/pysugar/nexus-gateway/internal/db"
	"gorm.io/gorm"
)

// APIKeyAuth validates the gateway API key. Clients of every supported SDK
// can reach it: Bearer token, x-api-key, x-goog-api-key or the key query parameter.
func APIKeyAuth(database *gorm.DB) func(next http.Handler) http.Handler {
	return KeyAuth(func() string { return db.GetAPIKey(database) })
}

// KeyAuth is APIKeyAuth with the expected key supplied by expected.
func KeyAuth(expected func() string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expectedKey := expected()
			if expectedKey == "" {
				// No API key configured, allow all requests (first-run scenario)
				next.ServeHTTP(w, r)
				return
			}

			for _, candidate := range presentedKeys(r) {
				if candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(expectedKey)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": {"message": "Invalid API key", "type": "authentication_error"}}`))
		})
	}
}

func presentedKeys(r *http.Request) []string {
	var keys []string
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		keys = append(keys, strings.TrimPrefix(authHeader, "Bearer "))
	}
	keys = append(keys,
		r.Header.Get("x-api-key"),
		r.Header.Get("x-goog-api-key"),
		r.URL.Query().Get("key"),
	)
	return keys
}

// AdminAuth requires HTTP basic auth with password. An empty password
// disables the check.
func AdminAuth(password string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, pass, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="Nexus Admin"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
