package middleware

import (
	"net/http"

	"github.com/pysugar/nexus-gateway/internal/logging"
)

// RequestID puts the request's id, or a fresh one, into the context and
// echoes it in the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := logging.FromRequest(r)
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set(logging.HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}
