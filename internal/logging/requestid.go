// Package logging carries the request id through contexts and log lines.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// HeaderRequestID is read from clients and echoed on every response.
const HeaderRequestID = "X-Request-ID"

type contextKey string

const requestIDKey contextKey = "requestId"

// GenerateRequestID creates an 8-character hex request ID.
func GenerateRequestID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns "" when ctx carries no id.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// FromRequest finds an existing id for r: one already in the context, the
// client's header, then the id chi's RequestID middleware assigned.
func FromRequest(r *http.Request) string {
	if id := GetRequestID(r.Context()); id != "" {
		return id
	}
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id
	}
	return chimiddleware.GetReqID(r.Context())
}

// Printf logs with the context's request id in front, "[id] ...".
func Printf(ctx context.Context, format string, args ...interface{}) {
	if id := GetRequestID(ctx); id != "" {
		log.Printf("[%s] %s", id, fmt.Sprintf(format, args...))
		return
	}
	log.Printf(format, args...)
}
