package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/nexus-gateway/internal/logging"
	"github.com/pysugar/nexus-gateway/internal/resilience"
	"github.com/pysugar/nexus-gateway/internal/translator"
)

// maxRequestBody bounds inbound bodies. Audio uploads are the largest.
const maxRequestBody = 32 << 20

var errBodyTooLarge = errors.New("request body too large")

// GetOrGenerateRequestID returns the request's existing id or a generated
// "agent-{uuid}".
func GetOrGenerateRequestID(r *http.Request) string {
	if id := logging.FromRequest(r); id != "" {
		return id
	}
	return "agent-" + uuid.New().String()
}

// SetSSEHeaders sets standard headers for Server-Sent Events streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxRequestBody {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorType(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "authentication_error"
	case status == http.StatusNotFound:
		return "not_found_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	}
	return "api_error"
}

func writeOpenAIError(w http.ResponseWriter, message string, status int) {
	writeFormatError(w, translator.FormatOpenAIChat, message, status, nil)
}

// writeFormatError renders an error in the shape clients of format f expect.
// extra fields are merged into the inner error object.
func writeFormatError(w http.ResponseWriter, f translator.Format, message string, status int, extra map[string]interface{}) {
	inner := map[string]interface{}{
		"message": message,
		"type":    errorType(status),
	}
	var body map[string]interface{}
	switch f {
	case translator.FormatClaude:
		body = map[string]interface{}{"type": "error", "error": inner}
	case translator.FormatGemini:
		inner["code"] = status
		inner["status"] = strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
		delete(inner, "type")
		body = map[string]interface{}{"error": inner}
	default:
		inner["code"] = status
		body = map[string]interface{}{"error": inner}
	}
	for k, v := range extra {
		inner[k] = v
	}
	writeJSON(w, status, body)
}

// writeExhausted reports that no account could serve the request, preserving
// the last provider status and the earliest recovery estimate.
func writeExhausted(w http.ResponseWriter, f translator.Format, e *resilience.ExhaustedError) {
	extra := map[string]interface{}{"reason": string(e.LastReason)}
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds()))))
		extra["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	msg := "all upstream accounts are unavailable"
	if detail := upstreamErrorMessage(e.Body); detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}
	writeFormatError(w, f, msg, e.StatusCode, extra)
}

// writeEngineError maps an Engine.Execute failure onto a client response.
// It returns the status written, or 0 when the client is gone.
func writeEngineError(w http.ResponseWriter, f translator.Format, err error) int {
	var exhausted *resilience.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		writeExhausted(w, f, exhausted)
		return exhausted.StatusCode
	case errors.Is(err, resilience.ErrNoCandidates):
		writeFormatError(w, f, "no account is configured for this model", http.StatusServiceUnavailable, nil)
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, context.DeadlineExceeded):
		writeFormatError(w, f, "upstream request timed out", http.StatusGatewayTimeout, nil)
		return http.StatusGatewayTimeout
	}
	writeFormatError(w, f, err.Error(), http.StatusBadGateway, nil)
	return http.StatusBadGateway
}

// upstreamErrorMessage pulls a human readable message out of a provider
// error body, whatever its format.
func upstreamErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var m map[string]interface{}
	if json.Unmarshal(body, &m) == nil {
		if e, ok := m["error"].(map[string]interface{}); ok {
			if msg, ok := e["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if e, ok := m["error"].(string); ok && e != "" {
			return e
		}
		if msg, ok := m["message"].(string); ok && msg != "" {
			return msg
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
