package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/nexus-gateway/internal/db/models"
	"github.com/pysugar/nexus-gateway/internal/resilience"
	"github.com/pysugar/nexus-gateway/internal/upstream"
)

// Passthrough relays an OpenAI-shaped request for capability to path under a
// provider's base URL without translation. Account fallback still applies.
func (g *Gateway) Passthrough(capability, path string) http.HandlerFunc {
	endpoint := "/v1/" + strings.TrimLeft(path, "/")
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestId := GetOrGenerateRequestID(r)
		entry := models.RequestLog{RequestID: requestId, Endpoint: endpoint}

		body, err := readBody(r)
		if err != nil {
			writeOpenAIError(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		model := requestModel(body, r.Header.Get("Content-Type"))
		entry.Model = model

		cands := g.candidates(g.capabilityTargets(model, capability), r.Header.Get(accountHeader))
		if len(cands) == 0 {
			writeOpenAIError(w, "no provider account supports "+capability, http.StatusNotFound)
			entry.Status = http.StatusNotFound
			g.record(entry, start)
			return
		}

		send := func(ctx context.Context, c resilience.Candidate) (*http.Response, error) {
			t, err := g.target(ctx, c, false)
			if err != nil {
				return nil, err
			}
			out := body
			if c.Model != "" && c.Model != model {
				out = withModel(body, c.Model)
			}
			return g.Upstream.Forward(ctx, t, path, r, out)
		}
		res, err := g.Engine.Execute(r.Context(), resilience.ExecuteRequest{
			RequestID:   requestId,
			Candidates:  cands,
			MaxAttempts: g.MaxAttempts,
		}, send)
		if err != nil {
			entry.Status = writeEngineError(w, "", err)
			entry.Error = err.Error()
			var exhausted *resilience.ExhaustedError
			if errors.As(err, &exhausted) {
				entry.Attempts = exhausted.Attempts
			}
			g.record(entry, start)
			return
		}
		defer res.Response.Body.Close()

		entry.Provider, entry.AccountID, entry.TargetModel = res.Candidate.Provider, res.Candidate.AccountID, res.Candidate.Model
		entry.Status, entry.Attempts = res.Response.StatusCode, res.Attempts
		if err := upstream.CopyResponse(w, res.Response); err != nil {
			log.Printf("⚠️ [%s] %s relay interrupted: %v", requestId, endpoint, err)
			entry.Error = err.Error()
		}
		g.record(entry, start)
	}
}

// requestModel reads the model field of a JSON or multipart body.
func requestModel(body []byte, contentType string) string {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
		for {
			part, err := mr.NextPart()
			if err != nil {
				return ""
			}
			if part.FormName() == "model" {
				v, _ := io.ReadAll(io.LimitReader(part, 256))
				return strings.TrimSpace(string(v))
			}
		}
	}
	var m struct {
		Model string `json:"model"`
	}
	if json.Unmarshal(body, &m) != nil {
		return ""
	}
	return strings.TrimSpace(m.Model)
}

// withModel replaces the model of a JSON body. Other bodies are returned as is.
func withModel(body []byte, model string) []byte {
	var m map[string]json.RawMessage
	if json.Unmarshal(body, &m) != nil || m == nil {
		return body
	}
	encoded, _ := json.Marshal(model)
	m["model"] = encoded
	out, err := json.Marshal(m)
	if err != nil {
		return body
	}
	return out
}
