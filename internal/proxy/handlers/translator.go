package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pysugar/nexus-gateway/internal/db"
	"github.com/pysugar/nexus-gateway/internal/db/models"
	"github.com/pysugar/nexus-gateway/internal/resilience"
	"github.com/pysugar/nexus-gateway/internal/translator"
	"github.com/pysugar/nexus-gateway/internal/upstream"
)

const defaultHistoryLimit = 50

type detectRequest struct {
	Body json.RawMessage `json:"body"`
}

type translateRequest struct {
	// Step is "canonical" for the intermediate form or "target" (default).
	Step         string          `json:"step"`
	SourceFormat string          `json:"sourceFormat"`
	TargetFormat string          `json:"targetFormat"`
	Provider     string          `json:"provider"`
	Body         json.RawMessage `json:"body"`
}

type sendRequest struct {
	Provider string          `json:"provider"`
	Body     json.RawMessage `json:"body"`
}

// TranslatorDetect handles POST /api/translator/detect.
func (g *Gateway) TranslatorDetect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req detectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Body) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "body is required"})
			return
		}
		format, err := translator.Detect(req.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": translator.ErrUnrecognizedFormat.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"format": format})
	}
}

// TranslatorTranslate handles POST /api/translator/translate. The target is
// targetFormat, or the wire format of provider.
func (g *Gateway) TranslatorTranslate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Body) == 0 {
			writeTranslateError(w, http.StatusBadRequest, "body is required")
			return
		}

		source, err := g.sourceFormat(req.SourceFormat, req.Body)
		if err != nil {
			writeTranslateError(w, http.StatusBadRequest, err.Error())
			return
		}
		canonical, err := g.Registry.ToCanonical(req.Body, source)
		if err != nil {
			writeTranslateError(w, http.StatusBadRequest, err.Error())
			return
		}

		switch strings.ToLower(strings.TrimSpace(req.Step)) {
		case "canonical":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success":      true,
				"result":       canonical,
				"sourceFormat": source,
				"targetFormat": "canonical",
			})
			return
		case "", "target":
		default:
			writeTranslateError(w, http.StatusBadRequest, "step must be canonical or target")
			return
		}

		target, err := g.targetFormat(req.TargetFormat, req.Provider)
		if err != nil {
			writeTranslateError(w, http.StatusBadRequest, err.Error())
			return
		}
		result, err := g.Registry.FromCanonicalMap(canonical, target)
		if err != nil {
			writeTranslateError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":      true,
			"result":       result,
			"sourceFormat": source,
			"targetFormat": target,
		})
	}
}

func writeTranslateError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}

func (g *Gateway) sourceFormat(name string, body []byte) (translator.Format, error) {
	if strings.TrimSpace(name) == "" {
		return translator.Detect(body)
	}
	return translator.ParseFormat(name)
}

func (g *Gateway) targetFormat(name, provider string) (translator.Format, error) {
	if strings.TrimSpace(name) != "" {
		return translator.ParseFormat(name)
	}
	if strings.TrimSpace(provider) == "" {
		return "", errors.New("targetFormat or provider is required")
	}
	p, ok := g.Catalog.Get(provider)
	if !ok {
		return "", errors.New("unknown provider: " + provider)
	}
	return p.Format, nil
}

// TranslatorSend handles POST /api/translator/send: body, in any format, is
// translated into the provider's format and sent through the engine. The raw
// provider response is streamed back untranslated.
func (g *Gateway) TranslatorSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestId := GetOrGenerateRequestID(r)
		entry := models.RequestLog{RequestID: requestId, Endpoint: "/api/translator/send"}

		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Body) == 0 {
			writeOpenAIError(w, "provider and body are required", http.StatusBadRequest)
			return
		}
		p, ok := g.Catalog.Get(req.Provider)
		if !ok || !p.Enabled {
			writeOpenAIError(w, "unknown or disabled provider: "+req.Provider, http.StatusBadRequest)
			return
		}
		source, err := translator.Detect(req.Body)
		if err != nil {
			writeOpenAIError(w, translator.ErrUnrecognizedFormat.Error(), http.StatusBadRequest)
			return
		}
		canonical, err := g.Registry.ToCanonical(req.Body, source)
		if err != nil {
			writeOpenAIError(w, err.Error(), http.StatusBadRequest)
			return
		}
		entry.SourceFormat, entry.TargetFormat = string(source), string(p.Format)
		entry.Model, entry.Stream = canonical.Model, canonical.IsStream()

		cands := g.candidates(providerTargets(p.ID, canonical.Model, g.targets(canonical.Model)), r.Header.Get(accountHeader))
		if len(cands) == 0 {
			writeOpenAIError(w, "provider has no usable account: "+p.ID, http.StatusNotFound)
			entry.Status = http.StatusNotFound
			g.record(entry, start)
			return
		}

		res, err := g.Engine.Execute(r.Context(), resilience.ExecuteRequest{
			RequestID:   requestId,
			Candidates:  cands,
			MaxAttempts: g.MaxAttempts,
		}, g.sendGeneration(canonical))
		if err != nil {
			entry.Status = writeEngineError(w, translator.FormatOpenAIChat, err)
			entry.Error = err.Error()
			g.record(entry, start)
			return
		}
		defer res.Response.Body.Close()

		entry.Provider, entry.AccountID, entry.TargetModel = p.ID, res.Candidate.AccountID, res.Candidate.Model
		entry.Status, entry.Attempts = res.Response.StatusCode, res.Attempts
		if err := upstream.CopyResponse(w, res.Response); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("⚠️ [%s] Translator send relay interrupted: %v", requestId, err)
			entry.Error = err.Error()
		}
		g.record(entry, start)
	}
}

// providerTargets keeps the routed targets on provider, or the model itself
// when no route points there.
func providerTargets(provider, model string, routed []db.RouteTarget) []db.RouteTarget {
	var out []db.RouteTarget
	for _, t := range routed {
		if t.Provider == provider {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		out = append(out, db.RouteTarget{Provider: provider, Model: model})
	}
	return out
}

// TranslatorHistory handles GET /api/translator/history?limit=N.
func (g *Gateway) TranslatorHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultHistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		if g.Monitor == nil {
			writeJSON(w, http.StatusOK, []interface{}{})
			return
		}
		writeJSON(w, http.StatusOK, g.Monitor.History(limit))
	}
}
