package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/nexus-gateway/internal/db/models"
	"github.com/pysugar/nexus-gateway/internal/logging"
	"github.com/pysugar/nexus-gateway/internal/resilience"
	"github.com/pysugar/nexus-gateway/internal/translator"
	"github.com/pysugar/nexus-gateway/internal/translator/stream"
	"github.com/pysugar/nexus-gateway/internal/util"
)

// maxResponseBody bounds a buffered (non-streaming) provider reply.
const maxResponseBody = 64 << 20

// Generate serves /v1/chat/completions, /v1/messages and /v1/responses. The
// body's wire format is detected, so any of the four formats is accepted on
// any of these paths, and the reply is encoded back into that format.
func (g *Gateway) Generate(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestId := GetOrGenerateRequestID(r)
		entry := models.RequestLog{RequestID: requestId, Endpoint: endpoint}

		body, err := readBody(r)
		if err != nil {
			writeOpenAIError(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		source, err := translator.Detect(body)
		if err != nil {
			writeOpenAIError(w, translator.ErrUnrecognizedFormat.Error(), http.StatusBadRequest)
			entry.Status, entry.Error = http.StatusBadRequest, err.Error()
			g.record(entry, start)
			return
		}
		entry.SourceFormat = string(source)

		req, err := g.Registry.ToCanonical(body, source)
		if err != nil {
			writeFormatError(w, source, err.Error(), http.StatusBadRequest, nil)
			entry.Status, entry.Error = http.StatusBadRequest, err.Error()
			g.record(entry, start)
			return
		}
		if source == translator.FormatGemini {
			// Gemini-native clients carry the model and the streaming mode in the URL.
			if m, streaming, ok := geminiPathModel(r.URL.Path); ok {
				if req.Model == "" {
					req.Model = m
				}
				if streaming {
					req.SetStream(true)
				}
			}
		}
		if req.Model == "" {
			req.Model = r.URL.Query().Get("model")
		}
		entry.Model, entry.Stream = req.Model, req.IsStream()
		if util.IsVerbose() {
			log.Printf("📥 [VERBOSE] [%s] %s format=%s model=%s stream=%v body=%s", requestId, endpoint, source, req.Model, req.IsStream(), util.TruncateBytes(body))
		}

		cands := g.candidates(g.targets(req.Model), r.Header.Get(accountHeader))
		if len(cands) == 0 {
			msg := fmt.Sprintf("no provider account can serve model %q", req.Model)
			writeFormatError(w, source, msg, http.StatusNotFound, nil)
			entry.Status, entry.Error = http.StatusNotFound, msg
			g.record(entry, start)
			return
		}

		res, err := g.Engine.Execute(r.Context(), resilience.ExecuteRequest{
			RequestID:   requestId,
			Candidates:  cands,
			MaxAttempts: g.MaxAttempts,
		}, g.sendGeneration(req))
		if err != nil {
			entry.Status = writeEngineError(w, source, err)
			entry.Error = err.Error()
			var exhausted *resilience.ExhaustedError
			if errors.As(err, &exhausted) {
				entry.Attempts = exhausted.Attempts
			}
			g.record(entry, start)
			return
		}
		defer res.Response.Body.Close()

		p, _ := g.Catalog.Get(res.Candidate.Provider)
		entry.Provider, entry.AccountID, entry.TargetModel = p.ID, res.Candidate.AccountID, res.Candidate.Model
		entry.TargetFormat, entry.Attempts = string(p.Format), res.Attempts
		log.Printf("📨 [%s] %s %s (%s) -> %s/%s (%s) attempt %d", requestId, endpoint, req.Model, source, p.ID, res.Candidate.Model, p.Format, res.Attempts)

		if res.Response.StatusCode >= 400 {
			errBody, _ := io.ReadAll(io.LimitReader(res.Response.Body, maxResponseBody))
			msg := upstreamErrorMessage(errBody)
			writeFormatError(w, source, msg, res.Response.StatusCode, nil)
			entry.Status, entry.Error = res.Response.StatusCode, msg
			g.record(entry, start)
			return
		}

		if req.IsStream() {
			g.relayStream(r.Context(), w, res, source, p.Format, req.Model, &entry)
		} else {
			g.relayResponse(w, res, source, p.Format, &entry)
		}
		g.record(entry, start)
	}
}

// geminiPathModel parses ".../models/{model}:generateContent" and
// ".../models/{model}:streamGenerateContent".
func geminiPathModel(path string) (model string, streaming bool, ok bool) {
	i := strings.LastIndex(path, "/models/")
	if i < 0 {
		return "", false, false
	}
	rest := path[i+len("/models/"):]
	model, action, found := strings.Cut(rest, ":")
	if !found || model == "" {
		return "", false, false
	}
	switch action {
	case "generateContent":
		return model, false, true
	case "streamGenerateContent":
		return model, true, true
	}
	return "", false, false
}

// sendGeneration encodes req for each candidate's provider and sends it.
func (g *Gateway) sendGeneration(req *translator.CanonicalRequest) resilience.SendFunc {
	return func(ctx context.Context, c resilience.Candidate) (*http.Response, error) {
		t, err := g.target(ctx, c, req.IsStream())
		if err != nil {
			return nil, err
		}
		out := *req
		out.Model = c.Model
		payload, err := g.Registry.FromCanonicalMap(&out, t.Provider.Format)
		if err != nil {
			return nil, err
		}
		return g.Upstream.Send(ctx, t, payload)
	}
}

func (g *Gateway) relayResponse(w http.ResponseWriter, res *resilience.Result, client, provider translator.Format, entry *models.RequestLog) {
	body, err := io.ReadAll(io.LimitReader(res.Response.Body, maxResponseBody))
	if err != nil {
		writeFormatError(w, client, "failed to read upstream response: "+err.Error(), http.StatusBadGateway, nil)
		entry.Status, entry.Error = http.StatusBadGateway, err.Error()
		return
	}

	out := body
	decoded, decErr := g.Registry.DecodeResponse(body, provider)
	if decErr == nil {
		entry.InputTokens, entry.OutputTokens = decoded.Usage.InputTokens, decoded.Usage.OutputTokens
	}
	if client != provider {
		if decErr != nil {
			writeFormatError(w, client, "failed to translate upstream response: "+decErr.Error(), http.StatusBadGateway, nil)
			entry.Status, entry.Error = http.StatusBadGateway, decErr.Error()
			return
		}
		if out, err = g.Registry.EncodeResponse(decoded, client); err != nil {
			writeFormatError(w, client, "failed to translate upstream response: "+err.Error(), http.StatusBadGateway, nil)
			entry.Status, entry.Error = http.StatusBadGateway, err.Error()
			return
		}
	}
	if util.IsVerbose() {
		log.Printf("📤 [VERBOSE] [%s] Response %s->%s: %s", entry.RequestID, provider, client, util.TruncateBytes(out))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
	entry.Status = http.StatusOK
}

func (g *Gateway) relayStream(ctx context.Context, w http.ResponseWriter, res *resilience.Result, client, provider translator.Format, model string, entry *models.RequestLog) {
	SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	entry.Status = http.StatusOK

	re := &stream.Reencoder{
		Source:    provider,
		Target:    client,
		Model:     model,
		RequestID: entry.RequestID,
		Safety:    stream.NewSafetyChecker(),
	}
	result, err := re.Run(ctx, w, res.Response.Body)
	entry.InputTokens, entry.OutputTokens = result.Usage.InputTokens, result.Usage.OutputTokens
	switch {
	case err == nil:
		if !result.Completed {
			logging.Printf(ctx, "⚠️ Upstream stream ended without a terminator after %d events", result.Events)
		}
	case errors.Is(err, context.Canceled):
		logging.Printf(ctx, "🔌 Client disconnected after %d events", result.Events)
		entry.Error = "client disconnected"
	default:
		logging.Printf(ctx, "❌ Stream relay failed after %d events: %v", result.Events, err)
		entry.Error = err.Error()
	}
	if util.IsVerbose() {
		logging.Printf(ctx, "✅ [VERBOSE] Streaming completed: %d events, %d text bytes, finish=%s", result.Events, result.TextBytes, result.FinishReason)
	}
}
