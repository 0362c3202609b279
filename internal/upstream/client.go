// Package upstream builds and sends provider requests: per-format endpoint
// URLs, credential headers, and raw passthrough forwarding.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/pysugar/nexus-gateway/internal/auth/token"
	"github.com/pysugar/nexus-gateway/internal/providers/catalog"
	"github.com/pysugar/nexus-gateway/internal/translator"
	"github.com/pysugar/nexus-gateway/internal/util"
	"github.com/pysugar/nexus-gateway/internal/version"
)

// DefaultUserAgent is sent unless NEXUS_USER_AGENT overrides it.
var DefaultUserAgent = "nexus-gateway/" + version.Version

const defaultAnthropicVersion = "2023-06-01"

func configuredUserAgent() string {
	if ua := strings.TrimSpace(os.Getenv("NEXUS_USER_AGENT")); ua != "" {
		return ua
	}
	return DefaultUserAgent
}

// Target is one resolved upstream call: which provider, which account, which model.
type Target struct {
	Provider   catalog.ProviderInfo
	Credential token.Credential
	Model      string
	Stream     bool
}

// BaseURL is the account override or the provider default.
func (t Target) BaseURL() string {
	if b := strings.TrimRight(strings.TrimSpace(t.Credential.BaseURL), "/"); b != "" {
		return b
	}
	return t.Provider.BaseURL
}

// Client handles communication with upstream LLM APIs
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client without an overall timeout; callers bound each
// attempt with their context.
func NewClient() *Client {
	return NewClientWithHTTP(nil)
}

// NewClientWithHTTP uses hc for every call; nil means a default client.
func NewClientWithHTTP(hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{httpClient: hc}
}

// EndpointURL returns the generation endpoint of format f under base.
func EndpointURL(base string, f translator.Format, model string, stream bool) (string, error) {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return "", fmt.Errorf("provider has no base URL")
	}
	switch f {
	case translator.FormatOpenAIChat:
		return base + "/chat/completions", nil
	case translator.FormatOpenAIResponses:
		return base + "/responses", nil
	case translator.FormatClaude:
		return base + "/messages", nil
	case translator.FormatGemini:
		if model == "" {
			return "", fmt.Errorf("gemini request needs a model")
		}
		if stream {
			return base + "/models/" + url.PathEscape(model) + ":streamGenerateContent?alt=sse", nil
		}
		return base + "/models/" + url.PathEscape(model) + ":generateContent", nil
	}
	return "", fmt.Errorf("%w: %s", translator.ErrUnsupportedFormat, f)
}

// BuildRequest encodes body for t. body must already be in t.Provider.Format;
// the model field is set to t.Model (Gemini carries the model in the path).
func BuildRequest(ctx context.Context, t Target, body map[string]any) (*http.Request, error) {
	format := t.Provider.Format
	endpoint, err := EndpointURL(t.BaseURL(), format, t.Model, t.Stream)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(body)+1)
	for k, v := range body {
		out[k] = v
	}
	if format == translator.FormatGemini {
		delete(out, "model")
		delete(out, "stream")
	} else if t.Model != "" {
		out["model"] = t.Model
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.Stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	setProviderHeaders(req.Header, t)

	if util.IsVerbose() {
		log.Printf("📤 [VERBOSE] %s %s model=%s stream=%v body=%s", t.Provider.ID, endpoint, t.Model, t.Stream, util.TruncateBytes(payload))
	}
	return req, nil
}

func setProviderHeaders(h http.Header, t Target) {
	h.Set("User-Agent", configuredUserAgent())
	for k, v := range t.Provider.StaticHeaders {
		h.Set(k, v)
	}
	switch t.Provider.AuthMode {
	case catalog.AuthModeAPIKey:
		h.Set("x-api-key", t.Credential.Token)
	case catalog.AuthModeGoogAPIKey:
		h.Set("x-goog-api-key", t.Credential.Token)
	default:
		h.Set("Authorization", "Bearer "+t.Credential.Token)
	}
	if t.Provider.Format == translator.FormatClaude && h.Get("anthropic-version") == "" {
		h.Set("anthropic-version", defaultAnthropicVersion)
	}
}

// Send builds and executes a generation request.
func (c *Client) Send(ctx context.Context, t Target, body map[string]any) (*http.Response, error) {
	req, err := BuildRequest(ctx, t, body)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

// Forward relays an incoming request to path under the target's base URL,
// replacing client credentials with the account's. The body is sent as is.
func (c *Client) Forward(ctx context.Context, t Target, path string, in *http.Request, body []byte) (*http.Response, error) {
	base := t.BaseURL()
	if base == "" {
		return nil, fmt.Errorf("provider %s has no base URL", t.Provider.ID)
	}
	target, err := url.Parse(base + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	query := CloneValues(in.URL.Query())
	query.Del("key")
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, in.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	CopyForwardHeaders(req.Header, in.Header)
	setProviderHeaders(req.Header, t)
	if strings.TrimSpace(req.Header.Get("Content-Type")) == "" && len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}
