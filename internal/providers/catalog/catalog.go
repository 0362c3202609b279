// Package catalog describes the upstream providers the gateway can call:
// their wire format, endpoint, credentials source and capabilities.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pysugar/nexus-gateway/internal/translator"
	"gopkg.in/yaml.v3"
)

const (
	CapabilityChat        = "chat"
	CapabilityEmbeddings  = "embeddings"
	CapabilityImages      = "images"
	CapabilityRerank      = "rerank"
	CapabilityAudio       = "audio"
	CapabilityModerations = "moderations"

	AuthModeBearer     = "bearer"
	AuthModeAPIKey     = "x-api-key"
	AuthModeGoogAPIKey = "x-goog-api-key"

	defaultTimeout = 180 * time.Second
)

var providerIDRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type fileConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one entry of the providers YAML file.
type ProviderConfig struct {
	ID            string            `yaml:"id"`
	Enabled       *bool             `yaml:"enabled"`
	Format        string            `yaml:"format"`
	BaseURL       string            `yaml:"base_url"`
	AuthMode      string            `yaml:"auth_mode"`
	ModelPrefixes []string          `yaml:"model_prefixes"`
	Capabilities  []string          `yaml:"capabilities"`
	StaticHeaders map[string]string `yaml:"static_headers"`
	Timeout       string            `yaml:"timeout"`

	// OAuth settings; all optional. AuthURL enables the browser login flow.
	TokenURL        string   `yaml:"token_url"`
	AuthURL         string   `yaml:"auth_url"`
	ClientIDEnv     string   `yaml:"client_id_env"`
	ClientSecretEnv string   `yaml:"client_secret_env"`
	Scopes          []string `yaml:"scopes"`
}

// OAuthConfig carries what is needed to refresh an account's access token,
// and with AuthURL set, to log a new account in.
type OAuthConfig struct {
	TokenURL     string   `json:"token_url"`
	AuthURL      string   `json:"auth_url,omitempty"`
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"-"`
	Scopes       []string `json:"scopes,omitempty"`
}

// ProviderInfo is a normalized provider with env overrides applied.
type ProviderInfo struct {
	ID            string            `json:"id"`
	Enabled       bool              `json:"enabled"`
	Format        translator.Format `json:"format"`
	BaseURL       string            `json:"base_url"`
	AuthMode      string            `json:"auth_mode"`
	ModelPrefixes []string          `json:"model_prefixes,omitempty"`
	Capabilities  []string          `json:"capabilities"`
	StaticHeaders map[string]string `json:"static_headers,omitempty"`
	Timeout       time.Duration     `json:"-"`
	TimeoutMs     int64             `json:"timeout_ms"`
	APIKeyEnv     string            `json:"api_key_env,omitempty"`
	BaseURLEnv    string            `json:"base_url_env,omitempty"`
	OAuth         *OAuthConfig      `json:"oauth,omitempty"`

	// APIKey comes from APIKeyEnv; never serialized.
	APIKey string `json:"-"`
}

// HasCapability reports whether the provider declares capability.
func (p ProviderInfo) HasCapability(capability string) bool {
	capability = strings.TrimSpace(strings.ToLower(capability))
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

func (p ProviderInfo) clone() ProviderInfo {
	p.ModelPrefixes = append([]string(nil), p.ModelPrefixes...)
	p.Capabilities = append([]string(nil), p.Capabilities...)
	if len(p.StaticHeaders) > 0 {
		cp := make(map[string]string, len(p.StaticHeaders))
		for k, v := range p.StaticHeaders {
			cp[k] = v
		}
		p.StaticHeaders = cp
	}
	if p.OAuth != nil {
		o := *p.OAuth
		o.Scopes = append([]string(nil), o.Scopes...)
		p.OAuth = &o
	}
	return p
}

// Catalog is an immutable set of providers. Safe for concurrent use.
type Catalog struct {
	byID map[string]ProviderInfo
	ids  []string
}

// Load reads the providers file at path, or searches the usual locations when
// path is empty, and falls back to the built-in providers when none is found.
// A broken file still yields the defaults alongside the error.
func Load(path string) (*Catalog, error) {
	cfgs, err := loadConfigProviders(path)
	if len(cfgs) == 0 {
		cfgs = defaultProviders()
	}
	return New(cfgs), err
}

// New builds a catalog from configs. Invalid entries are skipped.
func New(cfgs []ProviderConfig) *Catalog {
	c := &Catalog{byID: make(map[string]ProviderInfo, len(cfgs))}
	for _, cfg := range cfgs {
		info, ok := normalizeConfig(cfg)
		if !ok {
			continue
		}
		if _, dup := c.byID[info.ID]; !dup {
			c.ids = append(c.ids, info.ID)
		}
		c.byID[info.ID] = info
	}
	sort.Strings(c.ids)
	return c
}

// Providers returns every configured provider sorted by ID.
func (c *Catalog) Providers() []ProviderInfo {
	result := make([]ProviderInfo, 0, len(c.ids))
	for _, id := range c.ids {
		result = append(result, c.byID[id].clone())
	}
	return result
}

// Get returns provider metadata by ID.
func (c *Catalog) Get(id string) (ProviderInfo, bool) {
	info, ok := c.byID[normalizeProviderID(id)]
	if !ok {
		return ProviderInfo{}, false
	}
	return info.clone(), true
}

// IDsByCapability returns enabled provider IDs that declare a capability.
func (c *Catalog) IDsByCapability(capability string) []string {
	capability = strings.TrimSpace(strings.ToLower(capability))
	if capability == "" {
		return nil
	}
	var ids []string
	for _, id := range c.ids {
		p := c.byID[id]
		if p.Enabled && p.HasCapability(capability) {
			ids = append(ids, id)
		}
	}
	return ids
}

// SupportsCapability returns whether an enabled provider declares capability.
func (c *Catalog) SupportsCapability(providerID, capability string) bool {
	p, ok := c.byID[normalizeProviderID(providerID)]
	return ok && p.Enabled && p.HasCapability(capability)
}

// ProvidersForModel returns enabled chat providers whose model prefixes match
// clientModel. When none match, providers without any prefix act as catch-alls.
func (c *Catalog) ProvidersForModel(clientModel string) []string {
	m := strings.ToLower(strings.TrimSpace(clientModel))
	var matched, catchAll []string
	for _, id := range c.ids {
		p := c.byID[id]
		if !p.Enabled || !p.HasCapability(CapabilityChat) {
			continue
		}
		if len(p.ModelPrefixes) == 0 {
			catchAll = append(catchAll, id)
			continue
		}
		for _, prefix := range p.ModelPrefixes {
			if strings.HasPrefix(m, prefix) {
				matched = append(matched, id)
				break
			}
		}
	}
	if len(matched) > 0 {
		return matched
	}
	return catchAll
}

func loadConfigProviders(explicit string) ([]ProviderConfig, error) {
	path, err := resolveConfigPath(explicit)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file %q: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse providers file %q: %w", path, err)
	}

	return cfg.Providers, nil
}

func resolveConfigPath(explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	candidates := []string{
		"config/providers.yaml",
		"/etc/nexus/providers.yaml",
		"/usr/local/etc/nexus/providers.yaml",
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates,
			filepath.Join(homeDir, ".config", "nexus", "providers.yaml"),
			filepath.Join(homeDir, ".nexus", "providers.yaml"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func normalizeConfig(cfg ProviderConfig) (ProviderInfo, bool) {
	id := normalizeProviderID(cfg.ID)
	if !providerIDRegexp.MatchString(id) {
		return ProviderInfo{}, false
	}

	format := translator.FormatOpenAIChat
	if raw := strings.TrimSpace(cfg.Format); raw != "" {
		parsed, err := translator.ParseFormat(raw)
		if err != nil {
			return ProviderInfo{}, false
		}
		format = parsed
	}

	enabled := true
	if cfg.Enabled != nil {
		enabled = *cfg.Enabled
	}

	authMode := strings.TrimSpace(strings.ToLower(cfg.AuthMode))
	switch authMode {
	case "":
		authMode = defaultAuthMode(format)
	case AuthModeBearer, AuthModeAPIKey, AuthModeGoogAPIKey:
	default:
		return ProviderInfo{}, false
	}

	capabilities := normalizeList(cfg.Capabilities)
	if len(capabilities) == 0 {
		capabilities = []string{CapabilityChat}
	}

	baseURLEnv := providerEnvName(id, "BASE_URL")
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if v := strings.TrimSpace(os.Getenv(baseURLEnv)); v != "" {
		baseURL = v
	}

	apiKeyEnv := providerEnvName(id, "API_KEY")

	staticHeaders := normalizeHeaders(cfg.StaticHeaders)
	if envHeaders := strings.TrimSpace(os.Getenv(providerEnvName(id, "STATIC_HEADERS"))); envHeaders != "" {
		fromEnv := map[string]string{}
		if err := json.Unmarshal([]byte(envHeaders), &fromEnv); err == nil {
			for k, v := range normalizeHeaders(fromEnv) {
				staticHeaders[k] = v
			}
		}
	}

	timeout := defaultTimeout
	if raw := strings.TrimSpace(cfg.Timeout); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			timeout = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv(providerEnvName(id, "TIMEOUT"))); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			timeout = parsed
		}
	}

	var oauth *OAuthConfig
	if tokenURL := strings.TrimSpace(cfg.TokenURL); tokenURL != "" {
		oauth = &OAuthConfig{
			TokenURL:     tokenURL,
			AuthURL:      strings.TrimSpace(cfg.AuthURL),
			ClientID:     envValue(cfg.ClientIDEnv),
			ClientSecret: envValue(cfg.ClientSecretEnv),
			Scopes:       append([]string(nil), cfg.Scopes...),
		}
	}

	return ProviderInfo{
		ID:            id,
		Enabled:       enabled,
		Format:        format,
		BaseURL:       strings.TrimRight(baseURL, "/"),
		AuthMode:      authMode,
		ModelPrefixes: normalizeList(cfg.ModelPrefixes),
		Capabilities:  capabilities,
		StaticHeaders: staticHeaders,
		Timeout:       timeout,
		TimeoutMs:     timeout.Milliseconds(),
		APIKeyEnv:     apiKeyEnv,
		BaseURLEnv:    baseURLEnv,
		OAuth:         oauth,
		APIKey:        strings.TrimSpace(os.Getenv(apiKeyEnv)),
	}, true
}

func defaultAuthMode(f translator.Format) string {
	switch f {
	case translator.FormatClaude:
		return AuthModeAPIKey
	case translator.FormatGemini:
		return AuthModeGoogAPIKey
	default:
		return AuthModeBearer
	}
}

func envValue(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		normalized := strings.TrimSpace(strings.ToLower(v))
		if normalized == "" {
			continue
		}
		if _, exists := set[normalized]; exists {
			continue
		}
		set[normalized] = struct{}{}
		result = append(result, normalized)
	}
	return result
}

func normalizeHeaders(headers map[string]string) map[string]string {
	normalized := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		value := strings.TrimSpace(v)
		if key == "" || value == "" {
			continue
		}
		normalized[key] = value
	}
	return normalized
}

func normalizeProviderID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func providerEnvName(id, suffix string) string {
	upper := strings.ToUpper(id)
	replacer := strings.NewReplacer("-", "_", ".", "_", "/", "_", " ", "_")
	upper = replacer.Replace(upper)
	return fmt.Sprintf("NEXUS_%s_%s", upper, suffix)
}

func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:            "openai",
			Format:        string(translator.FormatOpenAIChat),
			BaseURL:       "https://api.openai.com/v1",
			ModelPrefixes: []string{"gpt-", "o1", "o3", "o4", "chatgpt-"},
			Capabilities: []string{
				CapabilityChat, CapabilityEmbeddings, CapabilityImages,
				CapabilityAudio, CapabilityModerations,
			},
		},
		{
			ID:            "anthropic",
			Format:        string(translator.FormatClaude),
			BaseURL:       "https://api.anthropic.com/v1",
			ModelPrefixes: []string{"claude-"},
			StaticHeaders: map[string]string{"anthropic-version": "2023-06-01"},
		},
		{
			ID:            "gemini",
			Format:        string(translator.FormatGemini),
			BaseURL:       "https://generativelanguage.googleapis.com/v1beta",
			ModelPrefixes: []string{"gemini-"},
		},
		{
			ID:              "codex",
			Format:          string(translator.FormatOpenAIResponses),
			BaseURL:         "https://chatgpt.com/backend-api/codex",
			ModelPrefixes:   []string{"gpt-5", "codex-"},
			TokenURL:        "https://auth.openai.com/oauth/token",
			AuthURL:         "https://auth.openai.com/oauth/authorize",
			Scopes:          []string{"openid", "profile", "email", "offline_access"},
			ClientIDEnv:     "NEXUS_CODEX_CLIENT_ID",
			ClientSecretEnv: "NEXUS_CODEX_CLIENT_SECRET",
		},
	}
}
