package discovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Credential is one upstream credential found in a local tool's config.
type Credential struct {
	Source       string    `json:"source"`   // e.g. "codex", "gemini-cli"
	Provider     string    `json:"provider"` // catalog provider id
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	ConfigPath   string    `json:"config_path"`
}

// Label is the account label an imported credential gets.
func (c Credential) Label() string {
	return c.Source + "-import"
}

// Source defines a configuration source to scan
type Source struct {
	Name        string
	Description string
	ConfigPaths []string // relative to the home directory, globs allowed
	Parser      func(path string) ([]Credential, error)
}

// Sources defines all known credential sources
var Sources = []Source{
	{
		Name:        "codex",
		Description: "OpenAI Codex CLI",
		ConfigPaths: []string{".codex/auth.json"},
		Parser:      parseCodexAuth,
	},
	{
		Name:        "gemini-cli",
		Description: "Gemini CLI",
		ConfigPaths: []string{".gemini/.env", ".env.gemini"},
		Parser:      parseGeminiEnv,
	},
}

type codexAuth struct {
	OpenAIAPIKey string `json:"OPENAI_API_KEY"`
	Tokens       *struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	} `json:"tokens"`
}

// parseCodexAuth reads ~/.codex/auth.json: a plain OpenAI key becomes an
// openai account, a ChatGPT login becomes a codex account.
func parseCodexAuth(path string) ([]Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var auth codexAuth
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	var creds []Credential
	if key := strings.TrimSpace(auth.OpenAIAPIKey); key != "" {
		creds = append(creds, Credential{Source: "codex", Provider: "openai", AccessToken: key, ConfigPath: path})
	}
	if auth.Tokens != nil && auth.Tokens.RefreshToken != "" {
		creds = append(creds, Credential{
			Source:       "codex",
			Provider:     "codex",
			AccessToken:  auth.Tokens.AccessToken,
			RefreshToken: auth.Tokens.RefreshToken,
			// Unknown expiry; the first use refreshes it.
			ExpiresAt:  time.Now(),
			ConfigPath: path,
		})
	}
	return creds, nil
}

func parseGeminiEnv(path string) ([]Credential, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if key := strings.TrimSpace(env[name]); key != "" {
			return []Credential{{Source: "gemini-cli", Provider: "gemini", AccessToken: key, ConfigPath: path}}, nil
		}
	}
	return nil, nil
}
