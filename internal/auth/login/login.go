// Package login runs the browser OAuth authorization-code flow for catalog
// providers that declare an auth_url, and stores the resulting account.
package login

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/nexus-gateway/internal/db"
	"github.com/pysugar/nexus-gateway/internal/db/models"
	"github.com/pysugar/nexus-gateway/internal/providers/catalog"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// stateTTL bounds how long a started login can be completed.
const stateTTL = 10 * time.Minute

// Reloader is told when an account was added or replaced.
type Reloader interface {
	ReloadAllTokens()
}

type pending struct {
	provider string
	label    string
	verifier string
	expires  time.Time
}

// Flow keeps the pending logins between the redirect and the callback.
type Flow struct {
	db      *gorm.DB
	catalog *catalog.Catalog
	tokens  Reloader
	// httpClient is used for the code exchange; nil means http.DefaultClient.
	httpClient *http.Client
	now        func() time.Time

	mu     sync.Mutex
	states map[string]pending
}

func NewFlow(database *gorm.DB, cat *catalog.Catalog, tokens Reloader) *Flow {
	return &Flow{
		db:      database,
		catalog: cat,
		tokens:  tokens,
		now:     time.Now,
		states:  make(map[string]pending),
	}
}

// SetHTTPClient sets the client used for token requests.
func (f *Flow) SetHTTPClient(c *http.Client) {
	f.httpClient = c
}

func (f *Flow) config(r *http.Request, provider string) (*oauth2.Config, error) {
	p, ok := f.catalog.Get(provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	if p.OAuth == nil || p.OAuth.AuthURL == "" {
		return nil, fmt.Errorf("provider %s has no OAuth login", p.ID)
	}
	return &oauth2.Config{
		ClientID:     p.OAuth.ClientID,
		ClientSecret: p.OAuth.ClientSecret,
		RedirectURL:  callbackURL(r, p.ID),
		Scopes:       p.OAuth.Scopes,
		Endpoint:     oauth2.Endpoint{AuthURL: p.OAuth.AuthURL, TokenURL: p.OAuth.TokenURL},
	}, nil
}

// callbackURL is built from the request so LAN and proxied setups work.
func callbackURL(r *http.Request, provider string) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/auth/%s/callback", scheme, r.Host, provider)
}

func newState() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HandleLogin redirects to the provider's consent page. ?label= names the
// account; by default it is derived from the provider and the time.
func (f *Flow) HandleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := strings.ToLower(chi.URLParam(r, "provider"))
		config, err := f.config(r, provider)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		label := strings.TrimSpace(r.URL.Query().Get("label"))
		if label == "" {
			label = provider + "-" + f.now().UTC().Format("20060102150405")
		}
		state := newState()
		verifier := oauth2.GenerateVerifier()

		f.mu.Lock()
		f.prune()
		f.states[state] = pending{provider: provider, label: label, verifier: verifier, expires: f.now().Add(stateTTL)}
		f.mu.Unlock()

		url := config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
	}
}

// prune drops expired logins. Caller holds f.mu.
func (f *Flow) prune() {
	now := f.now()
	for k, p := range f.states {
		if now.After(p.expires) {
			delete(f.states, k)
		}
	}
}

func (f *Flow) take(state, provider string) (pending, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.states[state]
	if !ok {
		return pending{}, false
	}
	delete(f.states, state)
	if p.provider != provider || f.now().After(p.expires) {
		return pending{}, false
	}
	return p, true
}

// HandleCallback exchanges the code and saves the account. Logging in again
// with an existing label replaces that account's tokens.
func (f *Flow) HandleCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := strings.ToLower(chi.URLParam(r, "provider"))
		if msg := r.URL.Query().Get("error"); msg != "" {
			http.Error(w, "Login refused: "+msg, http.StatusBadRequest)
			return
		}
		p, ok := f.take(r.URL.Query().Get("state"), provider)
		if !ok {
			http.Error(w, "Invalid state token", http.StatusBadRequest)
			return
		}
		config, err := f.config(r, provider)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		ctx := r.Context()
		if f.httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
		}
		token, err := config.Exchange(ctx, r.URL.Query().Get("code"), oauth2.VerifierOption(p.verifier))
		if err != nil {
			log.Printf("❌ OAuth exchange failed for %s: %v", provider, err)
			http.Error(w, fmt.Sprintf("Token exchange failed: %v", err), http.StatusBadGateway)
			return
		}

		acc, err := f.save(provider, p.label, config.Scopes, token)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to save account: %v", err), http.StatusInternalServerError)
			return
		}
		if f.tokens != nil {
			f.tokens.ReloadAllTokens()
		}
		log.Printf("🔐 Logged in %s account %s", acc.Provider, acc.Label)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Login Successful</title></head>
<body>
	<h1>✅ Login Successful</h1>
	<p><strong>Provider:</strong> %s</p>
	<p><strong>Account:</strong> %s</p>
	<p>You can close this window.</p>
</body>
</html>`, html.EscapeString(acc.Provider), html.EscapeString(acc.Label))
	}
}

func (f *Flow) save(provider, label string, scopes []string, token *oauth2.Token) (models.Account, error) {
	var acc models.Account
	err := f.db.Where("label = ? AND provider = ?", label, provider).First(&acc).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		acc = models.Account{Provider: provider, Label: label}
	case err != nil:
		return acc, err
	}

	acc.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		acc.RefreshToken = token.RefreshToken
	}
	acc.ExpiresAt = token.Expiry
	acc.LastUsedAt = f.now()
	acc.IsActive = true
	acc.Scopes = strings.Join(scopes, " ")
	acc.BackoffLevel, acc.RateLimitedUntil, acc.LastErrorReason = 0, "", ""

	if acc.ID == "" {
		return acc, db.CreateAccount(f.db, &acc)
	}
	return acc, f.db.Save(&acc).Error
}
