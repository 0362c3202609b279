// Package token resolves upstream credentials per account and keeps OAuth
// access tokens fresh in the background.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pysugar/nexus-gateway/internal/db/models"
	"github.com/pysugar/nexus-gateway/internal/providers/catalog"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// EnvAccountID names the implicit account backed by a provider's API key env var.
const EnvAccountID = "env"

var (
	ErrAccountNotFound = errors.New("account not found or inactive")
	ErrNoRefresh       = errors.New("account cannot be refreshed")
)

// Credential is what one upstream call needs for an account.
type Credential struct {
	Provider  string
	AccountID string
	Token     string
	// BaseURL is the account override; empty means the provider default.
	BaseURL   string
	ExpiresAt time.Time
}

// AccountRef names one usable account of a provider.
type AccountRef struct {
	Provider  string `json:"provider"`
	AccountID string `json:"account_id"`
	Label     string `json:"label"`
}

// CachedToken holds an in-memory token with its metadata
type CachedToken struct {
	Provider    string
	Label       string
	AccessToken string
	BaseURL     string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// expiring reports whether a token with an expiry is within margin of it.
// Tokens without an expiry are API keys and never expire.
func (t *CachedToken) expiring(now time.Time, margin time.Duration) bool {
	return !t.ExpiresAt.IsZero() && t.ExpiresAt.Before(now.Add(margin))
}

// Manager handles token lifecycle including auto-refresh
type Manager struct {
	db      *gorm.DB
	catalog *catalog.Catalog
	// httpClient is used for token endpoint calls; nil means http.DefaultClient.
	httpClient *http.Client
	now        func() time.Time

	cache map[string]*CachedToken
	mu    sync.RWMutex
	// refreshMu serializes refreshes so concurrent callers do not spend a
	// rotating refresh token twice.
	refreshMu sync.Mutex
}

// NewManager creates a token manager and loads every active account.
func NewManager(db *gorm.DB, cat *catalog.Catalog) *Manager {
	m := &Manager{
		db:      db,
		catalog: cat,
		now:     time.Now,
		cache:   make(map[string]*CachedToken),
	}
	m.loadAllTokens()
	return m
}

// SetHTTPClient sets the client used for OAuth token requests.
func (m *Manager) SetHTTPClient(c *http.Client) {
	m.httpClient = c
}

// loadAllTokens loads all active tokens into memory
func (m *Manager) loadAllTokens() {
	var accounts []models.Account
	m.db.Where("is_active = ?", true).Find(&accounts)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Full rebuild keeps cache consistent with DB active set.
	m.cache = make(map[string]*CachedToken, len(accounts))
	for _, acc := range accounts {
		m.cache[acc.ID] = cachedFromAccount(acc)
	}
	log.Printf("📦 Loaded %d accounts into cache", len(accounts))
}

func cachedFromAccount(acc models.Account) *CachedToken {
	return &CachedToken{
		Provider:    strings.ToLower(acc.Provider),
		Label:       acc.Label,
		AccessToken: acc.AccessToken,
		BaseURL:     acc.BaseURL,
		ExpiresAt:   acc.ExpiresAt,
		CreatedAt:   acc.CreatedAt,
	}
}

// ReloadAllTokens reloads the token cache from the database (public API)
func (m *Manager) ReloadAllTokens() {
	m.loadAllTokens()
}

// Accounts lists the usable accounts of provider: stored accounts in creation
// order, then the env account when the provider's API key variable is set.
func (m *Manager) Accounts(provider string) []AccountRef {
	provider = strings.ToLower(strings.TrimSpace(provider))

	m.mu.RLock()
	type entry struct {
		ref     AccountRef
		created time.Time
	}
	var entries []entry
	for id, t := range m.cache {
		if t.Provider == provider {
			entries = append(entries, entry{AccountRef{Provider: provider, AccountID: id, Label: t.Label}, t.CreatedAt})
		}
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].created.Equal(entries[j].created) {
			return entries[i].created.Before(entries[j].created)
		}
		return entries[i].ref.AccountID < entries[j].ref.AccountID
	})
	refs := make([]AccountRef, 0, len(entries)+1)
	for _, e := range entries {
		refs = append(refs, e.ref)
	}
	if p, ok := m.catalog.Get(provider); ok && p.APIKey != "" {
		refs = append(refs, AccountRef{Provider: provider, AccountID: EnvAccountID, Label: p.APIKeyEnv})
	}
	return refs
}

// Credential returns a usable token for the account, refreshing it first
// when it is about to expire.
func (m *Manager) Credential(ctx context.Context, provider, accountID string) (Credential, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if accountID == EnvAccountID {
		p, ok := m.catalog.Get(provider)
		if !ok || p.APIKey == "" {
			return Credential{}, fmt.Errorf("%w: %s/%s", ErrAccountNotFound, provider, accountID)
		}
		return Credential{Provider: provider, AccountID: accountID, Token: p.APIKey}, nil
	}

	m.mu.RLock()
	t, ok := m.cache[accountID]
	m.mu.RUnlock()
	if !ok || t.Provider != provider {
		return Credential{}, fmt.Errorf("%w: %s/%s", ErrAccountNotFound, provider, accountID)
	}

	if t.expiring(m.now(), time.Minute) {
		log.Printf("⚠️ Token for %s/%s is expired/expiring, refreshing...", provider, t.Label)
		if err := m.refreshToken(ctx, accountID); err != nil {
			return Credential{}, err
		}
		m.mu.RLock()
		t = m.cache[accountID]
		m.mu.RUnlock()
		if t == nil {
			return Credential{}, fmt.Errorf("%w: %s/%s", ErrAccountNotFound, provider, accountID)
		}
	}

	return Credential{
		Provider:  provider,
		AccountID: accountID,
		Token:     t.AccessToken,
		BaseURL:   t.BaseURL,
		ExpiresAt: t.ExpiresAt,
	}, nil
}

// RefreshAccountToken forces a refresh for a specific account
func (m *Manager) RefreshAccountToken(ctx context.Context, accountID string) error {
	return m.refreshToken(ctx, accountID)
}

func maskToken(t string) string {
	if len(t) < 20 {
		return "***"
	}
	return "..." + t[len(t)-8:]
}

// StartRefreshLoop refreshes expiring tokens every interval until ctx is done.
func (m *Manager) StartRefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refreshExpiredTokens(ctx, interval+5*time.Minute)
			}
		}
	}()
	log.Printf("🔄 Token refresh loop started (interval: %s)", interval)
}

// refreshExpiredTokens refreshes every token expiring within window.
func (m *Manager) refreshExpiredTokens(ctx context.Context, window time.Duration) {
	var accounts []models.Account
	threshold := m.now().Add(window)
	m.db.Where("is_active = ? AND refresh_token <> '' AND expires_at < ?", true, threshold).Find(&accounts)

	for _, acc := range accounts {
		if err := m.refreshToken(ctx, acc.ID); err != nil && !errors.Is(err, ErrNoRefresh) {
			log.Printf("⏳ Scheduled refresh failed for %s/%s: %v", acc.Provider, acc.Label, err)
		}
	}
}

func (m *Manager) oauthConfig(provider string) (*oauth2.Config, bool) {
	p, ok := m.catalog.Get(provider)
	if !ok || p.OAuth == nil {
		return nil, false
	}
	return &oauth2.Config{
		ClientID:     p.OAuth.ClientID,
		ClientSecret: p.OAuth.ClientSecret,
		Scopes:       p.OAuth.Scopes,
		Endpoint:     oauth2.Endpoint{TokenURL: p.OAuth.TokenURL},
	}, true
}

// refreshToken refreshes a single token
func (m *Manager) refreshToken(ctx context.Context, accountID string) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	var account models.Account
	if err := m.db.First(&account, "id = ?", accountID).Error; err != nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if account.RefreshToken == "" {
		return fmt.Errorf("%w: %s has no refresh token", ErrNoRefresh, account.Label)
	}
	config, ok := m.oauthConfig(account.Provider)
	if !ok {
		return fmt.Errorf("%w: provider %s has no token_url", ErrNoRefresh, account.Provider)
	}

	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	// Use OAuth2 token source for refresh
	tokenSource := config.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})

	newToken, err := tokenSource.Token()
	if err != nil {
		log.Printf("❌ Refresh token failed for %s/%s: %v", account.Provider, account.Label, err)

		if isPermanentRefreshError(err) {
			// Permanent auth failures should deactivate account and require re-login.
			m.db.Model(&account).Update("is_active", false)

			m.mu.Lock()
			delete(m.cache, accountID)
			m.mu.Unlock()

			log.Printf("🔒 Account %s/%s marked as inactive. Please re-login.", account.Provider, account.Label)
			return fmt.Errorf("refresh %s: %w", account.Label, err)
		}

		// Transient failure: keep account active and retry later.
		log.Printf("⏳ Transient refresh failure for %s/%s, account remains active", account.Provider, account.Label)
		return fmt.Errorf("refresh %s: %w", account.Label, err)
	}

	updates := map[string]interface{}{
		"access_token": newToken.AccessToken,
		"expires_at":   newToken.Expiry,
		"last_used_at": m.now(),
		"is_active":    true,
	}
	// Persist rotated refresh token if provided (RFC 6749 compliance)
	if newToken.RefreshToken != "" && newToken.RefreshToken != account.RefreshToken {
		log.Printf("🔄 Rotating refresh token for: %s/%s", account.Provider, account.Label)
		updates["refresh_token"] = newToken.RefreshToken
	}
	if err := m.db.Model(&account).Updates(updates).Error; err != nil {
		return fmt.Errorf("save refreshed token: %w", err)
	}

	account.AccessToken = newToken.AccessToken
	account.ExpiresAt = newToken.Expiry
	m.mu.Lock()
	m.cache[accountID] = cachedFromAccount(account)
	m.mu.Unlock()

	log.Printf("✅ Refreshed token for: %s/%s (%s, expires: %s)", account.Provider, account.Label, maskToken(newToken.AccessToken), newToken.Expiry.Format(time.RFC3339))
	return nil
}

func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
