package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/nexus-gateway/internal/db"
	"github.com/pysugar/nexus-gateway/internal/db/models"
	"github.com/pysugar/nexus-gateway/internal/providers/catalog"
	"github.com/pysugar/nexus-gateway/internal/resilience"
	"gorm.io/gorm"
)

type accountHealth struct {
	Provider         string                `json:"provider"`
	AccountID        string                `json:"account_id"`
	Label            string                `json:"label,omitempty"`
	Status           resilience.Status     `json:"status"`
	Health           int                   `json:"health"`
	BackoffLevel     int                   `json:"backoff_level"`
	Available        bool                  `json:"available"`
	RateLimitedUntil string                `json:"rate_limited_until,omitempty"`
	RetryAfter       string                `json:"retry_after,omitempty"`
	LastError        *resilience.ErrorInfo `json:"last_error,omitempty"`
}

// AccountsHealth handles GET /api/accounts/health. Accounts are listed
// healthiest first; model lockouts are listed separately.
func (g *Gateway) AccountsHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := g.Engine.Store()
		labels := map[string]string{}
		for _, p := range g.Catalog.Providers() {
			for _, acc := range g.Credentials.Accounts(p.ID) {
				store.Register(acc.Provider, acc.AccountID)
				labels[acc.Provider+"/"+acc.AccountID] = acc.Label
			}
		}

		now := store.Now()
		states := store.Accounts()
		out := make([]accountHealth, 0, len(states))
		for i := range states {
			st := states[i]
			h := accountHealth{
				Provider:     st.Provider,
				AccountID:    st.AccountID,
				Label:        labels[st.Provider+"/"+st.AccountID],
				Status:       st.Status,
				Health:       resilience.AccountHealth(&st, now),
				BackoffLevel: st.BackoffLevel,
				Available:    !resilience.IsAccountUnavailable(st.RateLimitedUntil, now),
				LastError:    st.LastError,
			}
			if h.Status == "" {
				h.Status = resilience.StatusActive
			}
			if st.RateLimitedUntil != nil && !h.Available {
				h.RateLimitedUntil = st.RateLimitedUntil.UTC().Format(time.RFC3339)
				h.RetryAfter = resilience.FormatRetryAfter(st.RateLimitedUntil, now)
			}
			out = append(out, h)
		}
		sortByHealth(out)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"accounts": out,
			"lockouts": store.GetAllModelLockouts(),
			"count":    len(out),
		})
	}
}

func sortByHealth(accounts []accountHealth) {
	sort.SliceStable(accounts, func(i, j int) bool { return accounts[i].Health > accounts[j].Health })
}

// ResetAccountHandler handles POST /api/accounts/{provider}/{id}/reset,
// clearing the account's backoff so it is tried again immediately.
func (g *Gateway) ResetAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := strings.ToLower(chi.URLParam(r, "provider"))
		id := chi.URLParam(r, "id")
		store := g.Engine.Store()
		if _, ok := store.Account(provider, id); !ok {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "account not found"})
			return
		}
		st := store.Update(provider, id, resilience.ResetAccountState)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "account": st})
	}
}

// AccountsListHandler handles GET /api/accounts. Tokens are never serialized.
func AccountsListHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := db.ActiveAccounts(database)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts, "count": len(accounts)})
	}
}

type createAccountRequest struct {
	Provider     string `json:"provider"`
	Label        string `json:"label"`
	APIKey       string `json:"api_key"`
	RefreshToken string `json:"refresh_token"`
	BaseURL      string `json:"base_url"`
}

// CreateAccountHandler handles POST /api/accounts. An account carries either
// a static API key or an OAuth refresh token for a provider with OAuth settings.
func CreateAccountHandler(database *gorm.DB, cat *catalog.Catalog, tokens Refresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "Invalid request body"})
			return
		}
		p, ok := cat.Get(req.Provider)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "unknown provider: " + req.Provider})
			return
		}
		switch {
		case req.APIKey == "" && req.RefreshToken == "":
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "api_key or refresh_token is required"})
			return
		case req.RefreshToken != "" && p.OAuth == nil:
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "provider has no OAuth settings: " + p.ID})
			return
		}
		if strings.TrimSpace(req.Label) == "" {
			req.Label = p.ID + "-" + time.Now().UTC().Format("20060102150405")
		}

		acc := models.Account{
			Provider:     p.ID,
			Label:        strings.TrimSpace(req.Label),
			AccessToken:  req.APIKey,
			RefreshToken: req.RefreshToken,
			BaseURL:      strings.TrimRight(strings.TrimSpace(req.BaseURL), "/"),
			IsActive:     true,
		}
		if acc.AccessToken == "" {
			// Expired on arrival so the first use refreshes it.
			acc.ExpiresAt = time.Now()
		}
		if err := db.CreateAccount(database, &acc); err != nil {
			writeJSON(w, http.StatusConflict, map[string]interface{}{"error": "Failed to create account (possibly duplicate label): " + err.Error()})
			return
		}
		log.Printf("➕ Added %s account %s", acc.Provider, acc.Label)
		tokens.ReloadAllTokens()
		writeJSON(w, http.StatusCreated, acc)
	}
}
