package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/nexus-gateway/internal/auth/token"
)

// Refresher forces OAuth refreshes. *token.Manager implements it.
type Refresher interface {
	RefreshAccountToken(ctx context.Context, accountID string) error
	ReloadAllTokens()
}

// RefreshHandler reloads the account cache from the database, picking up
// accounts added since startup.
func RefreshHandler(tokenMgr Refresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenMgr.ReloadAllTokens()
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"message": "Account cache reloaded",
		})
	}
}

// RefreshAccountHandler handles POST /api/accounts/{id}/refresh.
func RefreshAccountHandler(tokenMgr Refresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := tokenMgr.RefreshAccountToken(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
		case errors.Is(err, token.ErrAccountNotFound):
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": err.Error()})
		case errors.Is(err, token.ErrNoRefresh):
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		default:
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{"error": err.Error()})
		}
	}
}
