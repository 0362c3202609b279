package handlers

import (
	"net/http"
	"strings"
)

// ProvidersHandler lists the catalog with the number of usable accounts per provider.
// GET /api/providers
func (g *Gateway) ProvidersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providers := []map[string]interface{}{}
		for _, p := range g.Catalog.Providers() {
			providers = append(providers, map[string]interface{}{
				"id":             p.ID,
				"enabled":        p.Enabled,
				"format":         p.Format,
				"base_url":       p.BaseURL,
				"auth_mode":      p.AuthMode,
				"model_prefixes": p.ModelPrefixes,
				"capabilities":   p.Capabilities,
				"timeout_ms":     p.TimeoutMs,
				"oauth":          p.OAuth != nil,
				"accounts":       len(g.Credentials.Accounts(p.ID)),
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"providers": providers})
	}
}

// AllowedProvidersHandler shows which (provider, model) targets serve a client model.
// GET /api/providers/allowed?client_model=...
func (g *Gateway) AllowedProvidersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientModel := strings.TrimSpace(r.URL.Query().Get("client_model"))
		if clientModel == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "client_model is required"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"client_model": clientModel,
			"targets":      g.targets(clientModel),
		})
	}
}
