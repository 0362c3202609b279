package handlers

import (
	"net/http"
	"time"

	"github.com/pysugar/nexus-gateway/internal/providers/catalog"
)

// ModelsList handles GET /v1/models. Every routed client model is listed,
// owned by the provider of its first target.
func (g *Gateway) ModelsList() http.HandlerFunc {
	created := time.Now().Unix()
	return func(w http.ResponseWriter, r *http.Request) {
		data := []map[string]interface{}{}
		seen := map[string]bool{}
		if g.Routes != nil {
			for _, m := range g.Routes.ClientModels() {
				owner := "nexus"
				if targets := g.Routes.Resolve(m); len(targets) > 0 {
					owner = targets[0].Provider
				}
				seen[m] = true
				data = append(data, map[string]interface{}{
					"id":       m,
					"object":   "model",
					"created":  created,
					"owned_by": owner,
				})
			}
		}
		// Providers reachable by prefix are advertised by their prefixes so
		// clients can discover which model families are served.
		for _, p := range g.Catalog.Providers() {
			if !p.Enabled || !p.HasCapability(catalog.CapabilityChat) || len(g.Credentials.Accounts(p.ID)) == 0 {
				continue
			}
			for _, prefix := range p.ModelPrefixes {
				id := prefix + "*"
				if seen[id] {
					continue
				}
				seen[id] = true
				data = append(data, map[string]interface{}{
					"id":       id,
					"object":   "model",
					"created":  created,
					"owned_by": p.ID,
				})
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"object": "list",
			"data":   data,
		})
	}
}
