package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pysugar/nexus-gateway/internal/version"
)

// VersionHandler returns version information as JSON
// GET /api/version
func VersionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.Info())
	}
}
