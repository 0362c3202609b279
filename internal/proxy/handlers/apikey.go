package handlers

import (
	"log"
	"net/http"

	"github.com/pysugar/nexus-gateway/internal/db"
	"gorm.io/gorm"
)

// GetAPIKeyHandler returns the gateway API key.
// GET /api/config/apikey
func GetAPIKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"api_key": db.GetAPIKey(database)})
	}
}

// RegenerateAPIKeyHandler rotates the gateway API key. Clients using the old
// key are rejected from the next request on.
// POST /api/config/apikey/regenerate
func RegenerateAPIKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := db.RegenerateAPIKey(database)
		if err != nil {
			log.Printf("❌ Failed to regenerate API key: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to regenerate API key"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"api_key": key})
	}
}
