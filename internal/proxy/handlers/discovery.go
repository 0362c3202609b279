package handlers

import (
	"log"
	"net/http"

	"github.com/pysugar/nexus-gateway/internal/discovery"
	"github.com/pysugar/nexus-gateway/internal/providers/catalog"
	"gorm.io/gorm"
)

// DiscoveryScanHandler handles GET /api/discovery/scan. Tokens are masked.
func DiscoveryScanHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := discovery.ScanAll()
		for i, c := range res.Credentials {
			res.Credentials[i] = discovery.MaskCredential(c)
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// DiscoveryImportHandler handles POST /api/discovery/import: everything the
// scan finds is stored as accounts and the token cache is reloaded.
func DiscoveryImportHandler(database *gorm.DB, cat *catalog.Catalog, tokens Refresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scan := discovery.ScanAll()
		res, err := discovery.Import(database, cat, scan.Credentials)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
			return
		}
		if res.Imported+res.Updated > 0 {
			tokens.ReloadAllTokens()
		}
		log.Printf("📥 Discovery import: %d new, %d updated, %d skipped", res.Imported, res.Updated, len(res.Skipped))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"result": res,
			"errors": scan.Errors,
		})
	}
}
