// Package discovery finds upstream credentials left by other local tools
// and imports them as gateway accounts.
package discovery

import (
	"errors"
	"log"
	"os"
	"path/filepath"

	"github.com/pysugar/nexus-gateway/internal/db"
	"github.com/pysugar/nexus-gateway/internal/db/models"
	"github.com/pysugar/nexus-gateway/internal/providers/catalog"
	"gorm.io/gorm"
)

// ScanResult holds the result of scanning all sources
type ScanResult struct {
	Credentials []Credential `json:"credentials"`
	Errors      []ScanError  `json:"errors,omitempty"`
}

// ScanError represents an error encountered during scanning
type ScanError struct {
	Source string `json:"source"`
	Path   string `json:"path"`
	Error  string `json:"error"`
}

// ScanAll scans every known source under the user's home directory.
func ScanAll() *ScanResult {
	home, err := os.UserHomeDir()
	if err != nil {
		return &ScanResult{Credentials: []Credential{}, Errors: []ScanError{{Error: err.Error()}}}
	}
	return Scan(home, Sources)
}

// Scan looks for sources below home.
func Scan(home string, sources []Source) *ScanResult {
	result := &ScanResult{
		Credentials: make([]Credential, 0),
		Errors:      make([]ScanError, 0),
	}
	for _, source := range sources {
		creds, errs := scanSource(home, source)
		result.Credentials = append(result.Credentials, creds...)
		result.Errors = append(result.Errors, errs...)
	}

	log.Printf("🔍 Discovery: Found %d credentials from %d sources", len(result.Credentials), len(sources))
	return result
}

func scanSource(home string, source Source) ([]Credential, []ScanError) {
	var credentials []Credential
	var errs []ScanError

	for _, pattern := range source.ConfigPaths {
		expanded := filepath.Join(home, pattern)
		matches, err := filepath.Glob(expanded)
		if err != nil {
			errs = append(errs, ScanError{Source: source.Name, Path: expanded, Error: "Glob error: " + err.Error()})
			continue
		}
		for _, path := range matches {
			creds, err := source.Parser(path)
			if err != nil {
				errs = append(errs, ScanError{Source: source.Name, Path: path, Error: err.Error()})
				continue
			}
			for _, cred := range creds {
				if cred.AccessToken != "" || cred.RefreshToken != "" {
					log.Printf("🔍 Found %s credentials from %s: %s", cred.Provider, source.Name, path)
					credentials = append(credentials, cred)
				}
			}
		}
	}
	return credentials, errs
}

// ImportResult reports what Import did per credential.
type ImportResult struct {
	Imported int      `json:"imported"`
	Updated  int      `json:"updated"`
	Skipped  []string `json:"skipped,omitempty"`
}

// Import stores creds as accounts. A credential whose provider is not in
// cat is skipped; one whose label already exists refreshes that account.
func Import(database *gorm.DB, cat *catalog.Catalog, creds []Credential) (ImportResult, error) {
	var res ImportResult
	for _, cred := range creds {
		if _, ok := cat.Get(cred.Provider); !ok {
			res.Skipped = append(res.Skipped, cred.Source+"/"+cred.Provider+": provider not configured")
			continue
		}

		var acc models.Account
		err := database.Where("label = ? AND provider = ?", cred.Label(), cred.Provider).First(&acc).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			acc = models.Account{
				Provider:     cred.Provider,
				Label:        cred.Label(),
				AccessToken:  cred.AccessToken,
				RefreshToken: cred.RefreshToken,
				ExpiresAt:    cred.ExpiresAt,
				IsActive:     true,
			}
			if err := db.CreateAccount(database, &acc); err != nil {
				return res, err
			}
			res.Imported++
		case err != nil:
			return res, err
		default:
			err := database.Model(&acc).Updates(map[string]interface{}{
				"access_token":  cred.AccessToken,
				"refresh_token": cred.RefreshToken,
				"expires_at":    cred.ExpiresAt,
				"is_active":     true,
			}).Error
			if err != nil {
				return res, err
			}
			res.Updated++
		}
	}
	return res, nil
}

// MaskToken returns a masked version of a token for display
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// MaskCredential returns a copy of the credential with masked tokens
func MaskCredential(cred Credential) Credential {
	masked := cred
	masked.AccessToken = MaskToken(cred.AccessToken)
	masked.RefreshToken = MaskToken(cred.RefreshToken)
	return masked
}
