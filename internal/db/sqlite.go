// Package db persists accounts, model routes, settings and usage logs in SQLite.
package db

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/nexus-gateway/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const apiKeyConfig = "api_key"

// InitDB opens the SQLite database at dbPath and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}

	// Ensure API key exists (generate on first run)
	if err := ensureAPIKey(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Account{}, &models.Config{}, &models.ModelRoute{}, &models.RequestLog{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func ensureAPIKey(db *gorm.DB) error {
	var config models.Config
	err := db.Where("key = ?", apiKeyConfig).First(&config).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("read api key: %w", err)
	}

	apiKey := newAPIKey()
	if err := db.Create(&models.Config{Key: apiKeyConfig, Value: apiKey}).Error; err != nil {
		return fmt.Errorf("store api key: %w", err)
	}
	log.Printf("🔑 Generated new API key: %s", apiKey)
	return nil
}

// newAPIKey returns sk-<32 hex chars>.
func newAPIKey() string {
	keyBytes := make([]byte, 16)
	rand.Read(keyBytes)
	return "sk-" + hex.EncodeToString(keyBytes)
}

// GetAPIKey retrieves the API key from database
func GetAPIKey(db *gorm.DB) string {
	var config models.Config
	db.Where("key = ?", apiKeyConfig).First(&config)
	return config.Value
}

// RegenerateAPIKey replaces the API key and returns the new value.
func RegenerateAPIKey(db *gorm.DB) (string, error) {
	apiKey := newAPIKey()
	err := db.Model(&models.Config{}).Where("key = ?", apiKeyConfig).Update("value", apiKey).Error
	if err != nil {
		return "", fmt.Errorf("store api key: %w", err)
	}
	log.Printf("🔑 Regenerated API key: %s", maskKey(apiKey))
	return apiKey, nil
}

func maskKey(k string) string {
	if len(k) < 12 {
		return "***"
	}
	return k[:5] + "..." + k[len(k)-4:]
}
