package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/nexus-gateway/internal/db/models"
	"github.com/pysugar/nexus-gateway/internal/resilience"
	"gorm.io/gorm"
)

// ActiveAccounts returns every active account ordered by provider and creation time.
func ActiveAccounts(db *gorm.DB) ([]models.Account, error) {
	var accounts []models.Account
	err := db.Where("is_active = ?", true).Order("provider ASC, created_at ASC").Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	return accounts, nil
}

// CreateAccount inserts acc, assigning an ID when it has none.
func CreateAccount(db *gorm.DB, acc *models.Account) error {
	if strings.TrimSpace(acc.ID) == "" {
		acc.ID = uuid.New().String()
	}
	acc.Provider = normalizeProvider(acc.Provider)
	if acc.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	return db.Create(acc).Error
}

// StateFromAccount converts the persisted resilience columns of acc.
func StateFromAccount(acc models.Account) resilience.AccountState {
	st := resilience.AccountState{
		Provider:         acc.Provider,
		AccountID:        acc.ID,
		BackoffLevel:     acc.BackoffLevel,
		RateLimitedUntil: resilience.ParseRateLimitedUntil(acc.RateLimitedUntil),
		Status:           resilience.StatusActive,
	}
	if acc.LastErrorReason != "" {
		st.LastError = &resilience.ErrorInfo{Reason: resilience.Reason(acc.LastErrorReason)}
		st.Status = resilience.StatusError
	}
	return st
}

// SaveAccountState writes st back onto its account row. Accounts that only
// exist in the environment have no row and are skipped silently.
func SaveAccountState(db *gorm.DB, st resilience.AccountState) error {
	until := ""
	if st.RateLimitedUntil != nil {
		until = st.RateLimitedUntil.UTC().Format(time.RFC3339Nano)
	}
	reason := ""
	if st.LastError != nil {
		reason = string(st.LastError.Reason)
	}
	return db.Model(&models.Account{}).
		Where("id = ? AND provider = ?", st.AccountID, st.Provider).
		Updates(map[string]interface{}{
			"backoff_level":      st.BackoffLevel,
			"rate_limited_until": until,
			"last_error_reason":  reason,
		}).Error
}
