package models

import (
	"time"
)

// ModelRoute maps a client model name onto a model at a specific provider.
// One client model may have several routes; they become fallback candidates
// in ascending Priority order.
//   - ClientModel: the model name in the client request (e.g. "smart")
//   - TargetProvider: a provider id from the catalog (e.g. "anthropic")
//   - TargetModel: the model name sent upstream (e.g. "claude-sonnet-4-5")
type ModelRoute struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ClientModel    string    `gorm:"uniqueIndex:idx_model_provider;not null" json:"client_model"`
	TargetProvider string    `gorm:"uniqueIndex:idx_model_provider;not null" json:"target_provider"`
	TargetModel    string    `gorm:"not null" json:"target_model"`
	Priority       int       `gorm:"default:0" json:"priority"`
	IsActive       bool      `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
