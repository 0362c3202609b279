package models

import "time"

// Account is one credential for an upstream provider. For key-based
// providers AccessToken holds the API key and ExpiresAt stays zero.
type Account struct {
	ID           string `gorm:"primaryKey" json:"id"` // UUID
	Label        string `gorm:"uniqueIndex:idx_label_provider" json:"label"`
	Provider     string `gorm:"uniqueIndex:idx_label_provider;index" json:"provider"` // catalog provider id
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	// BaseURL overrides the provider's base URL for this account.
	BaseURL    string    `json:"base_url,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	IsActive   bool      `gorm:"default:true" json:"is_active"`
	Scopes     string    `json:"scopes,omitempty"` // space-separated granted scopes

	// Persisted resilience state, restored into the account store at startup.
	BackoffLevel     int    `json:"backoff_level"`
	RateLimitedUntil string `json:"rate_limited_until,omitempty"` // RFC 3339 or unix ms
	LastErrorReason  string `json:"last_error_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
