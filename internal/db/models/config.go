package models

import "time"

// Config is a key/value setting persisted next to the accounts (the gateway API key lives here).
type Config struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
