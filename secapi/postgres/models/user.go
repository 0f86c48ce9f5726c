package models

import (
	"time"

	"gorm.io/gorm"
)

// Tier constants for user account tiers.
const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// User represents an API principal. Only the SHA-256 hash of the API key is
// ever persisted; the raw key is shown once at registration time.
type User struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	Email      string         `gorm:"uniqueIndex;not null;size:255" json:"email"`
	APIKeyHash string         `gorm:"uniqueIndex;not null;size:64" json:"-"`
	Tier       string         `gorm:"not null;size:50;default:free" json:"tier"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for the User model
func (User) TableName() string {
	return "users"
}
