package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Subscription is a subscriber endpoint that receives outbound status
// notifications, with a per-endpoint HMAC secret.
type Subscription struct {
	ID          uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	URL         string         `gorm:"not null" json:"url"`
	Secret      string         `json:"secret"` // secret for HMAC
	Active      bool           `gorm:"default:true" json:"active"`
	PausedUntil *time.Time     `json:"paused_until"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}
