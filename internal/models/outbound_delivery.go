package models

import (
	"time"

	"github.com/google/uuid"
)

// Outbound delivery statuses. Delivering is the in-flight lease marker:
// a row is claimed by conditionally moving pending/retrying -> delivering
// before an attempt, so concurrent passes cannot double-send it.
const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusRetrying   = "retrying"
	DeliveryStatusDelivering = "delivering"
	DeliveryStatusDelivered  = "delivered"
	DeliveryStatusExhausted  = "exhausted"
)

// OutboundDelivery tracks one notification to one subscriber endpoint across
// retry attempts. Terminal rows (delivered, exhausted) are inert but retained
// for audit.
type OutboundDelivery struct {
	ID             uuid.UUID              `gorm:"type:uuid;primary_key" json:"id"`
	SubscriptionID uuid.UUID              `gorm:"type:uuid;not null" json:"subscription_id"`
	Subscription   Subscription           `gorm:"foreignKey:SubscriptionID" json:"subscription,omitempty"`
	StatusUpdateID uuid.UUID              `gorm:"type:uuid;not null" json:"status_update_id"`
	TargetURL      string                 `gorm:"not null" json:"target_url"`
	Payload        map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"payload"`
	AttemptCount   int                    `gorm:"not null;default:0" json:"attempt_count"`
	MaxAttempts    int                    `gorm:"not null;default:5" json:"max_attempts"`
	Status         string                 `gorm:"not null;default:'pending'" json:"status"`
	NextAttemptAt  *time.Time             `json:"next_attempt_at"`
	LastError      *string                `json:"last_error"`
	CreatedAt      time.Time              `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time              `gorm:"not null" json:"updated_at"`
}

func (OutboundDelivery) TableName() string {
	return "outbound_deliveries"
}
