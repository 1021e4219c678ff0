package models

import (
	"time"

	"github.com/google/uuid"
)

// InboundEvent is the durable, append-only record of a provider webhook
// delivery. Rows are never deleted; Processed flips false -> true exactly
// once, after the derived StatusUpdate row has been written.
type InboundEvent struct {
	ID            uuid.UUID              `gorm:"type:uuid;primary_key" json:"id"`
	EventType     string                 `gorm:"not null" json:"event_type"`
	SubjectUserID string                 `gorm:"not null" json:"subject_user_id"`
	VAINumber     string                 `gorm:"not null" json:"vai_number"`
	Payload       map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"payload"`
	Signature     *string                `json:"signature"`
	Processed     bool                   `gorm:"not null;default:false" json:"processed"`
	ProcessedAt   *time.Time             `json:"processed_at"`
	CreatedAt     time.Time              `gorm:"not null" json:"created_at"`
}

func (InboundEvent) TableName() string {
	return "inbound_webhook_events"
}
