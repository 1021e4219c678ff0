package models

import (
	"time"

	"github.com/google/uuid"
)

// StatusUpdate is the internal status row derived from exactly one inbound
// event. EventID is an ownership back-reference; the event is never mutated
// through it.
type StatusUpdate struct {
	ID         uuid.UUID              `gorm:"type:uuid;primary_key" json:"id"`
	VAINumber  string                 `gorm:"not null" json:"vai_number"`
	StatusType string                 `gorm:"not null" json:"status_type"`
	StatusData map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"status_data"`
	EventID    uuid.UUID              `gorm:"type:uuid;not null" json:"event_id"`
	Event      InboundEvent           `gorm:"foreignKey:EventID" json:"event,omitempty"`
	CreatedAt  time.Time              `gorm:"not null" json:"created_at"`
}

func (StatusUpdate) TableName() string {
	return "status_updates"
}
