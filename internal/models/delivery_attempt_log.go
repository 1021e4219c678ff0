package models

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryAttemptLog struct {
	ID                 int64            `gorm:"primary_key;autoIncrement" json:"id"`
	OutboundDeliveryID uuid.UUID        `gorm:"type:uuid;not null" json:"outbound_delivery_id"`
	OutboundDelivery   OutboundDelivery `gorm:"foreignKey:OutboundDeliveryID" json:"outbound_delivery,omitempty"`
	AttemptNo          int              `gorm:"not null" json:"attempt_no"`
	StartedAt          time.Time        `gorm:"not null" json:"started_at"`
	FinishedAt         time.Time        `gorm:"not null" json:"finished_at"`
	HTTPStatus         *int             `gorm:"type:integer" json:"http_status"`
	LatencyMs          *int             `gorm:"type:integer" json:"latency_ms"`
	ResponseSummary    *string          `json:"response_summary"`
	ResponseBody       *string          `gorm:"type:text" json:"response_body"`
	CreatedAt          time.Time        `json:"created_at"`
}

func (DeliveryAttemptLog) TableName() string {
	return "delivery_attempt_log"
}
