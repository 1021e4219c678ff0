package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/verifid/webhook-relay/internal/models"
)

// EventStore owns the append-only inbound event log and the status rows
// derived from it. The processing sequence for one event is strictly
// Ingest -> DeriveStatus -> MarkProcessed, each step gated on the success of
// the previous one. On a mid-sequence failure the event row is kept with
// processed=false so it can be reconciled later; nothing is rolled back.
type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

// Ingest inserts one inbound event row with processed=false.
func (s *EventStore) Ingest(
	ctx context.Context,
	eventType models.VerificationEventType,
	subjectUserID, vaiNumber string,
	payload map[string]interface{},
	signature *string,
) (uuid.UUID, error) {
	event := models.InboundEvent{
		ID:            uuid.New(),
		EventType:     string(eventType),
		SubjectUserID: subjectUserID,
		VAINumber:     vaiNumber,
		Payload:       payload,
		Signature:     signature,
		Processed:     false,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return uuid.Nil, fmt.Errorf("storage: failed to insert inbound event: %w", err)
	}

	return event.ID, nil
}

// DeriveStatus inserts the status row for an ingested event. On failure the
// originating event stays processed=false.
func (s *EventStore) DeriveStatus(
	ctx context.Context,
	eventID uuid.UUID,
	vaiNumber string,
	statusType models.VerificationEventType,
	statusData map[string]interface{},
) (uuid.UUID, error) {
	update := models.StatusUpdate{
		ID:         uuid.New(),
		VAINumber:  vaiNumber,
		StatusType: string(statusType),
		StatusData: statusData,
		EventID:    eventID,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&update).Error; err != nil {
		return uuid.Nil, fmt.Errorf("storage: failed to insert status update: %w", err)
	}

	return update.ID, nil
}

// MarkProcessed flips the event to processed. Only called after DeriveStatus
// succeeded; the conditional keeps the false -> true transition one-way.
func (s *EventStore) MarkProcessed(ctx context.Context, eventID uuid.UUID) error {
	now := time.Now().UTC()

	err := s.db.WithContext(ctx).Model(&models.InboundEvent{}).
		Where("id = ? AND processed = ?", eventID, false).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("storage: failed to mark event processed: %w", err)
	}

	return nil
}

// GetEvent loads one inbound event. Used by handlers and tests.
func (s *EventStore) GetEvent(ctx context.Context, eventID uuid.UUID) (*models.InboundEvent, error) {
	var event models.InboundEvent
	if err := s.db.WithContext(ctx).First(&event, "id = ?", eventID).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to load inbound event: %w", err)
	}
	return &event, nil
}

// GetStatusUpdate loads one derived status row.
func (s *EventStore) GetStatusUpdate(ctx context.Context, id uuid.UUID) (*models.StatusUpdate, error) {
	var update models.StatusUpdate
	if err := s.db.WithContext(ctx).First(&update, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to load status update: %w", err)
	}
	return &update, nil
}
