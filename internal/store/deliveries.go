package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/verifid/webhook-relay/internal/models"
)

// ErrDeliveryNotFound is returned when a tracked delivery row does not exist.
var ErrDeliveryNotFound = errors.New("storage: outbound delivery not found")

// DeliveryStore owns outbound delivery rows, their attempt audit log and the
// subscriber endpoints they target. It is the only component that mutates
// retry state; the scheduler and the worker are stateless over it.
type DeliveryStore struct {
	db *gorm.DB
}

func NewDeliveryStore(db *gorm.DB) *DeliveryStore {
	return &DeliveryStore{db: db}
}

// CreateDelivery inserts a pending delivery row that is immediately due.
func (s *DeliveryStore) CreateDelivery(
	ctx context.Context,
	subscription models.Subscription,
	statusUpdateID uuid.UUID,
	payload map[string]interface{},
	maxAttempts int,
) (*models.OutboundDelivery, error) {
	now := time.Now().UTC()
	delivery := models.OutboundDelivery{
		ID:             uuid.New(),
		SubscriptionID: subscription.ID,
		StatusUpdateID: statusUpdateID,
		TargetURL:      subscription.URL,
		Payload:        payload,
		AttemptCount:   0,
		MaxAttempts:    maxAttempts,
		Status:         models.DeliveryStatusPending,
		NextAttemptAt:  &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.db.WithContext(ctx).Create(&delivery).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to insert outbound delivery: %w", err)
	}

	return &delivery, nil
}

// DueForRetry returns up to limit deliveries whose next attempt is due,
// oldest-due first to bound worst-case staleness. Terminal and in-flight
// rows are never returned.
func (s *DeliveryStore) DueForRetry(ctx context.Context, limit int) ([]models.OutboundDelivery, error) {
	var deliveries []models.OutboundDelivery
	now := time.Now().UTC()

	err := s.db.WithContext(ctx).
		Where("status IN ? AND next_attempt_at <= ?",
			[]string{models.DeliveryStatusPending, models.DeliveryStatusRetrying}, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&deliveries).Error
	if err != nil {
		return nil, fmt.Errorf("storage: failed to query due deliveries: %w", err)
	}

	return deliveries, nil
}

// Claim leases a delivery for one attempt by conditionally moving it from
// pending/retrying to delivering. Returns false when another pass already
// holds the row, so concurrent passes never double-send.
func (s *DeliveryStore) Claim(ctx context.Context, deliveryID uuid.UUID) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.OutboundDelivery{}).
		Where("id = ? AND status IN ?", deliveryID,
			[]string{models.DeliveryStatusPending, models.DeliveryStatusRetrying}).
		Updates(map[string]interface{}{
			"status":     models.DeliveryStatusDelivering,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("storage: failed to claim delivery: %w", result.Error)
	}

	return result.RowsAffected == 1, nil
}

// ReleaseStaleLeases reverts deliveries stuck in delivering back to retrying.
// A row only stays delivering past olderThan when the holder died between
// claiming and recording the attempt; reverting makes it due again without
// consuming an attempt. Returns the number of rows released.
func (s *DeliveryStore) ReleaseStaleLeases(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result := s.db.WithContext(ctx).Model(&models.OutboundDelivery{}).
		Where("status = ? AND updated_at <= ?", models.DeliveryStatusDelivering, cutoff).
		Updates(map[string]interface{}{
			"status":     models.DeliveryStatusRetrying,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("storage: failed to release stale leases: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// RecordSuccess marks a delivery as delivered and clears its schedule.
func (s *DeliveryStore) RecordSuccess(ctx context.Context, deliveryID uuid.UUID) error {
	err := s.db.WithContext(ctx).Model(&models.OutboundDelivery{}).
		Where("id = ?", deliveryID).
		Updates(map[string]interface{}{
			"status":          models.DeliveryStatusDelivered,
			"next_attempt_at": nil,
			"last_error":      nil,
			"updated_at":      time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("storage: failed to record delivery success: %w", err)
	}

	return nil
}

// RecordFailure consumes one attempt: it increments attempt_count, stores the
// error, and either schedules the next attempt on the backoff table or, once
// max_attempts are consumed, moves the row to exhausted with no further
// schedule. Returns the resulting status and attempt count.
func (s *DeliveryStore) RecordFailure(
	ctx context.Context,
	deliveryID uuid.UUID,
	deliveryErr string,
) (string, int, error) {
	var status string
	var attemptCount int

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var delivery models.OutboundDelivery
		if err := tx.First(&delivery, "id = ?", deliveryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDeliveryNotFound
			}
			return err
		}

		now := time.Now().UTC()
		attemptCount = delivery.AttemptCount + 1

		updates := map[string]interface{}{
			"attempt_count": attemptCount,
			"last_error":    deliveryErr,
			"updated_at":    now,
		}

		if attemptCount >= delivery.MaxAttempts {
			status = models.DeliveryStatusExhausted
			updates["status"] = status
			updates["next_attempt_at"] = nil
		} else {
			status = models.DeliveryStatusRetrying
			next := now.Add(BackoffDelay(attemptCount))
			updates["status"] = status
			updates["next_attempt_at"] = next
		}

		return tx.Model(&models.OutboundDelivery{}).
			Where("id = ?", deliveryID).
			Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, ErrDeliveryNotFound) {
			return "", 0, err
		}
		return "", 0, fmt.Errorf("storage: failed to record delivery failure: %w", err)
	}

	return status, attemptCount, nil
}

// Reschedule overrides the next attempt time of a retrying delivery, used
// when a subscriber answers 429 with an explicit Retry-After.
func (s *DeliveryStore) Reschedule(ctx context.Context, deliveryID uuid.UUID, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.OutboundDelivery{}).
		Where("id = ? AND status = ?", deliveryID, models.DeliveryStatusRetrying).
		Updates(map[string]interface{}{
			"next_attempt_at": at.UTC(),
			"updated_at":      time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("storage: failed to reschedule delivery: %w", err)
	}

	return nil
}

// GetDelivery loads one delivery row.
func (s *DeliveryStore) GetDelivery(ctx context.Context, deliveryID uuid.UUID) (*models.OutboundDelivery, error) {
	var delivery models.OutboundDelivery
	err := s.db.WithContext(ctx).First(&delivery, "id = ?", deliveryID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("storage: failed to load outbound delivery: %w", err)
	}
	return &delivery, nil
}

// GetSubscription loads one subscriber endpoint.
func (s *DeliveryStore) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to load subscription: %w", err)
	}
	return &sub, nil
}

// ActiveSubscriptions returns subscriber endpoints that should receive
// notifications right now (active and not paused).
func (s *DeliveryStore) ActiveSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	var subs []models.Subscription
	now := time.Now().UTC()

	err := s.db.WithContext(ctx).
		Where("active = ? AND (paused_until IS NULL OR paused_until <= ?)", true, now).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("storage: failed to query subscriptions: %w", err)
	}

	return subs, nil
}

// CreateAttemptLog appends one audit row for a delivery attempt.
func (s *DeliveryStore) CreateAttemptLog(
	ctx context.Context,
	deliveryID uuid.UUID,
	attemptNo int,
	startedAt, finishedAt time.Time,
	httpStatus *int,
	latencyMs *int,
	responseSummary *string,
	responseBody *string,
) error {
	attemptLog := models.DeliveryAttemptLog{
		OutboundDeliveryID: deliveryID,
		AttemptNo:          attemptNo,
		StartedAt:          startedAt,
		FinishedAt:         finishedAt,
		HTTPStatus:         httpStatus,
		LatencyMs:          latencyMs,
		ResponseSummary:    responseSummary,
		ResponseBody:       responseBody,
		CreatedAt:          time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&attemptLog).Error; err != nil {
		return fmt.Errorf("storage: failed to insert delivery attempt log: %w", err)
	}

	return nil
}
