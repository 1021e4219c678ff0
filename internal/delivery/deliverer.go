package delivery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/verifid/webhook-relay/internal/config"
	"github.com/verifid/webhook-relay/internal/metrics"
	"github.com/verifid/webhook-relay/internal/models"
	"github.com/verifid/webhook-relay/internal/store"
)

// Outcome is the terminal classification of one delivery attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeExhausted Outcome = "exhausted"
)

// Deliverer performs single delivery attempts. It is shared by the retry
// scheduler and the queue worker; both must have claimed the row before
// calling Attempt.
type Deliverer struct {
	store  *store.DeliveryStore
	cfg    *config.DeliveryConfig
	logger *zap.Logger
}

func NewDeliverer(s *store.DeliveryStore, cfg *config.DeliveryConfig, logger *zap.Logger) *Deliverer {
	return &Deliverer{
		store:  s,
		cfg:    cfg,
		logger: logger,
	}
}

// Attempt performs exactly one delivery attempt for an already-claimed row,
// appends the attempt audit log, and moves the row to its next state.
// Every path out of Attempt releases the delivering lease.
func (d *Deliverer) Attempt(ctx context.Context, delivery models.OutboundDelivery) (Outcome, error) {
	deliveryID := delivery.ID

	sub, err := d.store.GetSubscription(ctx, delivery.SubscriptionID)
	if err != nil {
		// The row must not stay leased; consume the attempt.
		return d.recordFailure(ctx, delivery, fmt.Sprintf("subscription lookup failed: %v", err), "")
	}

	attemptStartedAt := time.Now().UTC()

	result := Post(
		ctx,
		delivery.TargetURL,
		delivery.Payload,
		sub.Secret,
		d.cfg.HTTPTimeout,
		d.cfg.MaxResponseBodySize,
		d.logger,
	)

	attemptFinishedAt := time.Now().UTC()

	attemptNo := delivery.AttemptCount + 1
	var responseBody *string
	if result.ResponseBody != "" {
		responseBody = &result.ResponseBody
	}
	if err := d.store.CreateAttemptLog(
		ctx,
		deliveryID,
		attemptNo,
		attemptStartedAt,
		attemptFinishedAt,
		result.HTTPStatus,
		&result.LatencyMs,
		result.ResponseSummary,
		responseBody,
	); err != nil {
		d.logger.Error("Failed to create delivery attempt log",
			zap.String("delivery_id", deliveryID.String()),
			zap.Error(err),
		)
	}

	// Success (2xx)
	if result.Error == nil && result.HTTPStatus != nil &&
		*result.HTTPStatus >= 200 && *result.HTTPStatus < 300 {
		if err := d.store.RecordSuccess(ctx, deliveryID); err != nil {
			return "", err
		}
		metrics.ObserveDeliveryOutcome(string(OutcomeSucceeded))
		d.logger.Info("Webhook delivery succeeded",
			zap.String("delivery_id", deliveryID.String()),
			zap.Int("attempt_count", attemptNo),
			zap.Int("http_status", *result.HTTPStatus),
			zap.Int("latency_ms", result.LatencyMs),
		)
		return OutcomeSucceeded, nil
	}

	return d.recordFailure(ctx, delivery, failureMessage(result), result.RetryAfter)
}

func (d *Deliverer) recordFailure(
	ctx context.Context,
	delivery models.OutboundDelivery,
	message string,
	retryAfter string,
) (Outcome, error) {
	status, attemptCount, err := d.store.RecordFailure(ctx, delivery.ID, message)
	if err != nil {
		return "", err
	}

	if status == models.DeliveryStatusExhausted {
		metrics.ObserveDeliveryOutcome(string(OutcomeExhausted))
		d.logger.Warn("Webhook delivery exhausted",
			zap.String("delivery_id", delivery.ID.String()),
			zap.Int("attempt_count", attemptCount),
			zap.String("last_error", message),
		)
		return OutcomeExhausted, nil
	}

	// A valid Retry-After from the subscriber overrides the backoff schedule.
	if retryAfter != "" {
		if wait, ok := ParseRetryAfterHeader(retryAfter); ok && wait > 0 {
			at := time.Now().UTC().Add(wait)
			if err := d.store.Reschedule(ctx, delivery.ID, at); err != nil {
				d.logger.Error("Failed to apply Retry-After",
					zap.String("delivery_id", delivery.ID.String()),
					zap.Error(err),
				)
			}
		}
	}

	metrics.ObserveDeliveryOutcome(string(OutcomeRetrying))
	d.logger.Info("Webhook delivery will be retried",
		zap.String("delivery_id", delivery.ID.String()),
		zap.Int("attempt_count", attemptCount),
		zap.String("last_error", message),
	)
	return OutcomeRetrying, nil
}

// failureMessage describes a failed attempt for the tracker's last_error.
func failureMessage(result *Result) string {
	if result.Error != nil {
		return fmt.Sprintf("network error: %v", result.Error)
	}
	if result.HTTPStatus == nil {
		return "no HTTP status code received"
	}
	if *result.HTTPStatus == 429 {
		return "rate limited (429)"
	}
	return fmt.Sprintf("HTTP %d", *result.HTTPStatus)
}
