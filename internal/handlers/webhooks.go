package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/verifid/webhook-relay/internal/config"
	"github.com/verifid/webhook-relay/internal/metrics"
	"github.com/verifid/webhook-relay/internal/models"
	"github.com/verifid/webhook-relay/internal/rabbitmq"
	"github.com/verifid/webhook-relay/internal/signature"
	"github.com/verifid/webhook-relay/internal/store"
)

// SignatureHeader carries the provider's hex SHA-256 signature over body+secret.
const SignatureHeader = "X-Vai-Signature"

// WebhookHandler receives signed provider callbacks and runs the inbound
// sequence: ingest -> derive status -> mark processed -> fan-out publish.
// Each step gates the next; a failure surfaces as a 500 and leaves the event
// row in place for reconciliation.
type WebhookHandler struct {
	Events  *store.EventStore
	RMQ     *rabbitmq.Connection
	Webhook *config.WebhookConfig
	Deliver *config.DeliveryConfig
	Logger  *zap.Logger
}

func NewWebhookHandler(
	events *store.EventStore,
	rmq *rabbitmq.Connection,
	webhookCfg *config.WebhookConfig,
	deliverCfg *config.DeliveryConfig,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		Events:  events,
		RMQ:     rmq,
		Webhook: webhookCfg,
		Deliver: deliverCfg,
		Logger:  logger,
	}
}

type inboundWebhookRequest struct {
	EventType string                 `json:"event_type"`
	UserID    string                 `json:"user_id"`
	VAINumber string                 `json:"vai_number"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// HandleVerificationWebhook handles POST /api/v1/webhooks/verification
func (h *WebhookHandler) HandleVerificationWebhook(c *fiber.Ctx) error {
	body := c.Body()
	presented := c.Get(SignatureHeader)

	// Signature policy: reject only a present-but-wrong signature. A missing
	// signature or a missing secret is accepted with a warning; redelivery of
	// rejected requests is the provider's responsibility.
	switch {
	case h.Webhook.Secret == "":
		h.Logger.Warn("Webhook secret not configured, accepting unverified webhook")
	case presented == "":
		h.Logger.Warn("Webhook signature header absent, accepting unverified webhook")
	default:
		if err := signature.VerifyInbound(body, presented, h.Webhook.Secret); err != nil {
			if errors.Is(err, signature.ErrInvalidSignature) {
				h.Logger.Warn("Rejected webhook with invalid signature")
				metrics.ObserveInboundEvent("unknown", "rejected")
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid signature",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "Signature verification failed",
				"details": err.Error(),
			})
		}
	}

	var req inboundWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON body",
		})
	}

	eventType, err := models.ParseVerificationEventType(req.EventType)
	if err != nil {
		metrics.ObserveInboundEvent(req.EventType, "rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if req.UserID == "" || req.VAINumber == "" {
		metrics.ObserveInboundEvent(string(eventType), "rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id and vai_number are required",
		})
	}

	// Store the full request as the opaque audit payload
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		payload = map[string]interface{}{}
	}

	var sig *string
	if presented != "" {
		sig = &presented
	}

	ctx := c.Context()

	eventID, err := h.Events.Ingest(ctx, eventType, req.UserID, req.VAINumber, payload, sig)
	if err != nil {
		h.Logger.Error("Failed to ingest inbound event", zap.Error(err))
		metrics.ObserveInboundEvent(string(eventType), "failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to store webhook event",
			"details": err.Error(),
		})
	}

	statusUpdateID, err := h.Events.DeriveStatus(ctx, eventID, req.VAINumber, eventType, req.Data)
	if err != nil {
		// Event row stays processed=false for later reconciliation
		h.Logger.Error("Failed to derive status update",
			zap.String("event_id", eventID.String()),
			zap.Error(err),
		)
		metrics.ObserveInboundEvent(string(eventType), "failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to derive status update",
			"details": err.Error(),
		})
	}

	if err := h.Events.MarkProcessed(ctx, eventID); err != nil {
		h.Logger.Error("Failed to mark event processed",
			zap.String("event_id", eventID.String()),
			zap.Error(err),
		)
		metrics.ObserveInboundEvent(string(eventType), "failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to mark event processed",
			"details": err.Error(),
		})
	}

	// Fan-out is best-effort here: if the publish fails the status update is
	// already durable and can be re-dispatched out of band.
	h.publishStatusUpdate(statusUpdateID.String())

	metrics.ObserveInboundEvent(string(eventType), "accepted")
	h.Logger.Info("Inbound webhook processed",
		zap.String("event_id", eventID.String()),
		zap.String("event_type", string(eventType)),
		zap.String("vai_number", req.VAINumber),
	)

	return c.JSON(fiber.Map{
		"success":  true,
		"message":  "Webhook processed",
		"event_id": eventID.String(),
	})
}

func (h *WebhookHandler) publishStatusUpdate(statusUpdateID string) {
	if h.RMQ == nil {
		return
	}

	body, err := json.Marshal(models.StatusUpdateMessage{StatusUpdateID: statusUpdateID})
	if err != nil {
		h.Logger.Error("Failed to marshal status update message", zap.Error(err))
		return
	}

	// Default exchange routes by queue name
	if err := h.RMQ.PublishMessage("", h.Deliver.StatusQueue, false, false, body); err != nil {
		h.Logger.Error("Failed to publish status update for fan-out",
			zap.String("status_update_id", statusUpdateID),
			zap.Error(err),
		)
	}
}
