package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/verifid/webhook-relay/internal/config"
	"github.com/verifid/webhook-relay/internal/consumer"
	"github.com/verifid/webhook-relay/internal/models"
	"github.com/verifid/webhook-relay/internal/rabbitmq"
	"github.com/verifid/webhook-relay/internal/store"
)

// Dispatcher fans derived status updates out to subscriber endpoints: for
// each active subscription it creates a pending outbound delivery row and
// publishes its id to the delivery queue. A failed publish is non-fatal; the
// row stays due and the retry scheduler picks it up.
type Dispatcher struct {
	cfg         *config.DeliveryConfig
	conn        *rabbitmq.Connection
	events      *store.EventStore
	deliveries  *store.DeliveryStore
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	consumerTag string
	started     bool
}

func NewDispatcher(
	cfg *config.DeliveryConfig,
	conn *rabbitmq.Connection,
	events *store.EventStore,
	deliveries *store.DeliveryStore,
	logger *zap.Logger,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:         cfg,
		conn:        conn,
		events:      events,
		deliveries:  deliveries,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		consumerTag: fmt.Sprintf("relay-dispatcher-%d", time.Now().Unix()),
	}
}

// Start begins consuming status-update messages. Assumes exchanges and
// queues already exist.
func (d *Dispatcher) Start() error {
	if d.cfg.StatusQueue == "" {
		return fmt.Errorf("status queue is required")
	}
	if d.cfg.DeliveryExchange == "" {
		return fmt.Errorf("delivery exchange is required")
	}
	if d.cfg.DeliveryRoutingKey == "" {
		return fmt.Errorf("delivery routing key is required")
	}

	if err := d.startConsuming(); err != nil {
		return err
	}

	d.started = true
	d.logger.Info("Dispatcher started and consuming messages",
		zap.String("status_queue", d.cfg.StatusQueue),
		zap.String("consumer_tag", d.consumerTag),
	)
	return nil
}

func (d *Dispatcher) startConsuming() error {
	if err := d.conn.SetQoS(d.cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	messages, err := d.conn.ConsumeMessages(
		d.cfg.StatusQueue,
		d.consumerTag,
		false, // autoAck (we manually ACK)
		false, // exclusive
		false, // noLocal
		false, // noWait
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s: %w", d.cfg.StatusQueue, err)
	}

	go d.processMessages(messages)
	return nil
}

// Stop gracefully stops the dispatcher
func (d *Dispatcher) Stop() error {
	d.logger.Info("Stopping dispatcher",
		zap.String("consumer_tag", d.consumerTag),
	)
	d.cancel()

	if ch := d.conn.GetChannel(); ch != nil {
		if err := ch.Cancel(d.consumerTag, false); err != nil {
			d.logger.Error("Failed to cancel consumer",
				zap.String("consumer_tag", d.consumerTag),
				zap.Error(err),
			)
		}
	}

	d.logger.Info("Dispatcher stopped")
	return nil
}

func (d *Dispatcher) processMessages(messages <-chan amqp.Delivery) {
	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("Dispatcher context cancelled, stopping message processing")
			return
		case msg, ok := <-messages:
			if !ok {
				d.logger.Warn("Message channel closed, attempting to restart consumer...",
					zap.String("status_queue", d.cfg.StatusQueue),
				)
				d.restartConsuming()
				return
			}
			consumer.ProcessMessage(d.logger, d.cfg.StatusQueue, msg, d)
		}
	}
}

// restartConsuming retries until the consumer is re-registered or the
// dispatcher is stopped.
func (d *Dispatcher) restartConsuming() {
	for d.started {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		time.Sleep(2 * time.Second)

		if !d.conn.IsHealthy() {
			continue
		}

		if err := d.startConsuming(); err != nil {
			d.logger.Error("Failed to restart consuming after channel close, will retry",
				zap.String("status_queue", d.cfg.StatusQueue),
				zap.Error(err),
			)
			time.Sleep(5 * time.Second)
			continue
		}

		d.logger.Info("Successfully restarted consumer after channel close",
			zap.String("status_queue", d.cfg.StatusQueue),
		)
		return
	}
}

// HandleMessage implements the consumer.MessageHandler interface.
func (d *Dispatcher) HandleMessage(body []byte) error {
	var msg models.StatusUpdateMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		d.logger.Error("Failed to unmarshal status update message",
			zap.Error(err),
			zap.ByteString("body", body),
		)
		// ACK - malformed message, nothing to retry
		return nil
	}

	statusUpdateID, err := uuid.Parse(msg.StatusUpdateID)
	if err != nil {
		d.logger.Error("Invalid status_update_id in message",
			zap.String("status_update_id", msg.StatusUpdateID),
			zap.Error(err),
		)
		return nil
	}

	update, err := d.events.GetStatusUpdate(d.ctx, statusUpdateID)
	if err != nil {
		return fmt.Errorf("failed to load status update: %w", err)
	}

	subs, err := d.deliveries.ActiveSubscriptions(d.ctx)
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}

	if len(subs) == 0 {
		d.logger.Info("No active subscriptions, nothing to deliver",
			zap.String("status_update_id", statusUpdateID.String()),
		)
		return nil
	}

	payload := map[string]interface{}{
		"status_update_id": update.ID.String(),
		"vai_number":       update.VAINumber,
		"status_type":      update.StatusType,
		"status_data":      update.StatusData,
		"created_at":       update.CreatedAt.UTC().Format(time.RFC3339),
	}

	// Subscriptions fail independently: one bad create or publish must not
	// cost the remaining subscriptions their notification.
	failed := 0
	for _, sub := range subs {
		row, err := d.deliveries.CreateDelivery(d.ctx, sub, update.ID, payload, d.cfg.MaxAttempts)
		if err != nil {
			d.logger.Error("Failed to create outbound delivery",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("status_update_id", statusUpdateID.String()),
				zap.Error(err),
			)
			failed++
			continue
		}

		if err := d.publishToDeliveryQueue(row.ID.String()); err != nil {
			// Rows stay due; the retry scheduler will pick them up.
			d.logger.Error("Failed to publish delivery to queue",
				zap.String("delivery_id", row.ID.String()),
				zap.Error(err),
			)
			failed++
		}
	}

	if failed > 0 {
		d.logger.Warn("Some subscriptions were not fanned out cleanly",
			zap.String("status_update_id", statusUpdateID.String()),
			zap.Int("failed_count", failed),
			zap.Int("total_count", len(subs)),
		)
	} else {
		d.logger.Info("Fanned out status update to subscriptions",
			zap.String("status_update_id", statusUpdateID.String()),
			zap.Int("delivery_count", len(subs)),
		)
	}

	return nil
}

func (d *Dispatcher) publishToDeliveryQueue(deliveryID string) error {
	if d.conn == nil {
		return nil
	}

	body, err := json.Marshal(models.DeliveryMessage{DeliveryID: deliveryID})
	if err != nil {
		return fmt.Errorf("failed to marshal delivery message: %w", err)
	}

	if err := d.conn.PublishMessage(
		d.cfg.DeliveryExchange,
		d.cfg.DeliveryRoutingKey,
		false, // mandatory
		false, // immediate
		body,
	); err != nil {
		return fmt.Errorf("failed to publish to delivery queue: %w", err)
	}

	return nil
}
