package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/verifid/webhook-relay/internal/config"
	"github.com/verifid/webhook-relay/internal/consumer"
	"github.com/verifid/webhook-relay/internal/delivery"
	"github.com/verifid/webhook-relay/internal/models"
	"github.com/verifid/webhook-relay/internal/rabbitmq"
	"github.com/verifid/webhook-relay/internal/store"
)

// Worker consumes delivery messages and performs the first delivery attempt
// for freshly created outbound deliveries. Retries of failed attempts are the
// retry scheduler's job, not the worker's.
type Worker struct {
	cfg         *config.DeliveryConfig
	conn        *rabbitmq.Connection
	deliveries  *store.DeliveryStore
	deliverer   *delivery.Deliverer
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	consumerTag string
	started     bool
}

func NewWorker(
	cfg *config.DeliveryConfig,
	conn *rabbitmq.Connection,
	deliveries *store.DeliveryStore,
	deliverer *delivery.Deliverer,
	logger *zap.Logger,
) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:         cfg,
		conn:        conn,
		deliveries:  deliveries,
		deliverer:   deliverer,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		consumerTag: fmt.Sprintf("relay-worker-%d", time.Now().Unix()),
	}
}

// Start begins consuming from the delivery queue.
func (w *Worker) Start() error {
	if w.cfg.DeliveryQueue == "" {
		return fmt.Errorf("delivery queue is required")
	}

	if err := w.startConsuming(); err != nil {
		return err
	}

	w.started = true
	w.logger.Info("Worker started and consuming messages",
		zap.String("delivery_queue", w.cfg.DeliveryQueue),
		zap.String("consumer_tag", w.consumerTag),
	)
	return nil
}

func (w *Worker) startConsuming() error {
	if err := w.conn.SetQoS(w.cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	messages, err := w.conn.ConsumeMessages(
		w.cfg.DeliveryQueue,
		w.consumerTag,
		false, // autoAck (we manually ACK)
		false, // exclusive
		false, // noLocal
		false, // noWait
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s: %w", w.cfg.DeliveryQueue, err)
	}

	go w.processMessages(messages)
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() error {
	w.logger.Info("Stopping worker",
		zap.String("consumer_tag", w.consumerTag),
	)
	w.cancel()

	if ch := w.conn.GetChannel(); ch != nil {
		if err := ch.Cancel(w.consumerTag, false); err != nil {
			w.logger.Error("Failed to cancel consumer",
				zap.String("consumer_tag", w.consumerTag),
				zap.Error(err),
			)
		}
	}

	w.logger.Info("Worker stopped")
	return nil
}

func (w *Worker) processMessages(messages <-chan amqp.Delivery) {
	for {
		select {
		case <-w.ctx.Done():
			w.logger.Info("Worker context cancelled, stopping message processing")
			return
		case msg, ok := <-messages:
			if !ok {
				w.logger.Warn("Message channel closed, attempting to restart consumer...",
					zap.String("delivery_queue", w.cfg.DeliveryQueue),
				)
				w.restartConsuming()
				return
			}
			consumer.ProcessMessage(w.logger, w.cfg.DeliveryQueue, msg, w)
		}
	}
}

func (w *Worker) restartConsuming() {
	for w.started {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		time.Sleep(2 * time.Second)

		if !w.conn.IsHealthy() {
			continue
		}

		if err := w.startConsuming(); err != nil {
			w.logger.Error("Failed to restart consuming after channel close, will retry",
				zap.String("delivery_queue", w.cfg.DeliveryQueue),
				zap.Error(err),
			)
			time.Sleep(5 * time.Second)
			continue
		}

		w.logger.Info("Successfully restarted consumer after channel close",
			zap.String("delivery_queue", w.cfg.DeliveryQueue),
		)
		return
	}
}

// HandleMessage implements the consumer.MessageHandler interface.
func (w *Worker) HandleMessage(body []byte) error {
	var msg models.DeliveryMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		w.logger.Error("Failed to unmarshal delivery message",
			zap.Error(err),
			zap.ByteString("body", body),
		)
		// ACK - malformed message, nothing to retry
		return nil
	}

	deliveryID, err := uuid.Parse(msg.DeliveryID)
	if err != nil {
		w.logger.Error("Invalid delivery_id in message",
			zap.String("delivery_id", msg.DeliveryID),
			zap.Error(err),
		)
		return nil
	}

	claimed, err := w.deliveries.Claim(w.ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("failed to claim delivery: %w", err)
	}
	if !claimed {
		// Already picked up by a retry pass or a concurrent worker
		w.logger.Info("Delivery not claimable, skipping",
			zap.String("delivery_id", deliveryID.String()),
		)
		return nil
	}

	row, err := w.deliveries.GetDelivery(w.ctx, deliveryID)
	if err != nil {
		if errors.Is(err, store.ErrDeliveryNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load delivery: %w", err)
	}

	if _, err := w.deliverer.Attempt(w.ctx, *row); err != nil {
		return fmt.Errorf("failed to attempt delivery: %w", err)
	}

	return nil
}
