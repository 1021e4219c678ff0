package consumer

import (
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// MessageHandler is the interface consumers implement to handle one message
// body.
type MessageHandler interface {
	HandleMessage(body []byte) error
}

// ProcessMessage runs one RabbitMQ message through a handler: ACK on
// success, NACK without requeue on failure. Poison messages must be handled
// inside the handler (return nil to swallow them).
func ProcessMessage(
	logger *zap.Logger,
	queue string,
	msg amqp.Delivery,
	handler MessageHandler,
) {
	if err := handler.HandleMessage(msg.Body); err != nil {
		logger.Error("Failed to process message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		rejectMessage(logger, msg)
		return
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		return
	}

	logger.Debug("Message from queue processed successfully",
		zap.String("queue", queue),
		zap.Uint64("delivery_tag", msg.DeliveryTag),
	)
}

func rejectMessage(logger *zap.Logger, msg amqp.Delivery) {
	if err := msg.Nack(false, false); err != nil {
		logger.Error("Failed to nack a message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}
