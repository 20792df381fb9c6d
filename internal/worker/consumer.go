package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/sd-worker/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer registers the consumer with a prefetch window of one
func (w *Worker) setupConsumer(ctx context.Context) (<-chan amqp.Delivery, error) {
	deliveries, err := w.broker.Consume(ctx, w.queue, w.consumerTag, domain.PrefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.consumerTag),
		slog.String("queue", w.queue),
	)

	return deliveries, nil
}

// consumeLoop runs each delivery to its ack before reading the next one
func (w *Worker) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					w.logger.Info("Consumer stopped - context canceled")
					return nil
				}

				if err := w.broker.Err(); err != nil {
					w.logger.Error("RabbitMQ delivery channel lost",
						slog.String("error", err.Error()),
					)
					return fmt.Errorf("%w: %w", domain.ErrStreamLost, err)
				}

				w.logger.Warn("RabbitMQ delivery channel closed")
				return nil
			}

			if err := w.processDelivery(ctx, delivery); err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					w.logger.Info("Consumer stopped while processing, delivery left for redelivery",
						slog.Uint64("delivery_tag", delivery.DeliveryTag),
					)
					return nil
				}

				w.logger.Error("Stopping consumer",
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
					slog.String("error", err.Error()),
				)
				return err
			}
		}
	}
}
