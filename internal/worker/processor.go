package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/sd-worker/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// processDelivery takes one delivery through
// decode -> generate -> publish (on success) -> ack.
// Generation failures are absorbed; every returned error is fatal to the loop.
func (w *Worker) processDelivery(ctx context.Context, delivery amqp.Delivery) error {
	w.received.Add(1)

	job, err := domain.DecodeJob(delivery.Body)
	if err != nil {
		// left unacked, the broker redelivers it once the channel closes
		w.logger.Error("Failed to decode job",
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.String("body", string(delivery.Body)),
			slog.String("error", err.Error()),
		)
		return err
	}

	jobID := uuid.NewString()
	logger := w.logger.With(
		slog.String("job_id", jobID),
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
		slog.Int64("uin", job.Uin),
	)

	logger.Info("Generating images",
		slog.String("prompt", job.Tag),
		slog.Int64("from_uin", job.FromUin),
		slog.Int64("send_to", job.SendTo),
	)

	start := time.Now()
	artifact, err := w.generate(ctx, job.Tag)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("generation interrupted: %w", ctx.Err())
		}

		w.generationFailed.Add(1)
		logger.Error("Image generation failed, skipping callback",
			slog.String("prompt", job.Tag),
			slog.String("error", err.Error()),
		)
	} else {
		if err := w.publish(ctx, jobID, job, artifact); err != nil {
			return err
		}

		w.published.Add(1)
		logger.Info("Callback published",
			slog.String("routing_key", job.RoutingKey()),
			slog.Int("artifact_size", len(artifact)),
			slog.Duration("elapsed", time.Since(start)),
		)
	}

	if err := w.broker.Ack(delivery.DeliveryTag); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrAck, err)
	}
	w.acked.Add(1)

	logger.Debug("Delivery acked")

	return nil
}

// generate calls the generator, bounded by the generation timeout when set
func (w *Worker) generate(ctx context.Context, prompt string) ([]byte, error) {
	if w.generationTimeout <= 0 {
		return w.generator.Txt2Img(ctx, prompt)
	}

	genCtx, cancel := context.WithTimeout(ctx, w.generationTimeout)
	defer cancel()

	return w.generator.Txt2Img(genCtx, prompt)
}

// publish sends the artifact to the bot's callback queue on the default exchange
func (w *Worker) publish(ctx context.Context, jobID string, job *domain.Job, artifact []byte) error {
	msg := amqp.Publishing{
		Headers:     job.Headers(),
		ContentType: domain.ArtifactContentType,
		MessageId:   jobID,
		Timestamp:   time.Now(),
		Body:        artifact,
	}

	if err := w.broker.Publish(ctx, domain.CallbackExchange, job.RoutingKey(), msg); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPublish, err)
	}

	return nil
}
