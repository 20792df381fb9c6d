package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/sd-worker/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the subset of the AMQP client the worker drives
type Broker interface {
	Consume(ctx context.Context, queue, consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
	Ack(deliveryTag uint64) error
	// Err reports why the delivery stream ended, nil for a clean close
	Err() error
}

// Generator turns a prompt into the artifact published to the callback queue
type Generator interface {
	Txt2Img(ctx context.Context, prompt string) ([]byte, error)
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Broker      Broker
	Generator   Generator
	Queue       string
	ConsumerTag string
	// GenerationTimeout bounds a single Txt2Img call; zero disables it
	GenerationTimeout time.Duration
}

// Stats is a snapshot of the worker counters
type Stats struct {
	Received         uint64    `json:"received"`
	Published        uint64    `json:"published"`
	GenerationFailed uint64    `json:"generation_failed"`
	Acked            uint64    `json:"acked"`
	StartedAt        time.Time `json:"started_at"`
}

// Worker consumes prompt jobs one delivery at a time
type Worker struct {
	logger            *slog.Logger
	broker            Broker
	generator         Generator
	queue             string
	consumerTag       string
	generationTimeout time.Duration

	startedAt        time.Time
	received         atomic.Uint64
	published        atomic.Uint64
	generationFailed atomic.Uint64
	acked            atomic.Uint64
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	queue := cfg.Queue
	if queue == "" {
		queue = domain.InputQueue
	}

	consumerTag := cfg.ConsumerTag
	if consumerTag == "" {
		consumerTag = domain.ConsumerTag
	}

	return &Worker{
		logger:            cfg.Logger,
		broker:            cfg.Broker,
		generator:         cfg.Generator,
		queue:             queue,
		consumerTag:       consumerTag,
		generationTimeout: cfg.GenerationTimeout,
		startedAt:         time.Now(),
	}
}

// Start subscribes to the input queue and processes deliveries until the
// broker closes the stream, ctx is canceled or a fatal error occurs.
// Only the fatal error is returned.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("queue", w.queue),
		slog.String("consumer_tag", w.consumerTag),
		slog.Int("prefetch_count", domain.PrefetchCount),
		slog.Duration("generation_timeout", w.generationTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return err
	}

	return w.consumeLoop(ctx, deliveries)
}

// Stats returns the current counters
func (w *Worker) Stats() Stats {
	return Stats{
		Received:         w.received.Load(),
		Published:        w.published.Load(),
		GenerationFailed: w.generationFailed.Load(),
		Acked:            w.acked.Load(),
		StartedAt:        w.startedAt,
	}
}
