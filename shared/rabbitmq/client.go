package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned by operations on a closed client
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// closeReportTimeout bounds how long Err waits for the close reason
const closeReportTimeout = time.Second

type publishFunc func(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error

// Config holds RabbitMQ connection configuration
type Config struct {
	URI                string
	QueueName          string
	DeclareQueue       bool
	QueueDurable       bool
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishConfirm     bool
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// Client owns one connection and one channel
type Client struct {
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *slog.Logger
	closeChan   chan *amqp.Error
	cancelChan  chan string
	closed      chan struct{}
	isConnected atomic.Bool

	// publish sends a single attempt; Publish wraps it with retries
	publish publishFunc

	mu        sync.Mutex
	streamErr error
}

// NewClient connects to RabbitMQ and prepares the channel
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}
	client.publish = client.publishOnce

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	var err error

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = amqp.DialConfig(c.config.URI, amqpConfig)
		if err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}

	c.closeChan = make(chan *amqp.Error, 1)
	c.closed = make(chan struct{})
	c.channel.NotifyClose(c.closeChan)
	c.cancelChan = make(chan string, 1)
	c.channel.NotifyCancel(c.cancelChan)
	c.isConnected.Store(true)
	go c.watchClose()

	c.logger.Info("RabbitMQ client initialized",
		slog.String("queue", c.config.QueueName),
		slog.Bool("publish_confirm", c.config.PublishConfirm),
	)

	return nil
}

// setup enables publisher confirms and declares the input queue when asked
func (c *Client) setup() error {
	if c.config.PublishConfirm {
		if err := c.channel.Confirm(false); err != nil {
			return fmt.Errorf("failed to enable publish confirmations: %w", err)
		}
	}

	if !c.config.DeclareQueue {
		return nil
	}

	_, err := c.channel.QueueDeclare(
		c.config.QueueName,    // name
		c.config.QueueDurable, // durable
		false,                 // auto-delete
		false,                 // exclusive
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	return nil
}

// watchClose marks the client disconnected once the channel goes away
func (c *Client) watchClose() {
	defer close(c.closed)

	amqpErr, ok := <-c.closeChan
	c.isConnected.Store(false)

	if ok && amqpErr != nil {
		c.setStreamErr(amqpErr)
		c.logger.Warn("RabbitMQ channel closed by server",
			slog.Int("code", amqpErr.Code),
			slog.String("reason", amqpErr.Reason),
		)
		return
	}

	c.logger.Info("RabbitMQ channel closed")
}

func (c *Client) setStreamErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streamErr == nil {
		c.streamErr = err
	}
}

// Err reports why the delivery stream ended: the server or network error that
// closed the channel, or a server-side consumer cancel. It is nil while the
// channel is open and after a clean Close.
func (c *Client) Err() error {
	// amqp091 marks the channel closed and sends the reason before it
	// closes the consumer streams, but watchClose records it asynchronously
	if c.closed != nil && c.channel != nil && c.channel.IsClosed() {
		select {
		case <-c.closed:
		case <-time.After(closeReportTimeout):
		}
	}

	select {
	case tag, ok := <-c.cancelChan:
		if ok {
			c.setStreamErr(fmt.Errorf("consumer %q canceled by server", tag))
		}
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamErr
}

// Consume sets the prefetch window and starts a manual-ack consumer
func (c *Client) Consume(ctx context.Context, queue, consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	if !c.isConnected.Load() {
		return nil, ErrNotConnected
	}

	// global=false applies the limit per consumer
	if err := c.channel.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	c.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", prefetch),
	)

	deliveries, err := c.channel.ConsumeWithContext(
		ctx,
		queue,       // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", queue),
		slog.String("consumer_tag", consumerTag),
	)

	return deliveries, nil
}

// Publish sends msg and, in confirm mode, waits for the broker ack. Failed
// attempts are retried with exponential backoff up to PublishRetries times.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if !c.isConnected.Load() {
		return ErrNotConnected
	}

	maxRetries := c.config.PublishRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.publish(ctx, exchange, routingKey, msg)
		if err == nil {
			c.logger.Debug("Message published to RabbitMQ",
				slog.String("routing_key", routingKey),
				slog.Int("body_size", len(msg.Body)),
				slog.Int("attempt", attempt+1),
			)
			return nil
		}

		lastErr = err

		if attempt < maxRetries {
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("failed to publish message: %w", ctx.Err())
			}
			delay = time.Duration(float64(delay) * backoffMult)
		}
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

func (c *Client) publishOnce(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	confirm, err := c.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		msg,
	)
	if err != nil {
		return err
	}

	// nil outside confirm mode
	if confirm == nil {
		return nil
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("broker nacked delivery %d", confirm.DeliveryTag)
	}

	return nil
}

// Ack acknowledges a single delivery
func (c *Client) Ack(deliveryTag uint64) error {
	if !c.isConnected.Load() {
		return ErrNotConnected
	}

	return c.channel.Ack(deliveryTag, false)
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.isConnected.Store(false)

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.isConnected.Load() && c.conn != nil && !c.conn.IsClosed()
}
