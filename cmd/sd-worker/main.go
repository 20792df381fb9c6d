package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/sd-worker/internal/composer"
	"github.com/cuongbtq/sd-worker/internal/config"
	"github.com/cuongbtq/sd-worker/internal/sdapi"
	"github.com/cuongbtq/sd-worker/internal/status"
	"github.com/cuongbtq/sd-worker/internal/worker"
	"github.com/cuongbtq/sd-worker/shared/logger"
	"github.com/cuongbtq/sd-worker/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	defaultConfigPath := os.Getenv("SD_WORKER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/sd-worker/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Fails on a missing LAILAI_MQ_ADDR before anything dials out
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting sd worker",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("sdapi_url", cfg.SDAPI.URL),
	)

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	generator := sdapi.NewClient(&sdapi.Config{
		URL:       cfg.SDAPI.URL,
		BatchSize: cfg.SDAPI.BatchSize,
		Timeout:   cfg.SDAPI.RequestTimeout,
	}, composer.NewJPEG(), appLogger.WithGroup("sdapi").Logger)

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.With(slog.String("queue", cfg.RabbitMQ.Queue.Name)).Logger,
		Broker:            rabbitClient,
		Generator:         generator,
		Queue:             cfg.RabbitMQ.Queue.Name,
		ConsumerTag:       cfg.RabbitMQ.ConsumerTag,
		GenerationTimeout: cfg.Worker.GenerationTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		// the worker returning for any reason ends the process
		defer stop()
		return workerInstance.Start(groupCtx)
	})

	if cfg.Status.Port > 0 {
		gin.SetMode(gin.ReleaseMode)
		statusServer := status.NewServer(cfg.Status.Port, &status.Dependencies{
			Logger:  appLogger.WithGroup("status").Logger,
			Service: cfg.App.Name,
			Version: cfg.App.Version,
			Stats:   workerInstance,
			Broker:  rabbitClient,
		})
		group.Go(func() error {
			return statusServer.Run(groupCtx)
		})
	}

	if err := group.Wait(); err != nil {
		appLogger.Error("Worker stopped with error",
			slog.Any("error", err),
		)
		return err
	}

	stats := workerInstance.Stats()
	appLogger.Info("Worker service shutdown complete",
		slog.Uint64("received", stats.Received),
		slog.Uint64("published", stats.Published),
		slog.Uint64("generation_failed", stats.GenerationFailed),
		slog.Duration("uptime", time.Since(stats.StartedAt)),
	)
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		URI:                cfg.URI,
		QueueName:          cfg.Queue.Name,
		DeclareQueue:       cfg.Queue.Declare,
		QueueDurable:       cfg.Queue.Durable,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishConfirm:     cfg.Publish.Confirm,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}
