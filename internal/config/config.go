package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete worker configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	SDAPI    SDAPIConfig    `yaml:"sdapi"`
	Worker   WorkerConfig   `yaml:"worker"`
	Status   StatusConfig   `yaml:"status"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// RabbitMQConfig holds broker connection and subscription settings.
// The URI is only ever read from the environment.
type RabbitMQConfig struct {
	URI         string           `yaml:"-" env:"LAILAI_MQ_ADDR,required,notEmpty"`
	Queue       QueueConfig      `yaml:"queue"`
	ConsumerTag string           `yaml:"consumer_tag"`
	Connection  ConnectionConfig `yaml:"connection"`
	Publish     PublishConfig    `yaml:"publish"`
}

// QueueConfig holds the input queue settings
type QueueConfig struct {
	Name    string `yaml:"name"`
	Declare bool   `yaml:"declare"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds callback publish settings
type PublishConfig struct {
	Confirm           bool          `yaml:"confirm"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// SDAPIConfig holds the image generation backend settings
type SDAPIConfig struct {
	URL            string        `yaml:"url" env:"SD_API_URL"`
	BatchSize      int           `yaml:"batch_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// WorkerConfig holds per-delivery processing settings
type WorkerConfig struct {
	// GenerationTimeout bounds one txt2img call; zero disables it.
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
}

// StatusConfig holds the optional status HTTP server settings.
// Port 0 disables the server.
type StatusConfig struct {
	Port int `yaml:"port" env:"STATUS_PORT"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "sd-worker",
			Version:     "1.0.0",
			Environment: "development",
		},
		RabbitMQ: RabbitMQConfig{
			Queue: QueueConfig{
				Name:    "sdqueue",
				Durable: true,
			},
			ConsumerTag: "lailaisd",
			Connection: ConnectionConfig{
				RetryAttempts: 1,
				RetryInterval: 5 * time.Second,
				Heartbeat:     10 * time.Second,
			},
			Publish: PublishConfig{
				Confirm:           true,
				RetryInterval:     100 * time.Millisecond,
				BackoffMultiplier: 2,
			},
		},
		SDAPI: SDAPIConfig{
			URL:       "http://127.0.0.1:7860/sdapi/v1/txt2img",
			BatchSize: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file on top of the defaults and applies
// environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.RabbitMQ.URI == "" {
		return fmt.Errorf("LAILAI_MQ_ADDR is required")
	}

	mqURL, err := url.Parse(c.RabbitMQ.URI)
	if err != nil {
		return fmt.Errorf("invalid LAILAI_MQ_ADDR: %w", err)
	}
	if mqURL.Scheme != "amqp" && mqURL.Scheme != "amqps" {
		return fmt.Errorf("invalid LAILAI_MQ_ADDR scheme: %q (must be amqp or amqps)", mqURL.Scheme)
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.RabbitMQ.ConsumerTag == "" {
		return fmt.Errorf("rabbitmq consumer tag is required")
	}

	if c.RabbitMQ.Connection.RetryAttempts < 1 {
		return fmt.Errorf("rabbitmq connection retry_attempts must be at least 1")
	}

	if c.RabbitMQ.Publish.RetryAttempts < 0 {
		return fmt.Errorf("rabbitmq publish retry_attempts must not be negative")
	}

	apiURL, err := url.Parse(c.SDAPI.URL)
	if err != nil || apiURL.Scheme == "" || apiURL.Host == "" {
		return fmt.Errorf("invalid sdapi url: %q", c.SDAPI.URL)
	}

	if c.SDAPI.BatchSize <= 0 {
		return fmt.Errorf("sdapi batch_size must be greater than 0")
	}

	if c.SDAPI.RequestTimeout < 0 {
		return fmt.Errorf("sdapi request_timeout must not be negative")
	}

	if c.Worker.GenerationTimeout < 0 {
		return fmt.Errorf("worker generation_timeout must not be negative")
	}

	if c.Status.Port != 0 && (c.Status.Port < MinPort || c.Status.Port > MaxPort) {
		return fmt.Errorf("invalid status port: %d (must be 0 or between %d and %d)", c.Status.Port, MinPort, MaxPort)
	}

	return nil
}
