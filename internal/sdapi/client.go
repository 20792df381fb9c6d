// Package sdapi talks to the Stable Diffusion WebUI txt2img endpoint.
package sdapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/sd-worker/internal/worker/domain"
)

// DefaultURL is the txt2img endpoint of a WebUI on the same host
const DefaultURL = "http://127.0.0.1:7860/sdapi/v1/txt2img"

// DefaultBatchSize fills the 2x2 grid
const DefaultBatchSize = 4

// Config holds txt2img client configuration
type Config struct {
	URL       string
	BatchSize int
	Timeout   time.Duration // zero means no client-side timeout
}

// Composer turns the decoded batch into the published artifact
type Composer interface {
	Compose(images [][]byte) ([]byte, error)
}

// Client calls txt2img. It is safe for concurrent use; the underlying
// http.Client and its connection pool are shared by every call.
type Client struct {
	config     *Config
	httpClient *http.Client
	composer   Composer
	logger     *slog.Logger
}

// NewClient creates a client with its own reusable http.Client
func NewClient(cfg *Config, composer Composer, logger *slog.Logger) *Client {
	config := *cfg
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}

	return &Client{
		config:     &config,
		httpClient: &http.Client{Timeout: config.Timeout},
		composer:   composer,
		logger:     logger,
	}
}

// Txt2Img generates a batch for prompt and returns the tiled artifact
func (c *Client) Txt2Img(ctx context.Context, prompt string) ([]byte, error) {
	images, err := c.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	artifact, err := c.composer.Compose(images)
	if err != nil {
		c.logger.Error("Failed to compose images",
			slog.String("prompt", prompt),
			slog.Int("image_count", len(images)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrGeneration, err)
	}

	return artifact, nil
}

// Generate posts the prompt and returns the decoded images in response order
func (c *Client) Generate(ctx context.Context, prompt string) ([][]byte, error) {
	body, err := json.Marshal(NewTxt2ImgRequest(prompt, c.config.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode request: %v", domain.ErrGeneration, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", domain.ErrGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("accept", "application/json")

	c.logger.Debug("Calling txt2img",
		slog.String("url", c.config.URL),
		slog.String("prompt", prompt),
		slog.Int("batch_size", c.config.BatchSize),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("txt2img request failed",
			slog.String("prompt", prompt),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrGeneration, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", domain.ErrGeneration, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("txt2img returned an error status",
			slog.String("prompt", prompt),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(raw)),
		)
		return nil, fmt.Errorf("%w: backend returned status %d", domain.ErrGeneration, resp.StatusCode)
	}

	images, err := decodeImages(raw)
	if err != nil {
		c.logger.Error("Images were not generated",
			slog.String("prompt", prompt),
			slog.String("body", string(raw)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrGeneration, err)
	}

	c.logger.Debug("txt2img completed",
		slog.Int("image_count", len(images)),
		slog.Duration("latency", time.Since(start)),
	)

	return images, nil
}

// decodeImages extracts the standard base64 "images" array of a response
func decodeImages(raw []byte) ([][]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}

	field, ok := fields["images"]
	if !ok {
		return nil, fmt.Errorf("response has no images field")
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(field, &elems); err != nil || elems == nil {
		return nil, fmt.Errorf("images field is not an array")
	}

	images := make([][]byte, 0, len(elems))
	for i, elem := range elems {
		var encoded string
		if bytes.Equal(bytes.TrimSpace(elem), []byte("null")) || json.Unmarshal(elem, &encoded) != nil {
			return nil, fmt.Errorf("image %d is not a string", i)
		}

		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("image %d is not valid base64: %w", i, err)
		}
		images = append(images, data)
	}

	return images, nil
}
