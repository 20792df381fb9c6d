// Package status exposes worker health and counters over HTTP.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/sd-worker/internal/worker"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

// StatsProvider reports worker counters
type StatsProvider interface {
	Stats() worker.Stats
}

// HealthChecker reports broker connectivity
type HealthChecker interface {
	IsConnected() bool
}

// Dependencies holds what the status routes read from
type Dependencies struct {
	Logger  *slog.Logger
	Service string
	Version string
	Stats   StatsProvider
	Broker  HealthChecker
}

// SetupRouter configures the status routes
func SetupRouter(deps *Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		if !deps.Broker.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": deps.Service,
				"broker":  "disconnected",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": deps.Service,
			"version": deps.Version,
			"broker":  "connected",
		})
	})

	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Stats.Stats())
	})

	return r
}

// Server serves the status routes until its context ends
type Server struct {
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates a status server listening on port
func NewServer(port int, deps *Dependencies) *Server {
	return &Server{
		logger: deps.Logger,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           SetupRouter(deps),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run listens until ctx is canceled, then shuts down
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("status server failed: %w", err)
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}

	s.logger.Info("Status server stopped")
	return nil
}
