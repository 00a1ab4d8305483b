// Package remote executes backend calls through Temporal workflows so
// generation survives orchestrator restarts and gains durable retries.
package remote

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.temporal.io/sdk/client"
	"google.golang.org/grpc"

	"github.com/jordanhubbard/spindle/pkg/config"
)

// Client wraps the Temporal client with spindle-specific defaults.
type Client struct {
	temporal  client.Client
	config    config.TemporalConfig
	namespace string
}

// NewClient connects to the Temporal server with retry and exponential
// backoff. Temporal often starts after spindle in compose environments.
func NewClient(cfg config.TemporalConfig) (*Client, error) {
	maxRetries := 5
	baseDelay := 2 * time.Second
	dialTimeout := cfg.Timeout
	if dialTimeout <= 0 {
		dialTimeout = 15 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			log.Printf("[Remote] Retrying Temporal connection in %v (attempt %d/%d)...", delay, attempt+1, maxRetries)
			time.Sleep(delay)
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		c, err := client.DialContext(ctx, client.Options{
			HostPort:  cfg.Host,
			Namespace: cfg.Namespace,
			Logger:    &temporalLogger{},
			ConnectionOptions: client.ConnectionOptions{
				DialOptions: []grpc.DialOption{
					grpc.WithUserAgent("spindle"),
				},
			},
		})
		cancel()

		if err == nil {
			log.Printf("[Remote] Connected to Temporal server at %s (namespace: %s)", cfg.Host, cfg.Namespace)
			return &Client{
				temporal:  c,
				config:    cfg,
				namespace: cfg.Namespace,
			}, nil
		}

		lastErr = err
		log.Printf("[Remote] Temporal connection attempt %d failed: %v", attempt+1, err)
	}

	return nil, fmt.Errorf("failed to create temporal client after %d retries: %w", maxRetries, lastErr)
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	if c.temporal != nil {
		c.temporal.Close()
	}
}

// TaskQueue returns the configured task queue.
func (c *Client) TaskQueue() string {
	return c.config.TaskQueue
}

// temporalLogger implements Temporal's Logger interface on the standard
// log package so SDK output lands in the same stream as everything else.
type temporalLogger struct{}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	log.Printf("[Temporal DEBUG] %s %v", msg, keyvals)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	log.Printf("[Temporal INFO] %s %v", msg, keyvals)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	log.Printf("[Temporal WARN] %s %v", msg, keyvals)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	log.Printf("[Temporal ERROR] %s %v", msg, keyvals)
}
