// Package delivery hands composed routing requests to the outbound email
// gateway, retrying transient failures with the same idempotency key so the
// gateway can deduplicate.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/webential/deskrouter/engine/composer"
)

// ErrDeliveryFailed wraps the final attempt's error once the retry budget is
// spent.
var ErrDeliveryFailed = errors.New("delivery failed")

// Dispatcher performs one delivery attempt. Implementations must treat the
// idempotency key as the dedup handle; resending with the same key must not
// produce a duplicate email.
type Dispatcher interface {
	Send(ctx context.Context, req *composer.RoutingRequest, idempotencyKey string) error
}

// Config bounds the retry loop.
type Config struct {
	// Attempts is the total number of tries, first included.
	Attempts int
	// Backoff is the wait before the second attempt; it doubles per retry.
	Backoff time.Duration
}

// DefaultConfig returns the shipped retry bounds.
func DefaultConfig() Config {
	return Config{Attempts: 3, Backoff: 500 * time.Millisecond}
}

// Client wraps a Dispatcher with bounded exponential backoff.
type Client struct {
	dispatcher Dispatcher
	cfg        Config

	// OnRetry is invoked before each re-attempt, for metrics. May be nil.
	OnRetry func(attempt int)
}

// NewClient creates a retrying delivery client. A zero config gets defaults.
func NewClient(dispatcher Dispatcher, cfg Config) *Client {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultConfig().Attempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultConfig().Backoff
	}
	return &Client{dispatcher: dispatcher, cfg: cfg}
}

// Deliver sends the request, retrying with doubling backoff. The session id
// doubles as the idempotency key; the composed request is deterministic per
// session, so every attempt carries identical payload and key.
func (c *Client) Deliver(ctx context.Context, req *composer.RoutingRequest) error {
	key := req.SessionID
	backoff := c.cfg.Backoff

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		if attempt > 1 {
			if c.OnRetry != nil {
				c.OnRetry(attempt)
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrDeliveryFailed, ctx.Err())
			}
			backoff *= 2
		}

		start := time.Now()
		lastErr = c.dispatcher.Send(ctx, req, key)
		if lastErr == nil {
			slog.Info("routing request delivered",
				"ticket_ref", req.TicketRef,
				"department_id", req.DepartmentID,
				"attempt", attempt,
				"latency_ms", time.Since(start).Milliseconds())
			return nil
		}
		slog.Warn("delivery attempt failed",
			"ticket_ref", req.TicketRef,
			"attempt", attempt,
			"error", lastErr)
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrDeliveryFailed, c.cfg.Attempts, lastErr)
}
