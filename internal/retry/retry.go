// Package retry provides exponential backoff helpers for reconnect loops.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/dhruv2003/Scrapper/internal/logging"
)

// Backoff tracks an exponentially growing delay between retry attempts.
// It is not safe for concurrent use; each loop owns its own Backoff.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	current time.Duration
}

// NewBackoff creates a backoff starting at initial, doubling up to max.
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{Initial: initial, Max: max, Multiplier: 2.0}
}

// Next returns the delay to sleep before the next attempt and advances
// the internal state.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Initial
	}
	delay := b.current

	next := time.Duration(float64(b.current) * b.Multiplier)
	if next > b.Max {
		next = b.Max
	}
	b.current = next

	return delay
}

// Reset returns the backoff to its initial delay after a success.
func (b *Backoff) Reset() {
	b.current = 0
}

// Sleep waits for the next backoff delay or until the context is done.
// It returns the context error when cancelled.
func (b *Backoff) Sleep(ctx context.Context) error {
	select {
	case <-time.After(b.Next()):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config configures WithExponentialBackoff.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultConfig retries five times: 1s, 2s, 4s, 8s, capped at 60s.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
	}
}

// WithExponentialBackoff runs fn until it succeeds, the attempt budget
// is spent, or the context is cancelled.
func WithExponentialBackoff(ctx context.Context, cfg *Config, fn func(ctx context.Context, attempt int) error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := logging.FromContext(ctx)
	backoff := NewBackoff(cfg.InitialDelay, cfg.MaxDelay)

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			if attempt > 1 {
				logger.WithField("attempts", attempt).Info("Operation succeeded after retry")
			}
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		logger.WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": cfg.MaxAttempts,
			"error":       lastErr.Error(),
		}).Warn("Operation failed, retrying with exponential backoff")

		if err := backoff.Sleep(ctx); err != nil {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
