// Package retry provides the bounded exponential-backoff executor used
// around the pipeline's transient steps.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Config controls retry behavior for a single operation.
type Config struct {
	// MaxAttempts is the total number of tries, first attempt included.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff between attempts.
	BaseDelay time.Duration
	// MaxDelay caps the exponential component of the backoff.
	MaxDelay time.Duration
	// JitterMax bounds the random jitter added to every backoff.
	JitterMax time.Duration
}

// ApplyDefaults fills zero values with the standard settings.
func (c *Config) ApplyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 1 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.JitterMax <= 0 {
		c.JitterMax = 1 * time.Second
	}
}

// Do runs op up to cfg.MaxAttempts times. After a failed attempt n it
// sleeps BaseDelay * 2^(n-1), capped at MaxDelay, plus a random jitter in
// [0, JitterMax). The sleep aborts when ctx is cancelled.
//
// On exhaustion the returned error names the operation and the attempt
// count and wraps the last attempt's error.
func Do(ctx context.Context, logger *zap.Logger, name string, cfg Config, op func(context.Context) error) error {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s aborted: %w", name, err)
		}
		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("operation recovered after retry",
					zap.String("operation", name),
					zap.Int("attempt", attempt))
			}
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		backoff := Backoff(cfg, attempt)
		logger.Warn("operation failed, backing off",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s aborted during backoff: %w", name, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, cfg.MaxAttempts, lastErr)
}

// Backoff returns the sleep applied after failed attempt n (1-based).
func Backoff(cfg Config, attempt int) time.Duration {
	d := cfg.BaseDelay
	for i := 1; i < attempt && d < cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.JitterMax > 0 {
		d += time.Duration(rand.Int64N(int64(cfg.JitterMax)))
	}
	return d
}
