package provider

import (
	"context"
	"fmt"
	"time"

	braerr "github.com/agentbrain/agentbrain/internal/errors"
)

// RetryConfig configures retry behavior for provider calls.
type RetryConfig struct {
	MaxRetries   int           // Retry attempts, not including the initial attempt
	InitialDelay time.Duration // Delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}
}

// WithRetry executes fn with exponential backoff on retryable errors.
// Non-retryable errors abort immediately. Context cancellation is honored
// both before each attempt and while waiting between attempts. After
// exhaustion the last error surfaces wrapped as a provider failure.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !braerr.IsRetryable(err) || attempt >= cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	if braerr.GetCode(lastErr) != "" {
		return lastErr
	}
	return braerr.Wrap(braerr.ErrCodeProviderFailed,
		fmt.Errorf("provider call failed after %d attempts: %w", cfg.MaxRetries+1, lastErr))
}
