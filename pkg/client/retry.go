package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ForErrorClass scales rc for an error class. Server errors use rc as is,
// network errors wait twice as long and rate limits five times as long.
func (rc RetryConfig) ForErrorClass(errorClass ErrorClass) RetryConfig {
	scaled := rc
	switch errorClass {
	case ErrorClassRateLimit:
		scaled.InitialBackoff *= 5
		scaled.MaxBackoff *= 6
	case ErrorClassNetwork:
		scaled.InitialBackoff *= 2
		scaled.MaxBackoff *= 3
	}
	if scaled.MaxAttempts < 1 {
		scaled.MaxAttempts = 1
	}
	if scaled.BackoffMultiplier < 1 {
		scaled.BackoffMultiplier = 1
	}
	return scaled
}

// retryWithBackoff runs fn until it succeeds, fails with a non-retryable
// class, or the attempts for the failing class run out. Backoff is
// exponential with ±20% jitter and stops early when ctx ends.
func retryWithBackoff(ctx context.Context, logger zerolog.Logger, base RetryConfig, fn func() error) error {
	var lastErr error
	var errorClass ErrorClass
	var backoff time.Duration
	maxAttempts := base.ForErrorClass("").MaxAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("error_class", string(errorClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err

		// A cancelled caller is not a transport failure.
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		}

		class := classOf(err)
		if !shouldRetry(class) {
			return lastErr
		}

		cfg := base.ForErrorClass(class)
		if class != errorClass {
			errorClass = class
			backoff = cfg.InitialBackoff
		}

		if attempt >= maxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(errorClass)).Inc()

		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(jitter.Seconds())

		logger.Debug().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	logger.Warn().
		Str("error_class", string(errorClass)).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
}
