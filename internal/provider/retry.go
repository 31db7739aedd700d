package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sessionlog-ai/sessionlog/internal/logging"
)

// RetryConfig bounds stream-creation retries.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig mirrors typical provider guidance: a handful of
// attempts with jittered exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

func newBackoff(ctx context.Context, cfg RetryConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.RandomizationFactor = 0.3
	return backoff.WithContext(backoff.WithMaxRetries(b, cfg.MaxRetries), ctx)
}

// RetryStream runs op under jittered exponential backoff until it
// succeeds or the retry budget is spent. Callers put one stream attempt
// in op and return an error only while nothing has been yielded yet;
// partial output is never silently replayed.
func RetryStream(ctx context.Context, cfg RetryConfig, onRetry func(attempt int, delay time.Duration), op func() error) error {
	attempt := 0
	wrapped := func() error {
		if err := op(); err != nil {
			attempt++
			logging.Warn().
				Err(err).
				Int("attempt", attempt).
				Msg("provider stream attempt failed")
			return err
		}
		return nil
	}
	notify := func(err error, delay time.Duration) {
		if onRetry != nil {
			onRetry(attempt, delay)
		}
	}
	return backoff.RetryNotify(wrapped, newBackoff(ctx, cfg), notify)
}

// StreamWithRetry opens a provider stream, retrying creation failures
// with backoff.
func StreamWithRetry(ctx context.Context, p Provider, req Request, cfg RetryConfig, onRetry func(attempt int, delay time.Duration)) (<-chan StreamEvent, error) {
	var stream <-chan StreamEvent
	err := RetryStream(ctx, cfg, onRetry, func() error {
		s, err := p.Stream(ctx, req)
		if err != nil {
			return err
		}
		stream = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}
