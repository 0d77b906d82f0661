// Package retry provides bounded exponential backoff with jitter for
// operations against flaky upstreams (LLM providers, webhook callbacks).
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Config bounds one retry loop.
type Config struct {
	MaxAttempts int           // total attempts including the first, default 3
	BaseDelay   time.Duration // delay before attempt 2, default 1s
	MaxDelay    time.Duration // cap on any single delay, default 30s
	Multiplier  float64       // backoff factor, default 2.0
	Jitter      float64       // fraction of delay randomized, default 0.2
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = 0.2
	}
	return c
}

// Result reports what one Do run did.
type Result struct {
	Attempts  int
	TotalWait time.Duration
}

// Do runs fn until it succeeds, the attempt budget is exhausted, the error is
// ruled non-retryable, or ctx is done. retryable may be nil, in which case
// every error is retried up to the budget.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, fn func(ctx context.Context) error) (Result, error) {
	cfg = cfg.withDefaults()
	var res Result
	var lastErr error

	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt
		lastErr = fn(ctx)
		if lastErr == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if retryable != nil && !retryable(lastErr) {
			return res, lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := jittered(delay, cfg.Jitter)
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(wait):
		}
		res.TotalWait += wait

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return res, fmt.Errorf("after %d attempts: %w", res.Attempts, lastErr)
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter == 0 {
		return d
	}
	spread := float64(d) * jitter
	return time.Duration(float64(d) - spread/2 + rand.Float64()*spread)
}
