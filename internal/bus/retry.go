package bus

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds redelivery of an event to a failing handler.
type RetryConfig struct {
	MaxAttempts int           // Total deliveries including the first (default: 3)
	BaseDelay   time.Duration // Delay before the first redelivery (default: 1s)
	MaxDelay    time.Duration // Cap on any single delay (default: 30s)
	Multiplier  float64       // Exponential backoff multiplier (default: 2.0)
	Jitter      bool          // Add up to 10% random jitter
}

// DefaultRetryConfig returns the redelivery policy used when none is configured
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// delay returns the wait before redelivery number attempt (0-based).
func (c RetryConfig) delay(attempt int) time.Duration {
	multiplier := c.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	d := float64(c.BaseDelay) * math.Pow(multiplier, float64(attempt))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}

	if c.Jitter {
		jitterRange := d * 0.1
		d += (rand.Float64() - 0.5) * 2 * jitterRange
		if d < 0 {
			d = float64(c.BaseDelay)
		}
	}

	return time.Duration(d)
}

// retry runs op until it succeeds, attempts run out, or ctx is done.
// onFailure is called after every failed attempt that will be retried.
func retry(ctx context.Context, config RetryConfig, op func() error, onFailure func(attempt int, err error, wait time.Duration)) error {
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}

		wait := config.delay(attempt)
		if onFailure != nil {
			onFailure(attempt+1, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return err
}
