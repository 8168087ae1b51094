package feed

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryPolicy defines retry behavior for failed fetches.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
	// Retryable decides whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
}

// DefaultRetryPolicy is a single fail-fast retry.
func DefaultRetryPolicy(retryDelay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    1,
		InitialDelay:  retryDelay,
		MaxDelay:      5 * retryDelay,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// ExecuteWithRetry runs operation until it succeeds, the policy is
// exhausted, or ctx is done. It returns the attempt count and the last error.
func ExecuteWithRetry(ctx context.Context, logger *logrus.Logger, policy RetryPolicy, operationName string, operation func(ctx context.Context) error) (int, error) {
	start := time.Now()
	delay := policy.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt, lastErr
			}
			return attempt, err
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				logger.WithFields(logrus.Fields{
					"operation": operationName,
					"attempts":  attempt + 1,
					"duration":  time.Since(start),
				}).Info("Operation recovered after retry")
			}
			return attempt + 1, nil
		}
		lastErr = err

		if attempt == policy.MaxRetries || (policy.Retryable != nil && !policy.Retryable(err)) {
			return attempt + 1, lastErr
		}

		wait := calculateDelay(delay, policy.JitterEnabled)
		logger.WithFields(logrus.Fields{
			"operation": operationName,
			"attempt":   attempt + 1,
			"delay":     wait,
			"error":     err.Error(),
		}).Warn("Operation failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt + 1, lastErr
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * policy.BackoffFactor)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return policy.MaxRetries + 1, lastErr
}

// calculateDelay adds up to 25% jitter either way.
func calculateDelay(base time.Duration, jitter bool) time.Duration {
	if !jitter || base <= 0 {
		return base
	}
	return base + time.Duration(float64(base)*0.25*(rand.Float64()*2-1))
}
