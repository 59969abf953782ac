package orchestrator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/genie-room/backend/internal/service/genie"
)

// RetryPolicy bounds how often a transient Genie failure is retried.
type RetryPolicy struct {
	// Attempts is the total number of calls, including the first.
	Attempts      int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter is the +/- fraction applied to each delay.
	Jitter float64
}

// DefaultRetryPolicy returns the production retry bound.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:      3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
		Jitter:        0.1,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 2
	}
	if p.MaxDelay > 0 && p.InitialDelay > p.MaxDelay {
		p.InitialDelay = p.MaxDelay
	}
	return p
}

// withRetry runs fn until it succeeds, fails with a non-transient error or
// the attempts run out.
func withRetry[T any](ctx context.Context, policy RetryPolicy, operation string, fn func(context.Context) (T, error)) (T, error) {
	policy = policy.normalized()

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("operation", operation).
					Int("attempt", attempt).
					Msg("genie call succeeded after retry")
			}
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !genie.IsTransient(err) {
			log.Debug().
				Err(err).
				Str("operation", operation).
				Int("attempt", attempt).
				Msg("non-retryable genie error")
			return zero, err
		}
		if attempt == policy.Attempts {
			break
		}

		delay := backoff(policy, attempt)
		log.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt).
			Int("max_attempts", policy.Attempts).
			Dur("retry_delay", delay).
			Msg("retrying genie call")

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", operation, policy.Attempts, lastErr)
}

func backoff(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.BackoffFactor, float64(attempt-1))
	if policy.MaxDelay > 0 && delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	if policy.Jitter > 0 {
		delay += delay * policy.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(delay)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
